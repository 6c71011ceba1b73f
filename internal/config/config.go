package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration for stamp, stored in
// ~/.stampclock/config.json. The file supports single-line // comments for
// documentation purposes.
type Config struct {
	Backend  BackendConfig `json:"backend"`
	Storage  StorageConfig `json:"storage"`
	Sync     SyncConfig    `json:"sync"`
	Daemon   DaemonConfig  `json:"daemon"`
	Timezone string        `json:"timezone"`
	LogLevel string        `json:"log_level"`
}

// BackendConfig locates the hosted backend.
type BackendConfig struct {
	// URL is the project base URL; REST and auth paths are derived from it.
	URL string `json:"url"`
	// APIKey is sent as the apikey header when set.
	APIKey   string `json:"api_key"`
	ClientID string `json:"client_id"`
	// Timeout bounds every backend request.
	Timeout Duration `json:"timeout"`
}

// StorageConfig selects the local durable store.
type StorageConfig struct {
	// Driver is "file" or "sqlite".
	Driver string `json:"driver"`
	// Path is a directory for "file" and a database file for "sqlite".
	// Relative paths are resolved against the config directory.
	Path string `json:"path"`
}

// SyncConfig tunes reachability probing and queue draining.
type SyncConfig struct {
	Debounce     Duration `json:"debounce"`
	PollInterval Duration `json:"poll_interval"`
	ProbeTimeout Duration `json:"probe_timeout"`
	// ProbeURL defaults to the backend health endpoint.
	ProbeURL string `json:"probe_url"`
}

// DaemonConfig configures `stamp daemon`.
type DaemonConfig struct {
	Listen string `json:"listen"`
}

// Duration is a time.Duration written as a string such as "1s" or "500ms".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\": %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

const (
	DefaultDriver       = "file"
	DefaultListen       = "127.0.0.1:7717"
	DefaultLogLevel     = "info"
	DefaultTimezone     = "Europe/Copenhagen"
	DefaultDebounce     = Duration(time.Second)
	DefaultPollInterval = Duration(15 * time.Second)
	DefaultProbeTimeout = Duration(5 * time.Second)
	DefaultTimeout      = Duration(15 * time.Second)
)

// defaultConfig is the zero Config with defaults filled in.
func defaultConfig() Config {
	var cfg Config
	cfg.fillDefaults()
	return cfg
}

// fillDefaults sets zero-value fields to the built-in defaults so callers
// always get a usable Config even if the file is only partially filled in.
func (c *Config) fillDefaults() {
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = DefaultTimeout
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DefaultDriver
	}
	if c.Sync.Debounce == 0 {
		c.Sync.Debounce = DefaultDebounce
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = DefaultPollInterval
	}
	if c.Sync.ProbeTimeout == 0 {
		c.Sync.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Daemon.Listen == "" {
		c.Daemon.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// configTemplate is written on first run. Its // lines are removed before
// parsing.
const configTemplate = `// stamp configuration - ~/.stampclock/config.json
//
// Set backend.url (and backend.api_key if your project requires one), then
// run: stamp login --email you@example.com
{
  "backend": {
    // Base URL of the hosted backend, e.g. "https://xyzcompany.supabase.co".
    "url": "",

    // Public API key sent with every request. Leave empty if not required.
    "api_key": "",

    // OAuth2 client id used for the password grant.
    "client_id": "",

    // Upper bound for a single backend request.
    "timeout": "15s"
  },

  "storage": {
    // "file"   - one JSON file per key in a directory (default)
    // "sqlite" - a single SQLite database
    "driver": "file",

    // Directory (file) or database file (sqlite). Relative paths are
    // resolved against ~/.stampclock. Empty picks "data" or "stampclock.db".
    "path": ""
  },

  "sync": {
    // Wait this long after the backend comes back before draining the queue.
    "debounce": "1s",

    // How often the daemon probes the backend.
    "poll_interval": "15s",
    "probe_timeout": "5s",

    // Probe URL. Empty uses <backend.url>/auth/v1/health.
    "probe_url": ""
  },

  "daemon": {
    // Address of the local status API started by: stamp daemon
    "listen": "127.0.0.1:7717"
  },

  // IANA timezone that decides what "today" and "now" mean.
  "timezone": "Europe/Copenhagen",

  // debug, info, warn or error. Overridden by --log-level.
  "log_level": "info"
}
`

// Dir returns ~/.stampclock.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".stampclock"), nil
}

// DefaultPath returns ~/.stampclock/config.json.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// StoragePath resolves the storage location against the directory holding
// the config file at configPath.
func (c Config) StoragePath(configPath string) string {
	p := c.Storage.Path
	if p == "" {
		p = "data"
		if c.Storage.Driver == "sqlite" {
			p = "stampclock.db"
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

// stripLineComments drops full-line // comments. A // after a value is left
// alone, so URLs survive.
func stripLineComments(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	kept := lines[:0]
	for _, line := range lines {
		if !bytes.HasPrefix(bytes.TrimSpace(line), []byte("//")) {
			kept = append(kept, line)
		}
	}
	return bytes.Join(kept, []byte("\n"))
}

// Load reads ~/.stampclock/config.json.
func Load() (Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return defaultConfig(), err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path, creating it with annotated defaults on
// first run.
func LoadFrom(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := writeDefault(path); werr != nil {
			slog.Warn("config template not written", "path", path, "error", werr)
		}
		return defaultConfig(), nil
	}
	if err != nil {
		return defaultConfig(), fmt.Errorf("config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(stripLineComments(data), &cfg); err != nil {
		return defaultConfig(), fmt.Errorf("config %s is not valid JSON: %w (remove it to get a fresh template)", path, err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(configTemplate), 0o600)
}
