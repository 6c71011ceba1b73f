package kvstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const fileSuffix = ".json"

// FileStore keeps one file per key in a directory. File names are the
// base64url-encoded key so any key is a valid name.
type FileStore struct {
	fileLocks

	dir string
	mu  sync.RWMutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage error creating directory %s: %w", dir, err)
	}
	return &FileStore{
		fileLocks: fileLocks{base: dir + string(os.PathSeparator)},
		dir:       dir,
	}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, base64.RawURLEncoding.EncodeToString([]byte(key))+fileSuffix)
}

// Get reads the file for key.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage error reading %q: %w", key, err)
	}
	return data, true, nil
}

// Set atomically replaces the file for key: write to a temp file, then rename.
func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("storage error writing temp file: %w", err)
	}
	if _, err := f.Write(value); err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error renaming temp file: %w", err)
	}
	return nil
}

// Delete removes the file for key.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage error deleting %q: %w", key, err)
	}
	return nil
}

// Keys decodes the file names in the directory.
func (s *FileStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("storage error listing %s: %w", s.dir, err)
	}
	var keys []string
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		if key := string(raw); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
