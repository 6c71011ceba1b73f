package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/stampclock/internal/config"
	"github.com/Tiliavir/stampclock/internal/remote"
)

var (
	cfgFile  string
	logLevel string

	cfg     config.Config
	cfgPath string
)

var rootCmd = &cobra.Command{
	Use:   "stamp",
	Short: "stamp - one-button time clock that keeps working offline",
	Long: `stamp records work sessions in a hosted backend with a single command.
When the backend cannot be reached, changes are queued in ~/.stampclock/ and
replayed in order once it is reachable again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfgPath = cfgFile
		if cfgPath == "" {
			if cfgPath, err = config.DefaultPath(); err != nil {
				return err
			}
		}
		if cfg, err = config.LoadFrom(cfgPath); err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		// One-shot commands only warn unless asked otherwise.
		initLogger(cfg.LogLevel, logLevel == "" && cmd.Name() != "daemon")
		return nil
	},
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.stampclock/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(daemonCmd)
}

// initLogger installs a text handler on stderr as the default logger. quiet
// raises the info level to warn.
func initLogger(level string, quiet bool) *slog.Logger {
	var l slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		l = slog.LevelDebug
	case "WARN", "WARNING":
		l = slog.LevelWarn
	case "ERROR":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	if l == slog.LevelInfo && quiet {
		l = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
	slog.SetDefault(logger)
	return logger
}

// storageError marks failures of the local store.
type storageError struct{ err error }

func (e storageError) Error() string { return e.err.Error() }
func (e storageError) Unwrap() error { return e.err }

// exitCode is 2 for storage and backend failures and 1 for everything else,
// bad input and missing sessions included.
func exitCode(err error) int {
	var se storageError
	switch {
	case errors.Is(err, remote.ErrNotAuthenticated):
		return 1
	case errors.As(err, &se), remote.IsNetwork(err), remote.IsRemote(err):
		return 2
	}
	return 1
}
