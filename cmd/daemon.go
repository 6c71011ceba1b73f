package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/stampclock/internal/connectivity"
	"github.com/Tiliavir/stampclock/internal/metrics"
	"github.com/Tiliavir/stampclock/internal/remote"
	"github.com/Tiliavir/stampclock/internal/server"
	"github.com/Tiliavir/stampclock/internal/tracker"
)

var daemonListen string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the local API and replay queued changes when online",
	Long: `Run in the foreground. The daemon watches backend reachability,
replays queued changes when it comes back and serves a small HTTP API
(/health, /metrics, /queue, /stamp) on the listen address.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonListen, "listen", "", "listen address (default daemon.listen from config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	notifier := tracker.NotifierFunc(func(_ context.Context, message string) error {
		// The daemon has no desktop; the log line is the notification.
		slog.Info("stamp", "message", message)
		return nil
	})
	a, err := openApp(m, notifier)
	if err != nil {
		return err
	}
	defer a.Close()

	probeURL := cfg.Sync.ProbeURL
	if probeURL == "" {
		probeURL = remote.HealthURL(cfg.Backend.URL)
	}
	probe := connectivity.NewHTTPProbe(probeURL, cfg.Sync.PollInterval.D(), cfg.Sync.ProbeTimeout.D(), a.logger)
	mon := connectivity.NewMonitor(probe, a.processor, cfg.Sync.Debounce.D(), a.logger, m)
	stopMonitor := mon.Start(ctx)
	defer stopMonitor()

	addr := daemonListen
	if addr == "" {
		addr = cfg.Daemon.Listen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler: server.New(server.Config{
			Tracker:   a.tracker,
			Queue:     a.queue,
			Processor: a.processor,
			Monitor:   mon,
			Metrics:   m,
			Logger:    a.logger,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("daemon listening", "addr", ln.Addr().String(), "probe", probeURL)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	return srv.Shutdown(shutdownCtx)
}
