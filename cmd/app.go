package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Tiliavir/stampclock/internal/cache"
	"github.com/Tiliavir/stampclock/internal/kvstore"
	"github.com/Tiliavir/stampclock/internal/metrics"
	"github.com/Tiliavir/stampclock/internal/queue"
	"github.com/Tiliavir/stampclock/internal/remote"
	"github.com/Tiliavir/stampclock/internal/timecalc"
	"github.com/Tiliavir/stampclock/internal/tracker"
)

// app bundles the components a command works with.
type app struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	store     kvstore.Store
	auth      *remote.Auth
	queue     *queue.Queue
	processor *queue.Processor
	tracker   *tracker.Service
}

// authFor returns the session manager for the configured backend.
func authFor() (*remote.Auth, error) {
	if cfg.Backend.URL == "" {
		return nil, fmt.Errorf("backend.url is not set in %s", cfgPath)
	}
	tokenPath := remote.TokenFilePath(filepath.Dir(cfgPath))
	return remote.NewAuth(cfg.Backend.URL, cfg.Backend.ClientID, tokenPath, nil, slog.Default()), nil
}

// openApp wires the components from the loaded config. m may be nil.
func openApp(m *metrics.Metrics, notifier tracker.Notifier) (*app, error) {
	auth, err := authFor()
	if err != nil {
		return nil, err
	}
	loc, err := timecalc.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	store, err := kvstore.Open(cfg.Storage.Driver, cfg.StoragePath(cfgPath))
	if err != nil {
		if errors.Is(err, kvstore.ErrUnknownDriver) {
			return nil, err
		}
		return nil, storageError{fmt.Errorf("opening local store: %w", err)}
	}

	client := remote.NewClient(cfg.Backend.URL, cfg.Backend.APIKey, auth, cfg.Backend.Timeout.D())
	a, err := assemble(store, client, auth, loc, m, notifier)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.auth = auth
	return a, nil
}

// assemble builds the queue, processor and tracker around an opened store
// and backend.
func assemble(store kvstore.Store, backend remote.Store, session remote.Session, loc *time.Location, m *metrics.Metrics, notifier tracker.Notifier) (*app, error) {
	logger := slog.Default()
	q := queue.New(store, logger, m)
	p := queue.NewProcessor(q, backend, logger, m)
	svc, err := tracker.New(tracker.Deps{
		Remote:   backend,
		Session:  session,
		Cache:    cache.New(store, logger),
		Queue:    q,
		Notifier: notifier,
		Location: loc,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		return nil, err
	}
	svc.Attach(p)

	return &app{
		logger:    logger,
		metrics:   m,
		store:     store,
		queue:     q,
		processor: p,
		tracker:   svc,
	}, nil
}

func (a *app) Close() error { return a.store.Close() }

// flush replays pending changes before a command talks to the backend, so
// it sees the latest state. Failures leave the queue for the next attempt.
func (a *app) flush(ctx context.Context) {
	if a.queue.Len(ctx) == 0 {
		return
	}
	res := a.processor.ProcessQueue(ctx)
	if res.Err != nil && !remote.IsNetwork(res.Err) {
		a.logger.Warn("could not replay queued changes", "remaining", res.Remaining, "error", res.Err)
	}
}

// openCommandApp opens the app for one-shot commands.
var openCommandApp = func() (*app, error) { return openApp(nil, nil) }

// withApp opens the app, runs fn and closes it again.
func withApp(fn func(ctx context.Context, a *app) error) error {
	a, err := openCommandApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(context.Background(), a)
}
