// Package tracker is the offline-aware front door to time entries: the stamp
// toggle, entry editing, month listings and settings.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tiliavir/stampclock/internal/cache"
	"github.com/Tiliavir/stampclock/internal/metrics"
	"github.com/Tiliavir/stampclock/internal/model"
	"github.com/Tiliavir/stampclock/internal/queue"
	"github.com/Tiliavir/stampclock/internal/remote"
	"github.com/Tiliavir/stampclock/internal/timecalc"
)

// ErrQueued is returned, together with the network error that caused it,
// when a change was stored in the offline queue instead of the backend.
var ErrQueued = errors.New("backend unreachable, change queued")

// Notifier gives user feedback after a stamp. Failures are ignored.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, message string) error

func (f NotifierFunc) Notify(ctx context.Context, message string) error { return f(ctx, message) }

// Deps are the collaborators of a Service. Remote, Session, Cache and Queue
// are required.
type Deps struct {
	Remote   remote.Store
	Session  remote.Session
	Cache    *cache.Cache
	Queue    *queue.Queue
	Notifier Notifier
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Service implements the user-level operations.
type Service struct {
	remote   remote.Store
	session  remote.Session
	cache    *cache.Cache
	queue    *queue.Queue
	notifier Notifier
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New returns a Service. A nil Location means the default reference zone.
func New(d Deps) (*Service, error) {
	loc := d.Location
	if loc == nil {
		var err error
		if loc, err = timecalc.LoadLocation(""); err != nil {
			return nil, err
		}
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		remote:   d.Remote,
		session:  d.Session,
		cache:    d.Cache,
		queue:    d.Queue,
		notifier: d.Notifier,
		loc:      loc,
		now:      now,
		logger:   logger.With("component", "tracker"),
		metrics:  d.Metrics,
	}, nil
}

// Location is the reference zone used for dates and clock times.
func (s *Service) Location() *time.Location { return s.loc }

// Attach wires the cache invalidation hooks into p.
func (s *Service) Attach(p *queue.Processor) {
	p.OnReplay(func(it queue.Item, entry *model.Entry) {
		ctx := context.Background()
		if entry != nil && entry.OwnerID != "" {
			s.cache.DeletePrefix(ctx, cache.UserEntriesPrefix(entry.OwnerID))
			return
		}
		// Deletes do not say whose entry they removed.
		s.cache.DeletePrefix(ctx, cache.EntriesPrefix)
	})
	p.OnReconcile(func(r queue.Reconciliation) {
		s.logger.Info("queued entry created", "temp_id", r.TempID, "id", r.Entry.ID, "date", r.Entry.WorkDate)
		s.invalidateMonth(context.Background(), r.Entry.OwnerID, r.Entry.WorkDate)
	})
}

func (s *Service) owner(ctx context.Context) (string, error) {
	owner, err := s.session.OwnerID(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving user: %w", err)
	}
	return owner, nil
}

func (s *Service) invalidateMonth(ctx context.Context, owner, date string) {
	month, err := timecalc.MonthKey(date)
	if err != nil {
		s.cache.DeletePrefix(ctx, cache.UserEntriesPrefix(owner))
		return
	}
	s.cache.Delete(ctx, cache.MonthEntriesKey(owner, month))
}

// enqueue stores it. cause is the failure that sent it to the queue.
func (s *Service) enqueue(ctx context.Context, it queue.Item, cause error) error {
	if err := s.queue.Enqueue(ctx, it); err != nil {
		return fmt.Errorf("queueing after %w failed: %w", cause, err)
	}
	s.logger.Info("change queued", "op", it.Op, "item", it.ID, "cause", cause)
	return nil
}

func queued(cause error) error { return fmt.Errorf("%w: %w", ErrQueued, cause) }

// Settings returns the user's settings, creating the defaults on the
// backend the first time.
func (s *Service) Settings(ctx context.Context) (model.Settings, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return model.Settings{}, err
	}
	key := cache.SettingsKey(owner)
	var st model.Settings
	if s.cache.Get(ctx, key, &st) {
		return st, nil
	}

	got, err := s.remote.GetSettings(ctx, owner)
	if err != nil {
		return model.Settings{}, fmt.Errorf("loading settings: %w", err)
	}
	if got == nil {
		created, err := s.remote.UpsertSettings(ctx, model.DefaultSettings(owner))
		if err != nil {
			return model.Settings{}, fmt.Errorf("creating default settings: %w", err)
		}
		got = &created
	}
	s.cache.Set(ctx, key, *got)
	return *got, nil
}

// UpdateSettings applies patch to the current settings and saves them.
func (s *Service) UpdateSettings(ctx context.Context, patch model.SettingsPatch) (model.Settings, error) {
	current, err := s.Settings(ctx)
	if err != nil {
		return model.Settings{}, err
	}
	next := patch.Apply(current)
	if err := next.Validate(); err != nil {
		return model.Settings{}, err
	}
	saved, err := s.remote.UpsertSettings(ctx, next)
	if err != nil {
		return model.Settings{}, fmt.Errorf("saving settings: %w", err)
	}
	s.cache.Set(ctx, cache.SettingsKey(saved.OwnerID), saved)
	return saved, nil
}

// Period is the rollover period containing now.
func (s *Service) Period(ctx context.Context) (timecalc.Period, error) {
	st, err := s.Settings(ctx)
	if err != nil {
		return timecalc.Period{}, err
	}
	return timecalc.CurrentPeriod(s.now().In(s.loc), st.RolloverDay, st.RolloverHour), nil
}

// SignOut forgets the user's cached data. The offline queue is kept.
func (s *Service) SignOut(ctx context.Context) error {
	owner, err := s.owner(ctx)
	if err != nil {
		return err
	}
	s.cache.Delete(ctx, cache.SettingsKey(owner))
	s.cache.DeletePrefix(ctx, cache.UserEntriesPrefix(owner))
	return nil
}
