package tracker

import (
	"context"
	"fmt"

	"github.com/Tiliavir/stampclock/internal/model"
	"github.com/Tiliavir/stampclock/internal/remote"
	"github.com/Tiliavir/stampclock/internal/timecalc"
)

// Transition is what a stamp did to today's latest entry.
type Transition string

const (
	TransitionStarted    Transition = "started"
	TransitionEnded      Transition = "ended"
	TransitionEndUpdated Transition = "end_updated"
)

// Result describes a stamp.
type Result struct {
	Entry      model.Entry
	Message    string
	Transition Transition
	// Queued is set when the change waits in the offline queue.
	Queued bool
}

// StampToggle starts a session if today has none, ends the open one, or
// moves the end of the last closed one to now. The time is rounded by the
// user's rounding setting.
func (s *Service) StampToggle(ctx context.Context) (Result, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	today := timecalc.Today(now, s.loc)
	clock := s.roundedClock(ctx, timecalc.ClockTime(now, s.loc))

	latest, err := s.remote.FindLatestEntryForDate(ctx, owner, today)
	if err != nil {
		return Result{}, fmt.Errorf("looking up today's entry: %w", err)
	}

	var res Result
	switch {
	case latest == nil:
		res.Transition = TransitionStarted
		res.Message = "started at " + clock
		res.Entry, res.Queued, err = s.create(ctx, owner, model.NewEntry{WorkDate: today, StartTime: clock})
	case latest.Open():
		res.Transition = TransitionEnded
		res.Message = "ended at " + clock
		res.Entry, res.Queued, err = s.update(ctx, owner, *latest, model.EntryPatch{EndTime: model.StringPtr(clock)})
	default:
		res.Transition = TransitionEndUpdated
		res.Message = "end time updated to " + clock
		res.Entry, res.Queued, err = s.update(ctx, owner, *latest, model.EntryPatch{EndTime: model.StringPtr(clock)})
	}
	if err != nil && !res.Queued {
		return Result{}, err
	}

	s.metrics.ObserveStamp(string(res.Transition))
	s.logger.Info("stamp", "transition", res.Transition, "time", clock, "queued", res.Queued)
	if s.notifier != nil {
		if nerr := s.notifier.Notify(ctx, res.Message); nerr != nil {
			s.logger.Debug("notification failed", "error", nerr)
		}
	}
	return res, err
}

// roundedClock applies the rounding setting to hm. Without settings the
// time is used as is.
func (s *Service) roundedClock(ctx context.Context, hm string) string {
	st, err := s.Settings(ctx)
	if err != nil {
		s.logger.Warn("settings unavailable, stamping without rounding", "error", err)
		return hm
	}
	rounded, err := timecalc.RoundTimeString(hm, st.Rounding.Step())
	if err != nil {
		return hm
	}
	return rounded
}

// update patches entry, queueing on network failure. The returned entry is
// the backend's answer, or entry with the patch applied when queued.
func (s *Service) update(ctx context.Context, owner string, entry model.Entry, patch model.EntryPatch) (model.Entry, bool, error) {
	updated, err := s.remote.UpdateEntry(ctx, entry.ID, patch)
	if err == nil {
		s.invalidateMonth(ctx, owner, updated.WorkDate)
		return updated, false, nil
	}
	if !remote.IsNetwork(err) {
		return model.Entry{}, false, fmt.Errorf("updating entry %s: %w", entry.ID, err)
	}
	return s.queueUpdate(ctx, entry, patch, err)
}
