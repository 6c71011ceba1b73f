package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tiliavir/stampclock/internal/cache"
	"github.com/Tiliavir/stampclock/internal/model"
	"github.com/Tiliavir/stampclock/internal/queue"
	"github.com/Tiliavir/stampclock/internal/remote"
	"github.com/Tiliavir/stampclock/internal/timecalc"
)

// errNoNetwork stands in for the network error when a change targets an
// entry that only exists in the queue.
var errNoNetwork = errors.New("entry not yet created on the backend")

// AddEntry creates an entry. When the backend is unreachable the entry is
// queued and a placeholder whose ID is the queue item id is returned along
// with an error wrapping ErrQueued.
func (s *Service) AddEntry(ctx context.Context, e model.NewEntry) (model.Entry, error) {
	if err := e.Validate(); err != nil {
		return model.Entry{}, err
	}
	owner, err := s.owner(ctx)
	if err != nil {
		return model.Entry{}, err
	}
	entry, _, err := s.create(ctx, owner, e)
	return entry, err
}

func (s *Service) create(ctx context.Context, owner string, e model.NewEntry) (model.Entry, bool, error) {
	created, err := s.remote.CreateEntry(ctx, owner, e)
	if err == nil {
		s.invalidateMonth(ctx, owner, created.WorkDate)
		return created, false, nil
	}
	if !remote.IsNetwork(err) {
		return model.Entry{}, false, fmt.Errorf("creating entry: %w", err)
	}

	it, qerr := queue.NewAdd(owner, e, s.now())
	if qerr != nil {
		return model.Entry{}, false, qerr
	}
	placeholder, qerr := it.Placeholder()
	if qerr != nil {
		return model.Entry{}, false, qerr
	}
	if qerr := s.enqueue(ctx, it, err); qerr != nil {
		return model.Entry{}, false, qerr
	}
	return placeholder, true, queued(err)
}

// UpdateEntry patches the entry id. Placeholders of queued adds are updated
// through the queue.
func (s *Service) UpdateEntry(ctx context.Context, id string, patch model.EntryPatch) (model.Entry, error) {
	if patch.Empty() {
		return model.Entry{}, errors.New("nothing to update")
	}
	if err := patch.Validate(); err != nil {
		return model.Entry{}, err
	}
	owner, err := s.owner(ctx)
	if err != nil {
		return model.Entry{}, err
	}

	if queue.IsTempID(id) {
		if it, ok := s.queue.Pending(ctx, id); ok {
			base, err := it.Placeholder()
			if err != nil {
				return model.Entry{}, err
			}
			entry, _, err := s.queueUpdate(ctx, base, patch, errNoNetwork)
			return entry, err
		}
		realID, err := s.resolve(ctx, id)
		if err != nil {
			return model.Entry{}, fmt.Errorf("updating entry %s: %w", id, err)
		}
		id = realID
	}

	updated, err := s.remote.UpdateEntry(ctx, id, patch)
	if err == nil {
		if patch.WorkDate != nil {
			// The old month is unknown.
			s.cache.DeletePrefix(ctx, cache.UserEntriesPrefix(owner))
		} else {
			s.invalidateMonth(ctx, owner, updated.WorkDate)
		}
		return updated, nil
	}
	if !remote.IsNetwork(err) {
		return model.Entry{}, fmt.Errorf("updating entry %s: %w", id, err)
	}
	entry, _, err := s.queueUpdate(ctx, s.cachedEntry(ctx, owner, id), patch, err)
	return entry, err
}

// queueUpdate queues patch for entry and returns entry with the patch
// applied.
func (s *Service) queueUpdate(ctx context.Context, entry model.Entry, patch model.EntryPatch, cause error) (model.Entry, bool, error) {
	it, err := queue.NewUpdate(entry.ID, patch, s.now())
	if err != nil {
		return model.Entry{}, false, err
	}
	if err := s.enqueue(ctx, it, cause); err != nil {
		return model.Entry{}, false, err
	}
	return patch.Apply(entry), true, queued(cause)
}

// DeleteEntry deletes the entry id, queueing on network failure.
func (s *Service) DeleteEntry(ctx context.Context, id string) error {
	owner, err := s.owner(ctx)
	if err != nil {
		return err
	}

	if queue.IsTempID(id) {
		if _, ok := s.queue.Pending(ctx, id); !ok {
			realID, err := s.resolve(ctx, id)
			if err != nil {
				return fmt.Errorf("deleting entry %s: %w", id, err)
			}
			id = realID
		}
	}

	cause := errNoNetwork
	if !queue.IsTempID(id) {
		err := s.remote.DeleteEntry(ctx, id)
		if err == nil {
			s.cache.DeletePrefix(ctx, cache.UserEntriesPrefix(owner))
			return nil
		}
		if !remote.IsNetwork(err) {
			return fmt.Errorf("deleting entry %s: %w", id, err)
		}
		cause = err
	}

	it, err := queue.NewDelete(id, s.now())
	if err != nil {
		return err
	}
	if err := s.enqueue(ctx, it, cause); err != nil {
		return err
	}
	return queued(cause)
}

// resolve maps a placeholder whose add was replayed to the created entry.
func (s *Service) resolve(ctx context.Context, tempID string) (string, error) {
	if id, ok := s.queue.Resolve(ctx, tempID); ok {
		return id, nil
	}
	return "", remote.ErrNotFound
}

// cachedEntry looks id up in the user's cached months. Without a hit only
// the id and owner are known.
func (s *Service) cachedEntry(ctx context.Context, owner, id string) model.Entry {
	for _, key := range s.cache.Keys(ctx, cache.UserEntriesPrefix(owner)) {
		var entries []model.Entry
		if !s.cache.Get(ctx, key, &entries) {
			continue
		}
		for _, e := range entries {
			if e.ID == id {
				return e
			}
		}
	}
	return model.Entry{ID: id, OwnerID: owner}
}

// ListMonth returns the backend entries of month (YYYY-MM), from the cache
// when possible.
func (s *Service) ListMonth(ctx context.Context, month string) ([]model.Entry, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	key := cache.MonthEntriesKey(owner, month)
	var entries []model.Entry
	if s.cache.Get(ctx, key, &entries) {
		return entries, nil
	}

	from, to, err := timecalc.MonthRange(month)
	if err != nil {
		return nil, err
	}
	entries, err = s.remote.ListEntries(ctx, owner, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", month, err)
	}
	if entries == nil {
		entries = []model.Entry{}
	}
	s.cache.Set(ctx, key, entries)
	return entries, nil
}

// ListRange returns the backend entries with from <= date <= to.
func (s *Service) ListRange(ctx context.Context, from, to string) ([]model.Entry, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.remote.ListEntries(ctx, owner, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing %s..%s: %w", from, to, err)
	}
	return entries, nil
}

// PendingForMonth returns placeholders of queued adds dated in month.
func (s *Service) PendingForMonth(ctx context.Context, month string) []model.Entry {
	var out []model.Entry
	for _, it := range s.queue.PeekAll(ctx) {
		if it.Op != queue.OpAdd {
			continue
		}
		e, err := it.Placeholder()
		if err != nil {
			s.logger.Warn("skipping undecodable queued add", "id", it.ID, "error", err)
			continue
		}
		if m, err := timecalc.MonthKey(e.WorkDate); err == nil && m == month {
			out = append(out, e)
		}
	}
	return out
}
