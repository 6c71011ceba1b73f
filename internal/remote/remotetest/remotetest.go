// Package remotetest provides an in-memory remote.Store with failure
// injection for tests.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/Tiliavir/stampclock/internal/model"
	"github.com/Tiliavir/stampclock/internal/remote"
)

// Operation names passed to Intercept and recorded in Calls.
const (
	OpCreate       = "create"
	OpUpdate       = "update"
	OpDelete       = "delete"
	OpFindLatest   = "find_latest"
	OpGetSettings  = "get_settings"
	OpSaveSettings = "save_settings"
	OpList         = "list"
)

// ErrOffline is wrapped in the NetworkError returned while offline.
var ErrOffline = errors.New("connection refused")

// Store is a thread-safe fake backend.
type Store struct {
	mu       sync.Mutex
	entries  map[string]model.Entry
	settings map[string]model.Settings
	nextID   int
	offline  bool
	calls    []string

	// Intercept, when set, runs before every operation with the operation
	// name and the entry id it targets (empty for creates and reads). A
	// non-nil error is returned instead of performing the operation. It is
	// called without the store lock held, so it may block.
	Intercept func(op, id string) error
}

// New returns an empty fake.
func New() *Store {
	return &Store{
		entries:  map[string]model.Entry{},
		settings: map[string]model.Settings{},
	}
}

// SetOffline makes every operation fail with a network error.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// Calls returns the operations performed (or attempted) so far, in order,
// as "op" or "op:id".
func (s *Store) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Seed stores e as is.
func (s *Store) Seed(e model.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e.WithTotal()
}

// SeedSettings stores settings as is.
func (s *Store) SeedSettings(st model.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[st.OwnerID] = st
}

// Entry returns the stored entry with id.
func (s *Store) Entry(id string) (model.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// Entries returns all stored entries sorted by date then start time.
func (s *Store) Entries() []model.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WorkDate != out[j].WorkDate {
			return out[i].WorkDate < out[j].WorkDate
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (s *Store) begin(op, id string) error {
	s.mu.Lock()
	call := op
	if id != "" {
		call += ":" + id
	}
	s.calls = append(s.calls, call)
	offline := s.offline
	intercept := s.Intercept
	s.mu.Unlock()

	if offline {
		return &remote.NetworkError{Op: op, Err: ErrOffline}
	}
	if intercept != nil {
		return intercept(op, id)
	}
	return nil
}

func notFound(op, id string) error {
	return &remote.RemoteError{Op: op, Status: http.StatusNotFound, Message: fmt.Sprintf("entry %s not found", id), Err: remote.ErrNotFound}
}

// CreateEntry implements remote.Store.
func (s *Store) CreateEntry(_ context.Context, ownerID string, e model.NewEntry) (model.Entry, error) {
	if err := s.begin(OpCreate, ""); err != nil {
		return model.Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	entry := model.Entry{
		ID:        fmt.Sprintf("srv-%d", s.nextID),
		OwnerID:   ownerID,
		WorkDate:  e.WorkDate,
		StartTime: e.StartTime,
	}
	if e.EndTime != nil && *e.EndTime != "" {
		end := *e.EndTime
		entry.EndTime = &end
	}
	entry = entry.WithTotal()
	s.entries[entry.ID] = entry
	return entry, nil
}

// UpdateEntry implements remote.Store.
func (s *Store) UpdateEntry(_ context.Context, id string, patch model.EntryPatch) (model.Entry, error) {
	if err := s.begin(OpUpdate, id); err != nil {
		return model.Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return model.Entry{}, notFound(OpUpdate, id)
	}
	e = patch.Apply(e)
	s.entries[id] = e
	return e, nil
}

// DeleteEntry implements remote.Store.
func (s *Store) DeleteEntry(_ context.Context, id string) error {
	if err := s.begin(OpDelete, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// FindLatestEntryForDate implements remote.Store.
func (s *Store) FindLatestEntryForDate(_ context.Context, ownerID, date string) (*model.Entry, error) {
	if err := s.begin(OpFindLatest, ""); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *model.Entry
	for _, e := range s.entries {
		if e.OwnerID != ownerID || e.WorkDate != date {
			continue
		}
		if latest == nil || e.StartTime > latest.StartTime {
			e := e
			latest = &e
		}
	}
	return latest, nil
}

// ListEntries implements remote.Store.
func (s *Store) ListEntries(_ context.Context, ownerID, from, to string) ([]model.Entry, error) {
	if err := s.begin(OpList, ""); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Entry
	for _, e := range s.entries {
		if e.OwnerID == ownerID && e.WorkDate >= from && e.WorkDate <= to {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WorkDate != out[j].WorkDate {
			return out[i].WorkDate > out[j].WorkDate
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

// GetSettings implements remote.Store.
func (s *Store) GetSettings(_ context.Context, ownerID string) (*model.Settings, error) {
	if err := s.begin(OpGetSettings, ""); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.settings[ownerID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// UpsertSettings implements remote.Store.
func (s *Store) UpsertSettings(_ context.Context, st model.Settings) (model.Settings, error) {
	if err := s.begin(OpSaveSettings, ""); err != nil {
		return model.Settings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[st.OwnerID] = st
	return st, nil
}

// Session is a fixed remote.Session; the empty Session is signed out.
type Session string

// OwnerID implements remote.Session.
func (s Session) OwnerID(context.Context) (string, error) {
	if s == "" {
		return "", remote.ErrNotAuthenticated
	}
	return string(s), nil
}
