// Package remote is the client side of the hosted backend that owns time
// entries and settings.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Tiliavir/stampclock/internal/model"
)

// Store is the contract the sync engine consumes. Every method fails with a
// *NetworkError when the backend cannot be reached and a *RemoteError when it
// rejects the request.
type Store interface {
	CreateEntry(ctx context.Context, ownerID string, e model.NewEntry) (model.Entry, error)
	UpdateEntry(ctx context.Context, id string, patch model.EntryPatch) (model.Entry, error)
	DeleteEntry(ctx context.Context, id string) error
	// FindLatestEntryForDate returns the entry of date with the latest start
	// time, or nil if the user has none that day.
	FindLatestEntryForDate(ctx context.Context, ownerID, date string) (*model.Entry, error)
	// GetSettings returns nil if the user has no settings row yet.
	GetSettings(ctx context.Context, ownerID string) (*model.Settings, error)
	UpsertSettings(ctx context.Context, s model.Settings) (model.Settings, error)
	// ListEntries returns entries with from <= work_date <= to, newest day
	// first and by start time within a day.
	ListEntries(ctx context.Context, ownerID, from, to string) ([]model.Entry, error)
}

// Session identifies the signed-in user.
type Session interface {
	// OwnerID works offline; it fails with ErrNotAuthenticated when nobody
	// is signed in.
	OwnerID(ctx context.Context) (string, error)
}

var (
	// ErrNotAuthenticated means there is no usable session.
	ErrNotAuthenticated = errors.New("not signed in")
	// ErrNotFound is wrapped by a RemoteError for a missing row.
	ErrNotFound = errors.New("not found")
)

// NetworkError means the request never got a usable answer from the backend.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: backend unreachable: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RemoteError means the backend answered and rejected the request.
type RemoteError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Op, e.Message, e.Status)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is, or wraps, a *NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsRemote reports whether err is, or wraps, a *RemoteError.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// unreachableStatus are gateway answers that mean the backend itself was
// not reached.
func unreachableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
