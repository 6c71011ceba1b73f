package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Tiliavir/stampclock/internal/model"
	"github.com/Tiliavir/stampclock/internal/timecalc"
)

// Op is the kind of mutation an item replays.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Item is one pending mutation.
type Item struct {
	ID         string          `json:"id"`
	Op         Op              `json:"op"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt int64           `json:"enqueued_at"` // unix millis
}

// AddPayload creates an entry.
type AddPayload struct {
	OwnerID string `json:"user_id"`
	model.NewEntry
}

// UpdatePayload patches the entry ID.
type UpdatePayload struct {
	ID      string           `json:"id"`
	Updates model.EntryPatch `json:"updates"`
}

// DeletePayload deletes the entry ID.
type DeletePayload struct {
	ID string `json:"id"`
}

// TempIDPrefix starts the ids of queued adds. The same id names the
// placeholder entry handed out until the add is replayed.
const TempIDPrefix = string(OpAdd) + "_"

// IsTempID reports whether id names a placeholder entry.
func IsTempID(id string) bool { return strings.HasPrefix(id, TempIDPrefix) }

func newItem(op Op, payload any, now time.Time) (Item, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Item{}, fmt.Errorf("encoding %s payload: %w", op, err)
	}
	return Item{ID: timecalc.GenerateID(string(op), now), Op: op, Payload: raw}, nil
}

// NewAdd builds an add item. Its ID doubles as the placeholder entry id.
func NewAdd(ownerID string, e model.NewEntry, now time.Time) (Item, error) {
	return newItem(OpAdd, AddPayload{OwnerID: ownerID, NewEntry: e}, now)
}

// NewUpdate builds an update item.
func NewUpdate(id string, patch model.EntryPatch, now time.Time) (Item, error) {
	return newItem(OpUpdate, UpdatePayload{ID: id, Updates: patch}, now)
}

// NewDelete builds a delete item.
func NewDelete(id string, now time.Time) (Item, error) {
	return newItem(OpDelete, DeletePayload{ID: id}, now)
}

// EntryID returns the entry an update or delete targets.
func (it Item) EntryID() (string, error) {
	switch it.Op {
	case OpUpdate, OpDelete:
		var p DeletePayload // both payloads carry "id"
		if err := json.Unmarshal(it.Payload, &p); err != nil {
			return "", fmt.Errorf("decoding %s payload of %s: %w", it.Op, it.ID, err)
		}
		return p.ID, nil
	}
	return "", nil
}

// Placeholder is the optimistic entry shown for a queued add.
func (it Item) Placeholder() (model.Entry, error) {
	if it.Op != OpAdd {
		return model.Entry{}, fmt.Errorf("item %s is not an add", it.ID)
	}
	var p AddPayload
	if err := json.Unmarshal(it.Payload, &p); err != nil {
		return model.Entry{}, fmt.Errorf("decoding add payload of %s: %w", it.ID, err)
	}
	e := model.Entry{
		ID:        it.ID,
		OwnerID:   p.OwnerID,
		WorkDate:  p.WorkDate,
		StartTime: p.StartTime,
		EndTime:   p.EndTime,
	}
	if it.EnqueuedAt != 0 {
		ts := time.UnixMilli(it.EnqueuedAt).UTC().Format(time.RFC3339)
		e.CreatedAt, e.UpdatedAt = ts, ts
	}
	return e.WithTotal(), nil
}

// retarget points an update or delete at realID if it targets tempID.
func retarget(it Item, tempID, realID string) (Item, bool, error) {
	switch it.Op {
	case OpUpdate:
		var p UpdatePayload
		if err := json.Unmarshal(it.Payload, &p); err != nil {
			return it, false, err
		}
		if p.ID != tempID {
			return it, false, nil
		}
		p.ID = realID
		raw, err := json.Marshal(p)
		if err != nil {
			return it, false, err
		}
		it.Payload = raw
		return it, true, nil
	case OpDelete:
		var p DeletePayload
		if err := json.Unmarshal(it.Payload, &p); err != nil {
			return it, false, err
		}
		if p.ID != tempID {
			return it, false, nil
		}
		raw, err := json.Marshal(DeletePayload{ID: realID})
		if err != nil {
			return it, false, err
		}
		it.Payload = raw
		return it, true, nil
	}
	return it, false, nil
}
