// Package queue holds mutations that could not reach the backend and
// replays them, oldest first, once it is reachable again.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tiliavir/stampclock/internal/kvstore"
	"github.com/Tiliavir/stampclock/internal/metrics"
)

// Key is where the queue is persisted, as one JSON array.
const Key = "ts:queue"

// corruptKey keeps an undecodable queue for manual recovery.
const corruptKey = Key + ".corrupt"

// aliasKey maps replayed placeholders to the ids the backend assigned.
const aliasKey = Key + ".aliases"

// maxAliases bounds aliasKey; the oldest mappings go first.
const maxAliases = 200

// Store lock names.
const (
	lockQueue = "queue"
	lockDrain = "drain"
)

// ErrUnknownPlaceholder is returned for a change aimed at a placeholder id
// that is neither queued nor known to have been created.
var ErrUnknownPlaceholder = errors.New("unknown placeholder entry")

// Alias records that the placeholder TempID became entry ID.
type Alias struct {
	TempID string `json:"temp_id"`
	ID     string `json:"id"`
}

// Queue is a durable FIFO list of items. Every read-modify-write cycle runs
// under the store's queue lock, so several processes may share one store.
type Queue struct {
	store   kvstore.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu sync.Mutex
}

// New returns a Queue persisted in store. logger and m may be nil.
func New(store kvstore.Store, logger *slog.Logger, m *metrics.Metrics) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:   store,
		logger:  logger.With("component", "queue"),
		metrics: m,
		now:     time.Now,
	}
}

// load reads the persisted list. A list that cannot be decoded is moved
// aside and read as empty.
func (q *Queue) load(ctx context.Context) ([]Item, error) {
	data, ok, err := q.store.Get(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("reading queue: %w", err)
	}
	if !ok || len(data) == 0 {
		return []Item{}, nil
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		q.logger.Error("queue is corrupt, moving it aside", "backup_key", corruptKey, "error", err)
		if err := q.store.Set(ctx, corruptKey, data); err != nil {
			return nil, fmt.Errorf("backing up corrupt queue: %w", err)
		}
		if err := q.store.Delete(ctx, Key); err != nil {
			return nil, fmt.Errorf("removing corrupt queue: %w", err)
		}
		return []Item{}, nil
	}
	return items, nil
}

// lock serialises access within the process and across processes.
func (q *Queue) lock(ctx context.Context) (func(), error) {
	q.mu.Lock()
	unlock, err := q.store.Lock(ctx, lockQueue)
	if err != nil {
		q.mu.Unlock()
		return nil, fmt.Errorf("locking queue: %w", err)
	}
	return func() {
		unlock()
		q.mu.Unlock()
	}, nil
}

// claimDrain takes the store-wide drain lock without waiting.
func (q *Queue) claimDrain() (release func(), ok bool, err error) {
	release, ok, err = q.store.TryLock(lockDrain)
	if err != nil {
		return nil, false, fmt.Errorf("claiming drain: %w", err)
	}
	return release, ok, nil
}

func (q *Queue) loadAliases(ctx context.Context) []Alias {
	data, ok, err := q.store.Get(ctx, aliasKey)
	if err != nil || !ok {
		return nil
	}
	var aliases []Alias
	if err := json.Unmarshal(data, &aliases); err != nil {
		q.logger.Warn("dropping undecodable placeholder aliases", "error", err)
		return nil
	}
	return aliases
}

func lookupAlias(aliases []Alias, tempID string) (string, bool) {
	for i := len(aliases) - 1; i >= 0; i-- {
		if aliases[i].TempID == tempID {
			return aliases[i].ID, true
		}
	}
	return "", false
}

func hasAdd(items []Item, id string) bool {
	for _, it := range items {
		if it.ID == id && it.Op == OpAdd {
			return true
		}
	}
	return false
}

func (q *Queue) save(ctx context.Context, items []Item) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding queue: %w", err)
	}
	if err := q.store.Set(ctx, Key, data); err != nil {
		return fmt.Errorf("writing queue: %w", err)
	}
	q.metrics.SetQueueDepth(len(items))
	return nil
}

// Enqueue appends item, stamping EnqueuedAt. The item is durable when
// Enqueue returns nil; on error nothing was written.
//
// An update or delete of a placeholder whose add has already been replayed
// is pointed at the created entry. One whose add is neither queued nor
// replayed fails with ErrUnknownPlaceholder.
func (q *Queue) Enqueue(ctx context.Context, item Item) error {
	unlock, err := q.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	items, err := q.load(ctx)
	if err != nil {
		return err
	}
	target, err := item.EntryID()
	if err != nil {
		return err
	}
	if IsTempID(target) && !hasAdd(items, target) {
		realID, ok := lookupAlias(q.loadAliases(ctx), target)
		if !ok {
			return fmt.Errorf("%s of %s: %w", item.Op, target, ErrUnknownPlaceholder)
		}
		if item, _, err = retarget(item, target, realID); err != nil {
			return err
		}
	}
	item.EnqueuedAt = q.now().UnixMilli()
	if err := q.save(ctx, append(items, item)); err != nil {
		return err
	}
	q.metrics.ObserveEnqueue(string(item.Op))
	q.logger.Info("enqueued operation", "op", item.Op, "id", item.ID)
	return nil
}

// Dequeue removes the item with id wherever it is. Removing an unknown id
// is not an error.
func (q *Queue) Dequeue(ctx context.Context, id string) error {
	unlock, err := q.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	items, err := q.load(ctx)
	if err != nil {
		return err
	}
	kept := items[:0]
	for _, it := range items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(items) {
		return nil
	}
	if err := q.save(ctx, kept); err != nil {
		return err
	}
	q.logger.Debug("dequeued operation", "id", id)
	return nil
}

// PeekAll returns a snapshot in insertion order. Storage failures are
// logged and read as an empty queue.
func (q *Queue) PeekAll(ctx context.Context) []Item {
	unlock, err := q.lock(ctx)
	if err != nil {
		q.logger.Error("error reading queue", "error", err)
		return []Item{}
	}
	defer unlock()

	items, err := q.load(ctx)
	if err != nil {
		q.logger.Error("error reading queue", "error", err)
		return []Item{}
	}
	q.metrics.SetQueueDepth(len(items))
	return items
}

// Len is the number of pending items.
func (q *Queue) Len(ctx context.Context) int { return len(q.PeekAll(ctx)) }

// Clear drops every pending item.
func (q *Queue) Clear(ctx context.Context) error {
	unlock, err := q.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := q.store.Delete(ctx, Key); err != nil {
		return fmt.Errorf("clearing queue: %w", err)
	}
	q.metrics.SetQueueDepth(0)
	q.logger.Info("queue cleared")
	return nil
}

// Retarget rewrites pending updates and deletes of the placeholder tempID to
// target realID, returning how many items changed. The mapping is kept so
// changes made to the placeholder later still reach the entry.
func (q *Queue) Retarget(ctx context.Context, tempID, realID string) (int, error) {
	unlock, err := q.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	aliases := append(q.loadAliases(ctx), Alias{TempID: tempID, ID: realID})
	if len(aliases) > maxAliases {
		aliases = aliases[len(aliases)-maxAliases:]
	}
	data, err := json.Marshal(aliases)
	if err != nil {
		return 0, fmt.Errorf("encoding aliases: %w", err)
	}
	if err := q.store.Set(ctx, aliasKey, data); err != nil {
		return 0, fmt.Errorf("writing aliases: %w", err)
	}

	items, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for i, it := range items {
		next, ok, err := retarget(it, tempID, realID)
		if err != nil {
			q.logger.Warn("skipping undecodable item while retargeting", "id", it.ID, "error", err)
			continue
		}
		if ok {
			items[i] = next
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := q.save(ctx, items); err != nil {
		return 0, err
	}
	return changed, nil
}

// Resolve returns the entry id a replayed placeholder became.
func (q *Queue) Resolve(ctx context.Context, tempID string) (string, bool) {
	unlock, err := q.lock(ctx)
	if err != nil {
		q.logger.Error("error reading aliases", "error", err)
		return "", false
	}
	defer unlock()
	return lookupAlias(q.loadAliases(ctx), tempID)
}

// Pending reports whether the add that created placeholder id is still
// queued, and returns it.
func (q *Queue) Pending(ctx context.Context, id string) (Item, bool) {
	for _, it := range q.PeekAll(ctx) {
		if it.ID == id && it.Op == OpAdd {
			return it, true
		}
	}
	return Item{}, false
}
