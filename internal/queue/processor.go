package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Tiliavir/stampclock/internal/metrics"
	"github.com/Tiliavir/stampclock/internal/model"
)

// Replayer performs queued mutations against the backend.
type Replayer interface {
	CreateEntry(ctx context.Context, ownerID string, e model.NewEntry) (model.Entry, error)
	UpdateEntry(ctx context.Context, id string, patch model.EntryPatch) (model.Entry, error)
	DeleteEntry(ctx context.Context, id string) error
}

// Reconciliation reports that the placeholder TempID was created on the
// backend as Entry.
type Reconciliation struct {
	TempID string
	Entry  model.Entry
}

// DrainResult summarises one ProcessQueue call.
type DrainResult struct {
	Replayed  int
	Remaining int
	// Skipped is set when another drain was already in flight.
	Skipped bool
	// Err is the failure that halted the drain.
	Err error
}

// Processor drains a Queue in FIFO order, at most one drain at a time.
type Processor struct {
	queue   *Queue
	remote  Replayer
	logger  *slog.Logger
	metrics *metrics.Metrics

	running atomic.Bool

	onReconcile func(Reconciliation)
	onReplay    func(Item, *model.Entry)
}

// NewProcessor returns a Processor replaying q against r.
func NewProcessor(q *Queue, r Replayer, logger *slog.Logger, m *metrics.Metrics) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		queue:   q,
		remote:  r,
		logger:  logger.With("component", "queue-processor"),
		metrics: m,
	}
}

// OnReconcile registers fn to run after a queued add has been created on
// the backend. Register hooks before the first drain.
func (p *Processor) OnReconcile(fn func(Reconciliation)) { p.onReconcile = fn }

// OnReplay registers fn to run after each successfully replayed item. entry
// is nil for deletes.
func (p *Processor) OnReplay(fn func(Item, *model.Entry)) { p.onReplay = fn }

// Running reports whether a drain is in flight.
func (p *Processor) Running() bool { return p.running.Load() }

// ProcessQueue replays pending items oldest first. The first failure halts
// the drain and leaves that item and everything after it queued. A call
// made while another drain runs, in this process or another one sharing
// the store, returns immediately with Skipped set.
func (p *Processor) ProcessQueue(ctx context.Context) (res DrainResult) {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Debug("drain already in progress")
		p.metrics.ObserveDrain("skipped")
		return DrainResult{Skipped: true}
	}
	defer p.running.Store(false)

	release, ok, err := p.queue.claimDrain()
	if err != nil {
		p.logger.Error("could not claim drain", "error", err)
		p.metrics.ObserveDrain("halted")
		return DrainResult{Err: err, Remaining: p.queue.Len(ctx)}
	}
	if !ok {
		p.logger.Debug("another process is draining the queue")
		p.metrics.ObserveDrain("skipped")
		return DrainResult{Skipped: true}
	}
	defer release()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while draining queue", "panic", r)
			res.Err = fmt.Errorf("panic while draining queue: %v", r)
			res.Remaining = p.queue.Len(ctx)
			p.metrics.ObserveDrain("halted")
		}
	}()

	items := p.queue.PeekAll(ctx)
	if len(items) == 0 {
		p.metrics.ObserveDrain("empty")
		return res
	}
	p.logger.Info("draining queue", "items", len(items))

	for i := 0; i < len(items); i++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}
		it := items[i]

		entry, err := p.replay(ctx, it)
		if err != nil {
			p.metrics.ObserveReplay(string(it.Op), "error")
			p.logger.Warn("replay failed, halting drain", "op", it.Op, "id", it.ID, "error", err)
			res.Err = fmt.Errorf("replaying %s %s: %w", it.Op, it.ID, err)
			break
		}
		p.metrics.ObserveReplay(string(it.Op), "ok")

		if err := p.queue.Dequeue(ctx, it.ID); err != nil {
			p.logger.Error("replayed item could not be removed", "id", it.ID, "error", err)
			res.Err = err
			break
		}
		res.Replayed++

		if it.Op == OpAdd && entry != nil && IsTempID(it.ID) {
			p.reconcile(ctx, it.ID, *entry, items[i+1:])
		}
		if p.onReplay != nil {
			p.onReplay(it, entry)
		}
	}

	res.Remaining = p.queue.Len(ctx)
	switch {
	case res.Err != nil:
		p.metrics.ObserveDrain("halted")
	default:
		p.metrics.ObserveDrain("completed")
		p.logger.Info("queue drained", "replayed", res.Replayed, "remaining", res.Remaining)
	}
	return res
}

// reconcile points later items at the created entry, both in storage and in
// the snapshot being drained.
func (p *Processor) reconcile(ctx context.Context, tempID string, entry model.Entry, rest []Item) {
	n, err := p.queue.Retarget(ctx, tempID, entry.ID)
	if err != nil {
		p.logger.Error("error retargeting queued items", "temp_id", tempID, "id", entry.ID, "error", err)
	}
	for j := range rest {
		if next, ok, err := retarget(rest[j], tempID, entry.ID); err == nil && ok {
			rest[j] = next
		}
	}
	p.logger.Info("placeholder reconciled", "temp_id", tempID, "id", entry.ID, "retargeted", n)
	if p.onReconcile != nil {
		p.onReconcile(Reconciliation{TempID: tempID, Entry: entry})
	}
}

func (p *Processor) replay(ctx context.Context, it Item) (*model.Entry, error) {
	switch it.Op {
	case OpAdd:
		var pl AddPayload
		if err := json.Unmarshal(it.Payload, &pl); err != nil {
			return nil, fmt.Errorf("decoding payload: %w", err)
		}
		e, err := p.remote.CreateEntry(ctx, pl.OwnerID, pl.NewEntry)
		if err != nil {
			return nil, err
		}
		return &e, nil
	case OpUpdate:
		var pl UpdatePayload
		if err := json.Unmarshal(it.Payload, &pl); err != nil {
			return nil, fmt.Errorf("decoding payload: %w", err)
		}
		e, err := p.remote.UpdateEntry(ctx, pl.ID, pl.Updates)
		if err != nil {
			return nil, err
		}
		return &e, nil
	case OpDelete:
		var pl DeletePayload
		if err := json.Unmarshal(it.Payload, &pl); err != nil {
			return nil, fmt.Errorf("decoding payload: %w", err)
		}
		return nil, p.remote.DeleteEntry(ctx, pl.ID)
	}
	return nil, fmt.Errorf("unknown operation %q", it.Op)
}
