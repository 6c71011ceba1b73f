package queue_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/Tiliavir/stampclock/internal/kvstore"
	"github.com/Tiliavir/stampclock/internal/model"
	"github.com/Tiliavir/stampclock/internal/queue"
	"github.com/Tiliavir/stampclock/internal/remote"
	"github.com/Tiliavir/stampclock/internal/remote/remotetest"
)

func TestProcessQueueReplaysInOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)
	fake := remotetest.New()
	fake.Seed(model.Entry{ID: "e1", OwnerID: "u1", WorkDate: "2026-03-02", StartTime: "08:00"})
	fake.Seed(model.Entry{ID: "e2", OwnerID: "u1", WorkDate: "2026-03-02", StartTime: "13:00"})

	upd, _ := queue.NewUpdate("e1", model.EntryPatch{EndTime: model.StringPtr("12:00")}, t0)
	q.Enqueue(ctx, upd)
	q.Enqueue(ctx, mustDelete(t, "e2"))

	p := queue.NewProcessor(q, fake, quiet, nil)
	var replayed []queue.Op
	p.OnReplay(func(it queue.Item, _ *model.Entry) { replayed = append(replayed, it.Op) })

	res := p.ProcessQueue(ctx)
	if res.Err != nil || res.Replayed != 2 || res.Remaining != 0 {
		t.Fatalf("result = %+v", res)
	}
	calls := fake.Calls()
	if len(calls) != 2 || calls[0] != "update:e1" || calls[1] != "delete:e2" {
		t.Errorf("calls = %v", calls)
	}
	if len(replayed) != 2 || replayed[0] != queue.OpUpdate || replayed[1] != queue.OpDelete {
		t.Errorf("replay hook saw %v", replayed)
	}
	if e, _ := fake.Entry("e1"); e.Minutes() != 240 {
		t.Errorf("e1 = %+v", e)
	}
}

func TestProcessQueueHaltsOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)
	fake := remotetest.New()
	fake.Intercept = func(op, id string) error {
		if id == "bad" {
			return &remote.RemoteError{Op: op, Status: http.StatusBadRequest, Message: "rejected"}
		}
		return nil
	}

	a, b, c := mustDelete(t, "ok1"), mustDelete(t, "bad"), mustDelete(t, "ok2")
	for _, it := range []queue.Item{a, b, c} {
		q.Enqueue(ctx, it)
	}

	p := queue.NewProcessor(q, fake, quiet, nil)
	res := p.ProcessQueue(ctx)
	if res.Replayed != 1 || res.Remaining != 2 {
		t.Errorf("result = %+v", res)
	}
	if !remote.IsRemote(res.Err) {
		t.Errorf("Err = %v, want remote error", res.Err)
	}
	got := ids(q.PeekAll(ctx))
	if len(got) != 2 || got[0] != b.ID || got[1] != c.ID {
		t.Errorf("remaining = %v, want [%s %s]", got, b.ID, c.ID)
	}
	for _, call := range fake.Calls() {
		if call == "delete:ok2" {
			t.Error("item after the failure was attempted")
		}
	}
	if p.Running() {
		t.Error("in-flight flag not released after a halted drain")
	}

	// Next drain starts with the failed item again.
	fake.Intercept = nil
	if res := p.ProcessQueue(ctx); res.Replayed != 2 || res.Remaining != 0 {
		t.Errorf("second drain = %+v", res)
	}
}

func TestProcessQueueOfflineKeepsEverything(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)
	fake := remotetest.New()
	fake.SetOffline(true)
	q.Enqueue(ctx, mustDelete(t, "e1"))

	res := queue.NewProcessor(q, fake, quiet, nil).ProcessQueue(ctx)
	if !remote.IsNetwork(res.Err) || res.Remaining != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestProcessQueueIsNotReentrant(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)
	fake := remotetest.New()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fake.Intercept = func(op, id string) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}
	q.Enqueue(ctx, mustDelete(t, "e1"))

	p := queue.NewProcessor(q, fake, quiet, nil)
	done := make(chan queue.DrainResult)
	go func() { done <- p.ProcessQueue(ctx) }()

	<-entered
	if !p.Running() {
		t.Error("Running = false during a drain")
	}
	if res := p.ProcessQueue(ctx); !res.Skipped {
		t.Errorf("concurrent drain = %+v, want skipped", res)
	}
	close(release)

	if res := <-done; res.Replayed != 1 {
		t.Errorf("first drain = %+v", res)
	}
	if calls := fake.Calls(); len(calls) != 1 {
		t.Errorf("item replayed %d times: %v", len(calls), calls)
	}
}

func TestProcessQueueReconcilesPlaceholders(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)
	fake := remotetest.New()

	add, _ := queue.NewAdd("u1", model.NewEntry{WorkDate: "2026-03-02", StartTime: "09:00"}, t0)
	upd, _ := queue.NewUpdate(add.ID, model.EntryPatch{EndTime: model.StringPtr("17:00")}, t0)
	q.Enqueue(ctx, add)
	q.Enqueue(ctx, upd)

	p := queue.NewProcessor(q, fake, quiet, nil)
	var recs []queue.Reconciliation
	p.OnReconcile(func(r queue.Reconciliation) { recs = append(recs, r) })

	res := p.ProcessQueue(ctx)
	if res.Err != nil || res.Replayed != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(recs) != 1 || recs[0].TempID != add.ID || recs[0].Entry.ID != "srv-1" {
		t.Fatalf("reconciliations = %+v", recs)
	}
	e, ok := fake.Entry("srv-1")
	if !ok || e.Open() || *e.EndTime != "17:00" {
		t.Errorf("created entry = %+v", e)
	}
}

func TestProcessQueueStopsOnCancel(t *testing.T) {
	q, _ := newQueue(t)
	fake := remotetest.New()
	q.Enqueue(context.Background(), mustDelete(t, "e1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := queue.NewProcessor(q, fake, quiet, nil).ProcessQueue(ctx)
	if !errors.Is(res.Err, context.Canceled) || res.Remaining != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("calls after cancel = %v", fake.Calls())
	}
}

func TestProcessQueueEmpty(t *testing.T) {
	q, _ := newQueue(t)
	res := queue.NewProcessor(q, remotetest.New(), quiet, nil).ProcessQueue(context.Background())
	if res != (queue.DrainResult{}) {
		t.Errorf("empty drain = %+v", res)
	}
}

func TestProcessQueueSkipsWhileAnotherProcessDrains(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	open := func() *queue.Queue {
		s, err := kvstore.NewFileStore(dir)
		if err != nil {
			t.Fatal(err)
		}
		return queue.New(s, quiet, nil)
	}
	qa, qb := open(), open()
	qa.Enqueue(ctx, mustDelete(t, "e1"))

	fake := remotetest.New()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fake.Intercept = func(op, id string) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}

	done := make(chan queue.DrainResult)
	go func() { done <- queue.NewProcessor(qa, fake, quiet, nil).ProcessQueue(ctx) }()
	<-entered

	if res := queue.NewProcessor(qb, fake, quiet, nil).ProcessQueue(ctx); !res.Skipped {
		t.Errorf("second process drain = %+v, want skipped", res)
	}
	close(release)
	if res := <-done; res.Replayed != 1 {
		t.Errorf("first drain = %+v", res)
	}
	if calls := fake.Calls(); len(calls) != 1 {
		t.Errorf("item replayed %d times: %v", len(calls), calls)
	}
}

func TestReplayedPlaceholderStaysResolvable(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)
	fake := remotetest.New()
	add, _ := queue.NewAdd("u1", model.NewEntry{WorkDate: "2026-03-02", StartTime: "09:00"}, t0)
	q.Enqueue(ctx, add)

	p := queue.NewProcessor(q, fake, quiet, nil)
	if res := p.ProcessQueue(ctx); res.Replayed != 1 {
		t.Fatalf("drain = %+v", res)
	}

	// A later change to the placeholder reaches the created entry.
	upd, _ := queue.NewUpdate(add.ID, model.EntryPatch{EndTime: model.StringPtr("11:30")}, t0)
	if err := q.Enqueue(ctx, upd); err != nil {
		t.Fatal(err)
	}
	if res := p.ProcessQueue(ctx); res.Err != nil || res.Replayed != 1 {
		t.Fatalf("second drain = %+v", res)
	}
	if e, _ := fake.Entry("srv-1"); e.Open() || *e.EndTime != "11:30" {
		t.Errorf("entry = %+v", e)
	}
}
