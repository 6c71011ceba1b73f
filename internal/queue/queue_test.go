package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Tiliavir/stampclock/internal/kvstore"
	"github.com/Tiliavir/stampclock/internal/model"
	"github.com/Tiliavir/stampclock/internal/queue"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newQueue(t *testing.T) (*queue.Queue, kvstore.Store) {
	t.Helper()
	s, err := kvstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return queue.New(s, quiet, nil), s
}

func mustDelete(t *testing.T, id string) queue.Item {
	t.Helper()
	it, err := queue.NewDelete(id, t0)
	if err != nil {
		t.Fatal(err)
	}
	return it
}

func ids(items []queue.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestEnqueuePreservesOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	var want []string
	for _, id := range []string{"e1", "e2", "e3"} {
		it := mustDelete(t, id)
		if err := q.Enqueue(ctx, it); err != nil {
			t.Fatal(err)
		}
		want = append(want, it.ID)
	}

	got := q.PeekAll(ctx)
	if len(got) != 3 {
		t.Fatalf("PeekAll returned %d items, want 3", len(got))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("item %d = %s, want %s", i, got[i].ID, want[i])
		}
		if got[i].EnqueuedAt == 0 {
			t.Errorf("item %d has no enqueue time", i)
		}
	}
}

func TestDequeueRemovesFromMiddle(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)
	a, b, c := mustDelete(t, "a"), mustDelete(t, "b"), mustDelete(t, "c")
	for _, it := range []queue.Item{a, b, c} {
		q.Enqueue(ctx, it)
	}

	if err := q.Dequeue(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	if err := q.Dequeue(ctx, "missing"); err != nil {
		t.Fatalf("dequeue of unknown id: %v", err)
	}
	got := ids(q.PeekAll(ctx))
	if len(got) != 2 || got[0] != a.ID || got[1] != c.ID {
		t.Errorf("remaining = %v", got)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s1, _ := kvstore.NewFileStore(dir)
	it, err := queue.NewAdd("u1", model.NewEntry{WorkDate: "2026-03-02", StartTime: "09:00"}, t0)
	if err != nil {
		t.Fatal(err)
	}
	if err := queue.New(s1, quiet, nil).Enqueue(ctx, it); err != nil {
		t.Fatal(err)
	}

	s2, _ := kvstore.NewFileStore(dir)
	q := queue.New(s2, quiet, nil)
	if n := q.Len(ctx); n != 1 {
		t.Fatalf("Len after reopen = %d, want 1", n)
	}
	if err := q.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n := q.Len(ctx); n != 0 {
		t.Errorf("Len after Clear = %d", n)
	}
}

func TestCorruptQueueIsMovedAside(t *testing.T) {
	ctx := context.Background()
	q, s := newQueue(t)
	s.Set(ctx, queue.Key, []byte("{not a list"))

	if got := q.PeekAll(ctx); len(got) != 0 {
		t.Fatalf("PeekAll on corrupt queue = %v", got)
	}
	backup, ok, err := s.Get(ctx, queue.Key+".corrupt")
	if err != nil || !ok || string(backup) != "{not a list" {
		t.Errorf("backup = %q, %v, %v", backup, ok, err)
	}

	// The queue is usable again.
	if err := q.Enqueue(ctx, mustDelete(t, "e1")); err != nil {
		t.Fatal(err)
	}
	if q.Len(ctx) != 1 {
		t.Error("enqueue after corruption was lost")
	}
}

func TestRetargetRewritesPendingReferences(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	add, _ := queue.NewAdd("u1", model.NewEntry{WorkDate: "2026-03-02", StartTime: "09:00"}, t0)
	upd, _ := queue.NewUpdate(add.ID, model.EntryPatch{EndTime: model.StringPtr("17:00")}, t0)
	other, _ := queue.NewUpdate("e9", model.EntryPatch{EndTime: model.StringPtr("12:00")}, t0)
	del := mustDelete(t, add.ID)
	for _, it := range []queue.Item{add, upd, other, del} {
		q.Enqueue(ctx, it)
	}

	n, err := q.Retarget(ctx, add.ID, "srv-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Retarget changed %d items, want 2", n)
	}

	items := q.PeekAll(ctx)
	var p queue.UpdatePayload
	json.Unmarshal(items[1].Payload, &p)
	if p.ID != "srv-1" || p.Updates.EndTime == nil || *p.Updates.EndTime != "17:00" {
		t.Errorf("update payload = %+v", p)
	}
	if id, _ := items[2].EntryID(); id != "e9" {
		t.Errorf("unrelated update retargeted to %s", id)
	}
	if id, _ := items[3].EntryID(); id != "srv-1" {
		t.Errorf("delete targets %s, want srv-1", id)
	}
}

func TestAddPlaceholder(t *testing.T) {
	it, err := queue.NewAdd("u1", model.NewEntry{WorkDate: "2026-03-02", StartTime: "22:00", EndTime: model.StringPtr("01:30")}, t0)
	if err != nil {
		t.Fatal(err)
	}
	if !queue.IsTempID(it.ID) {
		t.Errorf("add id %q lacks the temporary prefix", it.ID)
	}
	e, err := it.Placeholder()
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != it.ID || e.OwnerID != "u1" || e.Minutes() != 210 {
		t.Errorf("placeholder = %+v", e)
	}
	if _, err := mustDelete(t, "x").Placeholder(); err == nil {
		t.Error("Placeholder of a delete should fail")
	}
}

func TestQueuesSharingAStoreLoseNothing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	open := func() *queue.Queue {
		s, err := kvstore.NewFileStore(dir)
		if err != nil {
			t.Fatal(err)
		}
		return queue.New(s, quiet, nil)
	}
	// Separate store handles behave like the daemon and a CLI process.
	daemon, cli := open(), open()

	var seeded []string
	for i := 0; i < 20; i++ {
		it := mustDelete(t, fmt.Sprintf("old%d", i))
		if err := daemon.Enqueue(ctx, it); err != nil {
			t.Fatal(err)
		}
		seeded = append(seeded, it.ID)
	}

	var added []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			it := mustDelete(t, fmt.Sprintf("new%d", i))
			if err := cli.Enqueue(ctx, it); err != nil {
				t.Error(err)
				return
			}
			added = append(added, it.ID)
		}
	}()
	for _, id := range seeded {
		if err := daemon.Dequeue(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	<-done

	got := ids(daemon.PeekAll(ctx))
	if len(got) != len(added) {
		t.Fatalf("queue has %d items, want the %d added concurrently: %v", len(got), len(added), got)
	}
	for i := range added {
		if got[i] != added[i] {
			t.Errorf("item %d = %s, want %s", i, got[i], added[i])
		}
	}
}

func TestEnqueueFollowsReplayedPlaceholder(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	add, _ := queue.NewAdd("u1", model.NewEntry{WorkDate: "2026-03-02", StartTime: "09:00"}, t0)
	if _, err := q.Retarget(ctx, add.ID, "srv-7"); err != nil {
		t.Fatal(err)
	}
	if id, ok := q.Resolve(ctx, add.ID); !ok || id != "srv-7" {
		t.Fatalf("Resolve = %q, %v", id, ok)
	}

	upd, _ := queue.NewUpdate(add.ID, model.EntryPatch{EndTime: model.StringPtr("12:00")}, t0)
	if err := q.Enqueue(ctx, upd); err != nil {
		t.Fatal(err)
	}
	if id, _ := q.PeekAll(ctx)[0].EntryID(); id != "srv-7" {
		t.Errorf("queued update targets %s, want srv-7", id)
	}

	stray, _ := queue.NewUpdate("add_1_unknown", model.EntryPatch{EndTime: model.StringPtr("12:00")}, t0)
	if err := q.Enqueue(ctx, stray); !errors.Is(err, queue.ErrUnknownPlaceholder) {
		t.Errorf("Enqueue for unknown placeholder = %v", err)
	}
	if q.Len(ctx) != 1 {
		t.Errorf("Len = %d, want 1", q.Len(ctx))
	}
}

func TestPendingFindsQueuedAdd(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)
	add, _ := queue.NewAdd("u1", model.NewEntry{WorkDate: "2026-03-02", StartTime: "09:00"}, t0)
	q.Enqueue(ctx, add)

	if it, ok := q.Pending(ctx, add.ID); !ok || it.ID != add.ID {
		t.Errorf("Pending = %+v, %v", it, ok)
	}
	q.Dequeue(ctx, add.ID)
	if _, ok := q.Pending(ctx, add.ID); ok {
		t.Error("Pending after dequeue")
	}
}
