package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/Tiliavir/stampclock/internal/kvstore"
	"github.com/Tiliavir/stampclock/internal/model"
	"github.com/Tiliavir/stampclock/internal/remote/remotetest"
	"github.com/Tiliavir/stampclock/internal/timecalc"
	"github.com/Tiliavir/stampclock/internal/tracker"
)

// useTestApp points the commands at an app backed by a fake backend and a
// fresh store for user u1.
func useTestApp(t *testing.T) (*app, *remotetest.Store) {
	t.Helper()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	store, err := kvstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	loc, err := timecalc.LoadLocation("Europe/Copenhagen")
	if err != nil {
		t.Fatal(err)
	}
	fake := remotetest.New()
	a, err := assemble(store, fake, remotetest.Session("u1"), loc, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	prev := openCommandApp
	openCommandApp = func() (*app, error) { return a, nil }
	t.Cleanup(func() { openCommandApp = prev })
	return a, fake
}

// captureStdout returns what fn printed to stdout.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	orig := os.Stdout
	os.Stdout = w
	runErr := fn()
	os.Stdout = orig
	w.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatal(err)
	}
	return buf.String(), runErr
}

// setFlag sets a flag as if it were given on the command line and resets it
// when the test ends.
func setFlag(t *testing.T, name, value string) {
	t.Helper()
	f := editCmd.Flags().Lookup(name)
	old := f.Value.String()
	if err := editCmd.Flags().Set(name, value); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		f.Value.Set(old)
		f.Changed = false
	})
}

func TestQueueListPrintsPendingChanges(t *testing.T) {
	a, fake := useTestApp(t)
	ctx := context.Background()
	fake.Seed(model.Entry{ID: "e1", OwnerID: "u1", WorkDate: "2026-03-02", StartTime: "08:00"})
	fake.SetOffline(true)

	added, err := a.tracker.AddEntry(ctx, model.NewEntry{WorkDate: "2026-03-02", StartTime: "13:00"})
	if !errors.Is(err, tracker.ErrQueued) {
		t.Fatalf("AddEntry err = %v", err)
	}
	if err := a.tracker.DeleteEntry(ctx, "e1"); !errors.Is(err, tracker.ErrQueued) {
		t.Fatalf("DeleteEntry err = %v", err)
	}

	out, err := captureStdout(t, func() error { return runQueueList(queueListCmd, nil) })
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("output:\n%s", out)
	}
	if !strings.Contains(lines[0], "add") || !strings.Contains(lines[0], added.ID) {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "delete") || !strings.Contains(lines[1], "e1") {
		t.Errorf("second line = %q", lines[1])
	}
	if lines[2] != "2 change(s) pending." {
		t.Errorf("summary = %q", lines[2])
	}
}

func TestQueueListEmpty(t *testing.T) {
	useTestApp(t)
	out, err := captureStdout(t, func() error { return runQueueList(queueListCmd, nil) })
	if err != nil || out != "Queue is empty.\n" {
		t.Errorf("output = %q, err = %v", out, err)
	}
}

func TestEditPlaceholderAfterReconnect(t *testing.T) {
	a, fake := useTestApp(t)
	ctx := context.Background()

	fake.SetOffline(true)
	placeholder, err := a.tracker.AddEntry(ctx, model.NewEntry{WorkDate: "2026-03-02", StartTime: "08:00"})
	if !errors.Is(err, tracker.ErrQueued) {
		t.Fatalf("AddEntry err = %v", err)
	}
	fake.SetOffline(false)

	// edit flushes the queue first, so the placeholder is already created.
	setFlag(t, "end", "12:00")
	out, err := captureStdout(t, func() error { return runEdit(editCmd, []string{placeholder.ID}) })
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	want := "Updated " + placeholder.ID + ": 2026-03-02 08:00–12:00 (4h 0m)\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}

	e, ok := fake.Entry("srv-1")
	if !ok || e.Open() || *e.EndTime != "12:00" {
		t.Errorf("backend entry = %+v", e)
	}
	if n := a.queue.Len(ctx); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
}

func TestDeletePlaceholderAfterReconnect(t *testing.T) {
	a, fake := useTestApp(t)
	ctx := context.Background()

	fake.SetOffline(true)
	placeholder, _ := a.tracker.AddEntry(ctx, model.NewEntry{WorkDate: "2026-03-02", StartTime: "08:00"})
	fake.SetOffline(false)

	out, err := captureStdout(t, func() error { return runDelete(deleteCmd, []string{placeholder.ID}) })
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if out != "Deleted "+placeholder.ID+"\n" {
		t.Errorf("output = %q", out)
	}
	if len(fake.Entries()) != 0 || a.queue.Len(ctx) != 0 {
		t.Errorf("entries = %+v, queue = %d", fake.Entries(), a.queue.Len(ctx))
	}
}

func TestToggleStartsSession(t *testing.T) {
	_, fake := useTestApp(t)

	out, err := captureStdout(t, func() error { return runToggle(toggleCmd, nil) })
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Session started at ") {
		t.Errorf("output = %q", out)
	}
	if len(fake.Entries()) != 1 {
		t.Errorf("entries = %+v", fake.Entries())
	}
}
