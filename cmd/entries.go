package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/stampclock/internal/model"
	"github.com/Tiliavir/stampclock/internal/timecalc"
	"github.com/Tiliavir/stampclock/internal/tracker"
)

var (
	entryDate     string
	entryStart    string
	entryEnd      string
	entryClearEnd bool
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a session manually",
	Args:  cobra.NoArgs,
	RunE:  runAdd,
}

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change date, start or end of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runEdit,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	addCmd.Flags().StringVar(&entryDate, "date", "", "Work date YYYY-MM-DD (default today)")
	addCmd.Flags().StringVar(&entryStart, "start", "", "Start time HH:MM (required)")
	addCmd.Flags().StringVar(&entryEnd, "end", "", "End time HH:MM")
	_ = addCmd.MarkFlagRequired("start")

	editCmd.Flags().StringVar(&entryDate, "date", "", "New work date YYYY-MM-DD")
	editCmd.Flags().StringVar(&entryStart, "start", "", "New start time HH:MM")
	editCmd.Flags().StringVar(&entryEnd, "end", "", "New end time HH:MM")
	editCmd.Flags().BoolVar(&entryClearEnd, "clear-end", false, "Reopen the session")
}

// describe formats an entry as "2026-03-02 08:00–12:00 (4h 0m)".
func describe(e model.Entry) string {
	if e.Open() {
		return fmt.Sprintf("%s %s–ongoing", e.WorkDate, e.StartTime)
	}
	return fmt.Sprintf("%s %s–%s (%s)", e.WorkDate, e.StartTime, *e.EndTime, timecalc.FormatDuration(e.Minutes()))
}

// reportQueued prints the offline notice for err and reports whether err
// was a queued change.
func reportQueued(ctx context.Context, a *app, err error) bool {
	if !errors.Is(err, tracker.ErrQueued) {
		return false
	}
	fmt.Fprintf(os.Stderr, "Warning: backend unreachable, change queued (%d pending).\n", a.queue.Len(ctx))
	return true
}

func runAdd(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		date := entryDate
		if date == "" {
			date = timecalc.Today(time.Now(), a.tracker.Location())
		}
		ne := model.NewEntry{WorkDate: date, StartTime: entryStart}
		if entryEnd != "" {
			ne.EndTime = model.StringPtr(entryEnd)
		}

		a.flush(ctx)
		e, err := a.tracker.AddEntry(ctx, ne)
		if err != nil && !reportQueued(ctx, a, err) {
			return err
		}
		fmt.Printf("Added %s: %s\n", e.ID, describe(e))
		return nil
	})
}

func runEdit(cmd *cobra.Command, args []string) error {
	var patch model.EntryPatch
	flags := cmd.Flags()
	if flags.Changed("date") {
		patch.WorkDate = model.StringPtr(entryDate)
	}
	if flags.Changed("start") {
		patch.StartTime = model.StringPtr(entryStart)
	}
	switch {
	case entryClearEnd && flags.Changed("end"):
		return fmt.Errorf("--end and --clear-end are mutually exclusive")
	case entryClearEnd:
		patch.EndTime = model.StringPtr("")
	case flags.Changed("end"):
		patch.EndTime = model.StringPtr(entryEnd)
	}
	if patch.Empty() {
		return fmt.Errorf("nothing to change: pass --date, --start, --end or --clear-end")
	}

	return withApp(func(ctx context.Context, a *app) error {
		a.flush(ctx)
		e, err := a.tracker.UpdateEntry(ctx, args[0], patch)
		if err != nil && !reportQueued(ctx, a, err) {
			return err
		}
		if e.WorkDate == "" {
			fmt.Printf("Updated %s\n", args[0])
			return nil
		}
		fmt.Printf("Updated %s: %s\n", args[0], describe(e))
		return nil
	})
}

func runDelete(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		a.flush(ctx)
		if err := a.tracker.DeleteEntry(ctx, args[0]); err != nil && !reportQueued(ctx, a, err) {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	})
}
