package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/stampclock/internal/model"
	"github.com/Tiliavir/stampclock/internal/remote"
	"github.com/Tiliavir/stampclock/internal/timecalc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's session and pending changes",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		a.flush(ctx)

		loc := a.tracker.Location()
		now := time.Now()
		today := timecalc.Today(now, loc)
		month, _ := timecalc.MonthKey(today)

		entries, err := a.tracker.ListMonth(ctx, month)
		if err != nil {
			if !remote.IsNetwork(err) {
				return err
			}
			fmt.Fprintln(os.Stderr, "Warning: backend unreachable, showing queued changes only.")
		}
		entries = append(entries, a.tracker.PendingForMonth(ctx, month)...)

		var latest *model.Entry
		total := 0
		for i := range entries {
			e := entries[i]
			if e.WorkDate != today {
				continue
			}
			total += e.Minutes()
			if latest == nil || e.StartTime > latest.StartTime {
				latest = &e
			}
		}

		if latest != nil && latest.Open() {
			clock := timecalc.ClockTime(now, loc)
			mins, err := timecalc.TotalMinutes(latest.StartTime, clock)
			if err != nil {
				return err
			}
			fmt.Println("Running:")
			fmt.Printf("  Since: %s\n", latest.StartTime)
			fmt.Printf("  Elapsed: %s\n", formatElapsed(int64(mins)*60+int64(now.Second())))
		} else {
			fmt.Println("No open session.")
		}
		fmt.Printf("Today: %s logged.\n", timecalc.FormatDuration(total))

		if n := a.queue.Len(ctx); n > 0 {
			fmt.Printf("Pending: %d change(s) waiting for the backend.\n", n)
		}
		return nil
	})
}

func formatElapsed(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
