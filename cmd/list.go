package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/stampclock/internal/model"
	"github.com/Tiliavir/stampclock/internal/queue"
	"github.com/Tiliavir/stampclock/internal/remote"
	"github.com/Tiliavir/stampclock/internal/timecalc"
)

var listMonth string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions of a month",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listMonth, "month", "", "Month YYYY-MM (default current month)")
}

func runList(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		month := listMonth
		if month == "" {
			month, _ = timecalc.MonthKey(timecalc.Today(time.Now(), a.tracker.Location()))
		}
		if _, _, err := timecalc.MonthRange(month); err != nil {
			return err
		}

		a.flush(ctx)
		entries, err := a.tracker.ListMonth(ctx, month)
		if err != nil {
			if !remote.IsNetwork(err) {
				return err
			}
			fmt.Fprintln(os.Stderr, "Warning: backend unreachable, showing queued changes only.")
		}
		pending := a.tracker.PendingForMonth(ctx, month)

		printList(append(entries, pending...))
		return nil
	})
}

// printList groups entries by date, newest day first, and prints them.
func printList(entries []model.Entry) {
	if len(entries) == 0 {
		fmt.Println("No entries found.")
		return
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].WorkDate != entries[j].WorkDate {
			return entries[i].WorkDate > entries[j].WorkDate
		}
		return entries[i].StartTime < entries[j].StartTime
	})

	var currentDay string
	total := 0
	for _, e := range entries {
		if e.WorkDate != currentDay {
			fmt.Println(e.WorkDate)
			currentDay = e.WorkDate
		}

		endStr := "ongoing"
		durStr := ""
		if !e.Open() {
			endStr = *e.EndTime
			durStr = fmt.Sprintf(" (%s)", timecalc.FormatDuration(e.Minutes()))
		}
		mark := ""
		if queue.IsTempID(e.ID) {
			mark = "  [queued]"
		}
		total += e.Minutes()

		fmt.Printf("  %s–%s%s  %s%s\n", e.StartTime, endStr, durStr, e.ID, mark)
	}
	fmt.Printf("Total: %s\n", timecalc.FormatDuration(total))
}
