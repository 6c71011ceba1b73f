package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/stampclock/internal/timecalc"
)

var reportFormat string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show worked time for the current period",
	Long: `Sum sessions per day for the current period. Periods start on the
rollover day and hour from settings.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFormat, "format", "md", "Output format: md, json")
}

type dayTotal struct {
	Date    string `json:"date"`
	Minutes int    `json:"minutes"`
	Hours   string `json:"hours"`
}

type periodReport struct {
	From         string     `json:"from"`
	To           string     `json:"to"`
	Days         []dayTotal `json:"days"`
	TotalMinutes int        `json:"total_minutes"`
	TotalHours   string     `json:"total_hours"`
}

func runReport(cmd *cobra.Command, args []string) error {
	if reportFormat != "md" && reportFormat != "json" {
		return fmt.Errorf("unknown format %q: want md or json", reportFormat)
	}

	return withApp(func(ctx context.Context, a *app) error {
		a.flush(ctx)

		period, err := a.tracker.Period(ctx)
		if err != nil {
			return err
		}
		entries, err := a.tracker.ListRange(ctx, period.FirstDate(), period.LastDate())
		if err != nil {
			return err
		}

		totals := map[string]int{}
		for _, e := range entries {
			totals[e.WorkDate] += e.Minutes()
		}
		rep := periodReport{From: period.FirstDate(), To: period.LastDate()}
		for date, mins := range totals {
			rep.Days = append(rep.Days, dayTotal{Date: date, Minutes: mins, Hours: timecalc.FormatHours(mins)})
			rep.TotalMinutes += mins
		}
		sort.Slice(rep.Days, func(i, j int) bool { return rep.Days[i].Date < rep.Days[j].Date })
		rep.TotalHours = timecalc.FormatHours(rep.TotalMinutes)

		if reportFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}

		fmt.Printf("Period %s\n", period.Label())
		fmt.Println("--------------------------------")
		for _, d := range rep.Days {
			fmt.Printf("%-20s%s\n", d.Date, timecalc.FormatDuration(d.Minutes))
		}
		fmt.Println("--------------------------------")
		fmt.Printf("%-20s%s (%s h)\n", "Total", timecalc.FormatDuration(rep.TotalMinutes), rep.TotalHours)
		return nil
	})
}
