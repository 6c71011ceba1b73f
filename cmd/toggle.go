package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/stampclock/internal/timecalc"
	"github.com/Tiliavir/stampclock/internal/tracker"
)

var toggleCmd = &cobra.Command{
	Use:     "toggle",
	Aliases: []string{"now"},
	Short:   "Start, end or extend today's session",
	Long: `Stamp the current time:
  - no session today      -> start one
  - open session          -> end it
  - session already ended -> move its end to now
Times are rounded by the rounding setting.`,
	Args: cobra.NoArgs,
	RunE: runToggle,
}

func runToggle(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		a.flush(ctx)

		res, err := a.tracker.StampToggle(ctx)
		if err != nil && !errors.Is(err, tracker.ErrQueued) {
			return err
		}

		line := "Session " + res.Message
		if res.Transition != tracker.TransitionStarted {
			line += fmt.Sprintf(" (%s)", timecalc.FormatDuration(res.Entry.Minutes()))
		}
		fmt.Println(line)

		if res.Queued {
			fmt.Fprintf(os.Stderr, "Warning: backend unreachable, stamp queued (%d change(s) pending).\n", a.queue.Len(ctx))
		}
		return nil
	})
}
