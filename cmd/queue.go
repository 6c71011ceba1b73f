package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and replay offline changes",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued changes, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var queueProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Replay queued changes now",
	Args:  cobra.NoArgs,
	RunE:  runQueueProcess,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard all queued changes",
	Args:  cobra.NoArgs,
	RunE:  runQueueClear,
}

var queueDropCmd = &cobra.Command{
	Use:   "drop <id>",
	Short: "Discard one queued change",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueDrop,
}

func init() {
	queueCmd.AddCommand(queueListCmd, queueProcessCmd, queueClearCmd, queueDropCmd)
}

func runQueueList(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		items := a.queue.PeekAll(ctx)
		if len(items) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		for _, it := range items {
			at := time.UnixMilli(it.EnqueuedAt).In(a.tracker.Location()).Format("2006-01-02 15:04:05")
			target, err := it.EntryID()
			switch {
			case err != nil:
				target = "?"
			case target == "":
				target = "(new)"
			}
			fmt.Printf("%s  %-6s  %-28s  %s\n", at, it.Op, target, it.ID)
		}
		fmt.Printf("%d change(s) pending.\n", len(items))
		return nil
	})
}

func runQueueProcess(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		res := a.processor.ProcessQueue(ctx)
		fmt.Printf("Replayed %d, %d remaining.\n", res.Replayed, res.Remaining)
		return res.Err
	})
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		n := a.queue.Len(ctx)
		if err := a.queue.Clear(ctx); err != nil {
			return storageError{err}
		}
		fmt.Printf("Discarded %d change(s).\n", n)
		return nil
	})
}

func runQueueDrop(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		before := a.queue.Len(ctx)
		if err := a.queue.Dequeue(ctx, args[0]); err != nil {
			return storageError{err}
		}
		if a.queue.Len(ctx) == before {
			fmt.Fprintf(os.Stderr, "No queued change with id %s.\n", args[0])
			return nil
		}
		fmt.Printf("Discarded %s\n", args[0])
		return nil
	})
}
