package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/profile-sync/internal/queue"
)

func init() {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and operate the sync queue",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List queued operations",
		Run:   runQueueList,
	}
	drain := &cobra.Command{
		Use:   "drain",
		Short: "Run one drain cycle now",
		Run:   runQueueDrain,
	}
	clear := &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued operation",
		Run:   runQueueClear,
	}
	clear.Flags().Bool("yes", false, "Confirm dropping the queue")

	cmd.AddCommand(list, drain, clear)
	RootCmd.AddCommand(cmd)
}

func drainJSON(r queue.DrainResult) map[string]any {
	out := map[string]any{
		"skipped":      r.Skipped,
		"attempted":    r.Attempted,
		"synced":       r.Synced,
		"retried":      r.Retried,
		"deadLettered": r.DeadLettered,
	}
	if r.Err != nil {
		out["error"] = r.Err.Error()
	}
	return out
}

func runQueueList(cmd *cobra.Command, args []string) {
	a := openApp(false)
	defer a.Close()
	q := a.openQueue(cmd.Context(), nil)

	ops := q.Operations()
	if !textOutput() {
		printJSON(map[string]any{"status": q.Status(), "operations": ops})
		return
	}
	for _, op := range ops {
		next := "now"
		if op.NextRetryAt.After(time.Now()) {
			next = op.NextRetryAt.Local().Format(time.RFC3339)
		}
		fmt.Printf("%s  %-6s %-12s %-24s retries=%d status=%s next=%s\n",
			op.ID, op.Type, op.Entity, op.EntityID, op.RetryCount, op.Status, next)
	}
	fmt.Printf("%d pending, %d dead letters\n", len(ops), len(q.DeadLetters()))
}

func runQueueDrain(cmd *cobra.Command, args []string) {
	a := openApp(true)
	defer a.Close()
	ctx := cmd.Context()
	q := a.openQueue(ctx, nil)

	res, err := q.Drain(ctx)
	if err != nil {
		exitErr("drain", err)
	}
	printJSON(drainJSON(res))
}

func runQueueClear(cmd *cobra.Command, args []string) {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		exitErr("clear", fmt.Errorf("dropping queued operations cannot be undone, pass --yes"))
	}
	a := openApp(false)
	defer a.Close()
	ctx := cmd.Context()
	q := a.openQueue(ctx, nil)

	n, err := q.ClearQueue(ctx)
	if err != nil {
		exitErr("clear", err)
	}
	printJSON(map[string]any{"ok": true, "dropped": n})
}
