package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/profile-sync/internal/model"
	"github.com/rcliao/profile-sync/internal/queue"
)

func init() {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dlq"},
		Short:   "Inspect and requeue operations that exhausted their retries",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List dead letters",
		Run:   runDeadLetterList,
	}
	retry := &cobra.Command{
		Use:   "retry <operation-id>",
		Short: "Requeue one dead letter with a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		Run:   runDeadLetterRetry,
	}
	retryAll := &cobra.Command{
		Use:   "retry-all",
		Short: "Requeue every dead letter",
		Run:   runDeadLetterRetryAll,
	}
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Drop expired dead letters",
		Run:   runDeadLetterPurge,
	}

	cmd.AddCommand(list, retry, retryAll, purge)
	RootCmd.AddCommand(cmd)
}

func runDeadLetterList(cmd *cobra.Command, args []string) {
	a := openApp(false)
	defer a.Close()
	q := a.openQueue(cmd.Context(), nil)

	dead := q.DeadLetters()
	if !textOutput() {
		printJSON(dead)
		return
	}
	for _, d := range dead {
		fmt.Printf("%s  %-6s %-12s %-24s failed=%s purge=%s\n  %s\n",
			d.Operation.ID, d.Operation.Type, d.Operation.Entity, d.Operation.EntityID,
			d.FailedAt.Local().Format("2006-01-02 15:04"), d.PurgeAt.Local().Format("2006-01-02"), d.LastError)
	}
	fmt.Printf("%d dead letters\n", len(dead))
}

func runDeadLetterRetry(cmd *cobra.Command, args []string) {
	a := openApp(false)
	defer a.Close()
	ctx := cmd.Context()
	q := a.openQueue(ctx, nil)

	if err := q.RetryDeadLetter(ctx, args[0]); err != nil {
		exitErr("retry", err)
	}
	printJSON(map[string]any{"ok": true, "requeued": 1})
}

func runDeadLetterRetryAll(cmd *cobra.Command, args []string) {
	a := openApp(false)
	defer a.Close()
	ctx := cmd.Context()
	q := a.openQueue(ctx, nil)

	n, err := q.RetryAllDeadLetter(ctx)
	if err != nil {
		exitErr("retry", err)
	}
	printJSON(map[string]any{"ok": true, "requeued": n})
}

func runDeadLetterPurge(cmd *cobra.Command, args []string) {
	a := openApp(false)
	defer a.Close()
	ctx := cmd.Context()

	// Opening the queue already purges, so count purge events instead of
	// the return value.
	purged := 0
	var expiring []model.DeadLetterEntry
	q := a.openQueue(ctx, func(e queue.Event) {
		switch e.Type {
		case queue.EventPurged:
			purged += len(e.DeadLetters)
		case queue.EventExpiring:
			expiring = e.DeadLetters
		}
	})
	if _, err := q.PurgeDeadLetters(ctx); err != nil {
		exitErr("purge", err)
	}
	printJSON(map[string]any{"ok": true, "purged": purged, "expiringSoon": len(expiring)})
}
