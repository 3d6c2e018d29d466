package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show profile, queue and database statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	a := openApp(false)
	defer a.Close()
	ctx := cmd.Context()

	stats, err := a.store.Stats(ctx, a.cfg.Database.Path)
	if err != nil {
		exitErr("stats", err)
	}
	out := map[string]any{"database": stats}

	if p, err := a.syncer.LocalProfile(ctx); err == nil {
		out["profile"] = map[string]any{
			"counts":          p.Counts(),
			"shortTermMemory": len(p.ShortTermMemory),
			"longTermMemory":  len(p.LongTermMemory),
		}
	}
	q := a.openQueue(ctx, nil)
	out["queue"] = q.Status()

	printJSON(out)
}
