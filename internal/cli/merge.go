package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/profile-sync/internal/merge"
	"github.com/rcliao/profile-sync/internal/model"
	"github.com/rcliao/profile-sync/internal/queue"
)

func init() {
	mergeCmd := &cobra.Command{
		Use:   "merge",
		Short: "Preview merging the local profile with the remote snapshot",
		Long:  "Merge the local, base and remote snapshots without writing anything and print the result.",
		Run:   runMerge,
	}
	mergeCmd.Flags().Bool("profile", false, "Include the merged profile in JSON output")

	conflicts := &cobra.Command{
		Use:   "conflicts",
		Short: "Show the conflicts that blocked the last sync",
		Run:   runConflicts,
	}

	resolve := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve merge conflicts",
		Long: "Resolve the conflicts of the current merge and store the result for the next sync.\n" +
			"Choices are given per conflict id with --choice <id>=local|remote, as a JSON file mapping\n" +
			"conflict ids to {\"choice\": ..., \"value\": ...} (custom values), or for all with --all.",
		Run: runResolve,
	}
	resolve.Flags().StringArray("choice", nil, "Conflict choice as <conflict-id>=local|remote (repeatable)")
	resolve.Flags().String("file", "", "JSON file with resolution choices")
	resolve.Flags().String("all", "", "Choice for every conflict without an explicit one: local or remote")

	RootCmd.AddCommand(mergeCmd, conflicts, resolve)
}

func runMerge(cmd *cobra.Command, args []string) {
	withProfile, _ := cmd.Flags().GetBool("profile")
	a := openApp(false)
	defer a.Close()

	res, _, err := a.syncer.Merge(cmd.Context())
	if err != nil {
		exitErr("merge", err)
	}
	if textOutput() {
		if err := merge.WriteReport(os.Stdout, res); err != nil {
			exitErr("report", err)
		}
		return
	}
	if !withProfile {
		res.Merged = nil
	}
	printJSON(res)
}

func runConflicts(cmd *cobra.Command, args []string) {
	a := openApp(false)
	defer a.Close()

	report, err := a.syncer.Conflicts(cmd.Context())
	if err != nil {
		exitErr("conflicts", err)
	}
	if report == nil {
		if textOutput() {
			fmt.Println("no conflicts")
		} else {
			printJSON(map[string]any{"conflicts": []merge.Conflict{}})
		}
		return
	}
	if textOutput() {
		if err := merge.WriteReport(os.Stdout, &merge.Result{Conflicts: report.Conflicts, Stats: report.Stats}); err != nil {
			exitErr("report", err)
		}
		return
	}
	printJSON(report)
}

func runResolve(cmd *cobra.Command, args []string) {
	pairs, _ := cmd.Flags().GetStringArray("choice")
	file, _ := cmd.Flags().GetString("file")
	all, _ := cmd.Flags().GetString("all")

	choices := map[string]merge.ResolutionChoice{}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			exitErr("read choices", err)
		}
		if err := json.Unmarshal(data, &choices); err != nil {
			exitErr("parse choices", err)
		}
	}
	for _, p := range pairs {
		id, choice, ok := strings.Cut(p, "=")
		if !ok {
			exitErr("resolve", fmt.Errorf("choice %q is not <id>=local|remote", p))
		}
		choices[id] = merge.ResolutionChoice{Choice: merge.Resolution(choice)}
	}
	fallback := merge.Resolution(all)
	if fallback != "" && fallback != merge.ResolveLocal && fallback != merge.ResolveRemote {
		exitErr("resolve", fmt.Errorf("--all must be local or remote"))
	}

	a := openApp(false)
	defer a.Close()
	ctx := cmd.Context()

	res, err := a.syncer.Resolve(ctx, choices, fallback)
	if err != nil {
		exitErr("resolve", err)
	}
	// Each resolved entity is queued so the resolved profile gets replicated.
	var queued []string
	if len(res.Conflicts) > 0 {
		q := a.openQueue(ctx, nil)
		for _, c := range res.Conflicts {
			op, err := q.Enqueue(ctx, queue.EnqueueParams{Type: model.OpUpdate, Entity: c.Type, EntityID: c.EntityID})
			if err != nil {
				exitErr("enqueue", err)
			}
			queued = append(queued, op.ID)
		}
	}
	printJSON(map[string]any{"ok": true, "resolved": len(res.Conflicts), "queued": queued})
}
