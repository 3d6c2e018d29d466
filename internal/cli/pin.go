package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/profile-sync/internal/store"
)

func init() {
	pin := &cobra.Command{
		Use:   "pin [file]",
		Short: "Replicate a blob to every backend",
		Long: "Pin a file (or stdin) to every configured backend and report the quorum outcome.\n" +
			"Without arguments the local profile snapshot is pinned as stored.",
		Args: cobra.MaximumNArgs(1),
		Run:  runPin,
	}

	unpin := &cobra.Command{
		Use:   "unpin <cid>",
		Short: "Remove a cid from every backend (best effort)",
		Args:  cobra.ExactArgs(1),
		Run:   runUnpin,
	}

	pins := &cobra.Command{
		Use:   "pins",
		Short: "Show replication history",
		Run:   runPins,
	}
	pins.Flags().IntP("limit", "l", 20, "Max records")

	RootCmd.AddCommand(pin, unpin, pins)
}

func runPin(cmd *cobra.Command, args []string) {
	a := openApp(true)
	defer a.Close()
	ctx := cmd.Context()
	if a.manager == nil {
		exitErr("pin", errNoBackends)
	}

	var data []byte
	if len(args) > 0 {
		data = readInput(args)
	} else {
		snap, err := a.store.GetSnapshot(ctx, store.SnapshotLocal)
		if err != nil {
			exitErr("load local snapshot", err)
		}
		data = snap.Data
	}

	rep, err := a.syncer.Pin(ctx, data)
	if err != nil {
		exitErr("pin", err)
	}
	printJSON(rep)
}

func runUnpin(cmd *cobra.Command, args []string) {
	a := openApp(true)
	defer a.Close()
	ctx := cmd.Context()
	if a.manager == nil {
		exitErr("unpin", errNoBackends)
	}

	results := a.manager.UnpinFromAll(ctx, args[0])
	if err := a.store.MarkUnpinned(ctx, args[0]); err != nil {
		exitErr("unpin", err)
	}
	printJSON(results)
}

func runPins(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	a := openApp(false)
	defer a.Close()

	pins, err := a.store.ListPins(cmd.Context(), limit)
	if err != nil {
		exitErr("pins", err)
	}
	printJSON(pins)
}
