package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/profile-sync/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a profile document",
		Long: "Import a profile document (file or stdin). The document is validated against the profile schema.\n" +
			"With --remote it is stored as the remote snapshot and merged on the next sync.\n" +
			"With --backup the input is a backup produced by export --backup and restores the whole sync state.",
		Args: cobra.MaximumNArgs(1),
		Run:  runImport,
	}

	cmd.Flags().Bool("remote", false, "Store as the remote snapshot instead of the local one")
	cmd.Flags().Bool("backup", false, "Restore a sync state backup")

	RootCmd.AddCommand(cmd)
}

func readInput(args []string) []byte {
	var data []byte
	var err error
	if len(args) > 0 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}
	return data
}

func runImport(cmd *cobra.Command, args []string) {
	remote, _ := cmd.Flags().GetBool("remote")
	backup, _ := cmd.Flags().GetBool("backup")
	data := readInput(args)

	a := openApp(false)
	defer a.Close()
	ctx := cmd.Context()

	if backup {
		var b store.Backup
		if err := json.Unmarshal(data, &b); err != nil {
			exitErr("parse backup", err)
		}
		n, err := a.store.Import(ctx, &b)
		if err != nil {
			exitErr("restore", err)
		}
		printJSON(map[string]any{"ok": true, "restored": n})
		return
	}

	target := store.SnapshotLocal
	if remote {
		target = store.SnapshotRemote
	}
	p, err := a.syncer.Import(ctx, data, target)
	if err != nil {
		exitErr("import", err)
	}
	counts := p.Counts()
	printJSON(map[string]any{"ok": true, "target": target, "counts": counts})
}
