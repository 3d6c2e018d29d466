package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the local profile as JSON",
		Long:  "Export the local profile as JSON to stdout or a file. With --backup the whole sync state (queue, dead letters, snapshots) is exported instead.",
		Run:   runExport,
	}

	cmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")
	cmd.Flags().Bool("backup", false, "Export the sync state backup")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	output, _ := cmd.Flags().GetString("output")
	backup, _ := cmd.Flags().GetBool("backup")

	a := openApp(false)
	defer a.Close()
	ctx := cmd.Context()

	var v any
	if backup {
		b, err := a.store.ExportAll(ctx)
		if err != nil {
			exitErr("export", err)
		}
		v = b
	} else {
		p, err := a.syncer.LocalProfile(ctx)
		if err != nil {
			exitErr("export", err)
		}
		v = p
	}

	b, _ := json.MarshalIndent(v, "", "  ")
	b = append(b, '\n')
	if output == "" {
		os.Stdout.Write(b)
		return
	}
	if err := os.WriteFile(output, b, 0o600); err != nil {
		exitErr("write export", err)
	}
}
