package cli

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rcliao/profile-sync/internal/model"
	"github.com/rcliao/profile-sync/internal/syncer"
)

func init() {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an empty local profile",
		Run:   runInit,
	}

	cmd.Flags().String("id", "", "Identity id (default: random)")
	cmd.Flags().String("name", "", "Display name")
	cmd.Flags().String("email", "", "Email")
	cmd.Flags().Bool("force", false, "Replace an existing local profile")

	RootCmd.AddCommand(cmd)
}

func runInit(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetString("id")
	name, _ := cmd.Flags().GetString("name")
	email, _ := cmd.Flags().GetString("email")
	force, _ := cmd.Flags().GetBool("force")

	a := openApp(false)
	defer a.Close()
	ctx := cmd.Context()

	_, err := a.syncer.LocalProfile(ctx)
	switch {
	case err == nil && !force:
		exitErr("init", fmt.Errorf("a local profile already exists (use --force to replace it)"))
	case err != nil && !errors.Is(err, syncer.ErrNotInitialized) && !force:
		exitErr("init", err)
	}

	if id == "" {
		id = uuid.NewString()
	}
	p := model.NewProfile(model.Identity{ID: id, DisplayName: name, Email: email})
	if err := a.syncer.SaveLocal(ctx, p); err != nil {
		exitErr("init", err)
	}
	printJSON(map[string]any{"ok": true, "identity": p.Identity, "db": a.cfg.Database.Path})
}
