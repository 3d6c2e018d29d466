package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/profile-sync/internal/model"
	"github.com/rcliao/profile-sync/internal/queue"
	"github.com/rcliao/profile-sync/internal/syncer"
)

func init() {
	cmd := &cobra.Command{
		Use:   "upsert <entity> [json]",
		Short: "Create or update an entity in the local profile",
		Long: "Create or update an entity (identity, memory, conversation, insight, preference, project, grant).\n" +
			"The entity JSON is a positional arg or piped via stdin and must carry an id.\n" +
			"The change is applied locally and queued for sync.",
		Args: cobra.RangeArgs(1, 2),
		Run:  runUpsert,
	}
	cmd.Flags().Bool("sync", false, "Drain the queue right away")
	RootCmd.AddCommand(cmd)

	del := &cobra.Command{
		Use:   "delete <entity> <id>",
		Short: "Delete an entity from the local profile",
		Args:  cobra.ExactArgs(2),
		Run:   runDelete,
	}
	del.Flags().Bool("sync", false, "Drain the queue right away")
	RootCmd.AddCommand(del)
}

func parseEntity(s string) model.EntityType {
	e := model.EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !model.ValidEntityTypes[e] {
		exitErr("entity", fmt.Errorf("unknown entity %q", s))
	}
	return e
}

func runUpsert(cmd *cobra.Command, args []string) {
	entity := parseEntity(args[0])
	sync, _ := cmd.Flags().GetBool("sync")

	var data []byte
	if len(args) > 1 {
		data = []byte(args[1])
	} else {
		data = readInput(nil)
	}
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		exitErr("parse entity", err)
	}
	if head.ID == "" {
		exitErr("upsert", fmt.Errorf("entity JSON needs an id"))
	}

	mutate(cmd.Context(), sync, queue.EnqueueParams{
		Type:     model.OpUpdate,
		Entity:   entity,
		EntityID: head.ID,
		Payload:  json.RawMessage(data),
	})
}

func runDelete(cmd *cobra.Command, args []string) {
	sync, _ := cmd.Flags().GetBool("sync")
	mutate(cmd.Context(), sync, queue.EnqueueParams{
		Type:     model.OpDelete,
		Entity:   parseEntity(args[0]),
		EntityID: args[1],
	})
}

// mutate applies a change to the local profile and queues it. The change is
// validated before it is queued, and queued before the profile is saved.
func mutate(ctx context.Context, sync bool, p queue.EnqueueParams) {
	a := openApp(sync)
	defer a.Close()

	local, err := a.syncer.LocalProfile(ctx)
	if err != nil {
		exitErr("load profile", err)
	}
	existed := entityExists(local, p.Entity, p.EntityID)
	if p.Type == model.OpUpdate && !existed {
		p.Type = model.OpCreate
	}
	err = syncer.ApplyOperation(local, model.QueuedOperation{
		Type:     p.Type,
		Entity:   p.Entity,
		EntityID: p.EntityID,
		Payload:  p.Payload,
	}, a.cfg.Sync.ShortTermLimit)
	if err != nil {
		exitErr("apply", err)
	}

	q := a.openQueue(ctx, nil)
	op, err := q.Enqueue(ctx, p)
	if err != nil {
		exitErr("enqueue", err)
	}
	if err := a.syncer.SaveLocal(ctx, local); err != nil {
		exitErr("save profile", err)
	}

	out := map[string]any{"ok": true, "operation": op}
	if sync {
		res, err := q.Drain(ctx)
		if err != nil {
			exitErr("drain", err)
		}
		out["drain"] = drainJSON(res)
	}
	printJSON(out)
}

func entityExists(p *model.PortableProfile, entity model.EntityType, id string) bool {
	has := func(n int, key func(int) string) bool {
		for i := range n {
			if key(i) == id {
				return true
			}
		}
		return false
	}
	switch entity {
	case model.EntityIdentity:
		return p.Identity.ID == id
	case model.EntityMemory:
		all := p.Memories()
		return has(len(all), func(i int) string { return all[i].ID })
	case model.EntityConversation:
		return has(len(p.Conversations), func(i int) string { return p.Conversations[i].ID })
	case model.EntityInsight:
		return has(len(p.Insights), func(i int) string { return p.Insights[i].ID })
	case model.EntityPreference:
		return has(len(p.Preferences), func(i int) string { return p.Preferences[i].ID })
	case model.EntityProject:
		return has(len(p.Projects), func(i int) string { return p.Projects[i].ID })
	case model.EntityGrant:
		return has(len(p.ActiveGrants), func(i int) string { return p.ActiveGrants[i].ID })
	}
	return false
}
