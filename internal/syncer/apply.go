package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/rcliao/profile-sync/internal/merge"
	"github.com/rcliao/profile-sync/internal/model"
)

// ErrBadPayload is returned for an operation whose payload does not decode
// into its entity type or names a different entity.
var ErrBadPayload = errors.New("sync: bad operation payload")

// ApplyOperation applies a local mutation to p in place. Deleting an entity
// that does not exist is not an error.
func ApplyOperation(p *model.PortableProfile, op model.QueuedOperation, shortTermLimit int) error {
	if op.Entity == model.EntityIdentity {
		if op.Type == model.OpDelete {
			return fmt.Errorf("%w: the identity cannot be deleted", ErrBadPayload)
		}
		id, err := decodePayload(op, func(i model.Identity) string { return i.ID })
		if err != nil {
			return err
		}
		p.Identity = id
		return nil
	}

	var err error
	switch op.Entity {
	case model.EntityMemory:
		all := p.Memories()
		all, err = applyTo(all, op, func(m model.MemoryFragment) string { return m.ID })
		if err == nil {
			p.ShortTermMemory, p.LongTermMemory = all, nil
			merge.Repartition(p, shortTermLimit)
		}
	case model.EntityConversation:
		p.Conversations, err = applyTo(p.Conversations, op, func(c model.Conversation) string { return c.ID })
	case model.EntityInsight:
		p.Insights, err = applyTo(p.Insights, op, func(i model.Insight) string { return i.ID })
	case model.EntityPreference:
		p.Preferences, err = applyTo(p.Preferences, op, func(pr model.Preference) string { return pr.ID })
	case model.EntityProject:
		p.Projects, err = applyTo(p.Projects, op, func(pr model.Project) string { return pr.ID })
	case model.EntityGrant:
		p.ActiveGrants, err = applyTo(p.ActiveGrants, op, func(g model.AccessGrant) string { return g.ID })
	default:
		err = fmt.Errorf("%w: unknown entity %q", ErrBadPayload, op.Entity)
	}
	return err
}

func applyTo[T any](items []T, op model.QueuedOperation, key func(T) string) ([]T, error) {
	if op.Type == model.OpDelete {
		return slices.DeleteFunc(items, func(it T) bool { return key(it) == op.EntityID }), nil
	}
	item, err := decodePayload(op, key)
	if err != nil {
		return items, err
	}
	if i := slices.IndexFunc(items, func(it T) bool { return key(it) == op.EntityID }); i >= 0 {
		items[i] = item
		return items, nil
	}
	return append(items, item), nil
}

func decodePayload[T any](op model.QueuedOperation, key func(T) string) (T, error) {
	var v T
	if len(op.Payload) == 0 {
		return v, fmt.Errorf("%w: %s %s has no payload", ErrBadPayload, op.Type, op.Entity)
	}
	if err := json.Unmarshal(op.Payload, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if got := key(v); got != op.EntityID {
		return v, fmt.Errorf("%w: payload id %q does not match %q", ErrBadPayload, got, op.EntityID)
	}
	return v, nil
}
