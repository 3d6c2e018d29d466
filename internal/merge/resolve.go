package merge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rcliao/profile-sync/internal/model"
)

var (
	// ErrInvalidResolution is returned for a custom resolution without a value
	// or an unknown choice.
	ErrInvalidResolution = errors.New("merge: invalid resolution")
	// ErrEntityNotFound is returned when a conflict names an entity that is
	// not in the profile.
	ErrEntityNotFound = errors.New("merge: entity not found")
)

// ResolutionChoice is the user's answer to one conflict.
type ResolutionChoice struct {
	Choice Resolution `json:"choice"`
	Value  any        `json:"value,omitempty"`
}

// ApplyResolution returns the version picked by choice.
func ApplyResolution(c Conflict, choice Resolution, custom any) (any, error) {
	switch choice {
	case ResolveLocal:
		return c.LocalVersion, nil
	case ResolveRemote:
		return c.RemoteVersion, nil
	case ResolveCustom:
		if custom == nil {
			return nil, fmt.Errorf("%w: custom choice for %s %s has no value", ErrInvalidResolution, c.Type, c.EntityID)
		}
		return custom, nil
	}
	return nil, fmt.Errorf("%w: unknown choice %q", ErrInvalidResolution, choice)
}

// ApplyResolutions returns a copy of profile with every resolved conflict
// written back. resolutions is keyed by conflict id; conflicts without an
// entry are left alone.
func ApplyResolutions(profile *model.PortableProfile, conflicts []Conflict, resolutions map[string]ResolutionChoice) (*model.PortableProfile, error) {
	out := seed(profile)
	for _, c := range conflicts {
		rc, ok := resolutions[c.ID]
		if !ok {
			continue
		}
		v, err := ApplyResolution(c, rc.Choice, rc.Value)
		if err != nil {
			return nil, err
		}
		if err := apply(out, c, v); err != nil {
			return nil, fmt.Errorf("resolve %s: %w", c.ID, err)
		}
	}
	return out, nil
}

func apply(p *model.PortableProfile, c Conflict, v any) error {
	switch c.Type {
	case model.EntityIdentity:
		id, err := decodeAs[model.Identity](v)
		if err != nil {
			return err
		}
		p.Identity = id
		return nil
	case model.EntityMemory:
		m, err := decodeAs[model.MemoryFragment](v)
		if err != nil {
			return err
		}
		if replace(p.ShortTermMemory, c.EntityID, m, func(x model.MemoryFragment) string { return x.ID }) ||
			replace(p.LongTermMemory, c.EntityID, m, func(x model.MemoryFragment) string { return x.ID }) {
			return nil
		}
	case model.EntityConversation:
		return replaceDecoded(p.Conversations, c.EntityID, v, func(x model.Conversation) string { return x.ID })
	case model.EntityInsight:
		return replaceDecoded(p.Insights, c.EntityID, v, func(x model.Insight) string { return x.ID })
	case model.EntityPreference:
		return replaceDecoded(p.Preferences, c.EntityID, v, func(x model.Preference) string { return x.ID })
	case model.EntityProject:
		return replaceDecoded(p.Projects, c.EntityID, v, func(x model.Project) string { return x.ID })
	case model.EntityGrant:
		return replaceDecoded(p.ActiveGrants, c.EntityID, v, func(x model.AccessGrant) string { return x.ID })
	default:
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidResolution, c.Type)
	}
	return fmt.Errorf("%w: %s %s", ErrEntityNotFound, c.Type, c.EntityID)
}

func replaceDecoded[T any](items []T, id string, v any, key func(T) string) error {
	item, err := decodeAs[T](v)
	if err != nil {
		return err
	}
	if !replace(items, id, item, key) {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return nil
}

func replace[T any](items []T, id string, item T, key func(T) string) bool {
	for i := range items {
		if key(items[i]) == id {
			items[i] = item
			return true
		}
	}
	return false
}

// decodeAs converts a conflict version to T. Versions read back from JSON are
// generic maps and are round-tripped through encoding/json.
func decodeAs[T any](v any) (T, error) {
	var out T
	switch x := v.(type) {
	case T:
		return x, nil
	case *T:
		if x != nil {
			return *x, nil
		}
	case json.RawMessage:
		if err := json.Unmarshal(x, &out); err != nil {
			return out, fmt.Errorf("%w: %v", ErrInvalidResolution, err)
		}
		return out, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidResolution, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidResolution, err)
	}
	return out, nil
}
