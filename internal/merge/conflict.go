package merge

import (
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/profile-sync/internal/model"
)

// Resolution names the side chosen for a conflict.
type Resolution string

// Resolution choices.
const (
	ResolveLocal  Resolution = "local"
	ResolveRemote Resolution = "remote"
	ResolveCustom Resolution = "custom"
)

// conflictNamespace seeds the name-based conflict ids.
var conflictNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://profile-sync.local/conflict"))

// Conflict records an entity both sides changed incompatibly. The local
// version stays in the merged profile until the conflict is resolved.
//
// LocalVersion and RemoteVersion hold the concrete entity type for Type
// (model.Identity, model.MemoryFragment, model.Insight, model.Preference or
// model.Project).
type Conflict struct {
	ID                  string           `json:"id"`
	Type                model.EntityType `json:"type"`
	EntityID            string           `json:"entityId"`
	LocalVersion        any              `json:"localVersion"`
	RemoteVersion       any              `json:"remoteVersion"`
	AutoMergeable       bool             `json:"autoMergeable"`
	ConflictingFields   []string         `json:"conflictingFields"`
	LocalModifiedAt     time.Time        `json:"localModifiedAt,omitzero"`
	RemoteModifiedAt    time.Time        `json:"remoteModifiedAt,omitzero"`
	SuggestedResolution Resolution       `json:"suggestedResolution,omitempty"`
}

// ConflictID derives the id of the conflict on one entity. The id only
// depends on the entity, so replaying a merge yields the same ids.
func ConflictID(kind model.EntityType, entityID string) string {
	return uuid.NewSHA1(conflictNamespace, []byte(string(kind)+"/"+entityID)).String()
}

// Counts are the per collection merge counters.
type Counts struct {
	Added      int `json:"added"`
	Merged     int `json:"merged"`
	AutoMerged int `json:"autoMerged"`
	Conflicts  int `json:"conflicts"`
}

func (c *Counts) add(o Counts) {
	c.Added += o.Added
	c.Merged += o.Merged
	c.AutoMerged += o.AutoMerged
	c.Conflicts += o.Conflicts
}

// entityRules describes how one collection type is merged.
type entityRules[T any] struct {
	kind model.EntityType
	id   func(T) string
	// reconcile merges an item present on both sides. With conflicting
	// fields, kept is the version that stays in the collection and remoteVersion is
	// the version offered in the conflict.
	reconcile func(local, remote T, base *T) (kept, remoteVersion T, fields []string)
	modified  func(T) time.Time
	suggest   func(local, remote T) Resolution
}

type collectionResult[T any] struct {
	items     []T
	conflicts []Conflict
	counts    Counts
}

// mergeCollection runs the generic collection algorithm. local must already
// be a private copy; it is reused as the output slice.
func mergeCollection[T any](r entityRules[T], local, remote, base []T) collectionResult[T] {
	res := collectionResult[T]{items: local}
	pos := make(map[string]int, len(local))
	for i, item := range local {
		pos[r.id(item)] = i
	}
	baseByID := make(map[string]T, len(base))
	for _, item := range base {
		baseByID[r.id(item)] = item
	}

	for _, rem := range remote {
		id := r.id(rem)
		i, ok := pos[id]
		if !ok {
			pos[id] = len(res.items)
			res.items = append(res.items, rem)
			res.counts.Added++
			continue
		}

		var b *T
		if bv, ok := baseByID[id]; ok {
			b = &bv
		}
		kept, remoteVersion, fields := r.reconcile(res.items[i], rem, b)
		res.items[i] = kept
		if len(fields) == 0 {
			res.counts.Merged++
			res.counts.AutoMerged++
			continue
		}

		c := Conflict{
			ID:                ConflictID(r.kind, id),
			Type:              r.kind,
			EntityID:          id,
			LocalVersion:      kept,
			RemoteVersion:     remoteVersion,
			ConflictingFields: fields,
		}
		if r.modified != nil {
			c.LocalModifiedAt = r.modified(kept)
			c.RemoteModifiedAt = r.modified(remoteVersion)
		}
		if r.suggest != nil {
			c.SuggestedResolution = r.suggest(kept, remoteVersion)
		}
		res.conflicts = append(res.conflicts, c)
		res.counts.Conflicts++
	}
	return res
}
