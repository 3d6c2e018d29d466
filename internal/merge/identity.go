package merge

import (
	"slices"

	"github.com/rcliao/profile-sync/internal/model"
)

// identityFields lists the mergeable identity fields by their JSON name.
var identityFields = []struct {
	name string
	get  func(*model.Identity) *string
}{
	{"displayName", func(i *model.Identity) *string { return &i.DisplayName }},
	{"fullName", func(i *model.Identity) *string { return &i.FullName }},
	{"email", func(i *model.Identity) *string { return &i.Email }},
	{"location", func(i *model.Identity) *string { return &i.Location }},
	{"role", func(i *model.Identity) *string { return &i.Role }},
	{"avatarUrl", func(i *model.Identity) *string { return &i.AvatarURL }},
}

// mergeIdentity merges the identity record field by field. All conflicting
// fields are bundled into one conflict; non-conflicting fields are merged
// even when another field conflicts.
func mergeIdentity(local, remote model.Identity, base *model.Identity) (model.Identity, *Conflict, Counts) {
	var b model.Identity
	if base != nil {
		b = *base
	}
	merged := local
	merged.ID = fill(local.ID, remote.ID)
	merged.UpdatedAt = later(local.UpdatedAt, remote.UpdatedAt)

	var fields []string
	for _, f := range identityFields {
		v, ok := mergeField(*f.get(&local), *f.get(&remote), *f.get(&b), base != nil)
		if !ok {
			fields = append(fields, f.name)
			continue
		}
		*f.get(&merged) = v
	}

	if len(fields) == 0 {
		return merged, nil, Counts{Merged: 1, AutoMerged: 1}
	}

	// Both versions carry the merged non-conflicting fields so that picking
	// a side only decides the conflicting ones.
	theirs := merged
	for _, f := range identityFields {
		if slices.Contains(fields, f.name) {
			*f.get(&theirs) = *f.get(&remote)
		}
	}
	entityID := merged.ID
	if entityID == "" {
		entityID = string(model.EntityIdentity)
	}
	return merged, &Conflict{
		ID:                ConflictID(model.EntityIdentity, entityID),
		Type:              model.EntityIdentity,
		EntityID:          entityID,
		LocalVersion:      merged,
		RemoteVersion:     theirs,
		ConflictingFields: fields,
		LocalModifiedAt:   local.UpdatedAt,
		RemoteModifiedAt:  remote.UpdatedAt,
	}, Counts{Conflicts: 1}
}
