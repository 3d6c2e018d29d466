package merge

import (
	"time"

	"github.com/rcliao/profile-sync/internal/model"
)

// Options tune a merge.
type Options struct {
	// Now is the merge time used for grant expiry. A zero Now keeps every
	// grant whose expiry is set after the zero time.
	Now time.Time
	// ShortTermLimit caps short-term memory. Zero means model.ShortTermLimit.
	ShortTermLimit int
}

// Stats aggregates merge counters over all collections.
type Stats struct {
	Counts
	Entities      map[model.EntityType]Counts `json:"entities"`
	ExpiredGrants int                         `json:"expiredGrants"`
}

// Result is the outcome of SmartMerge.
type Result struct {
	Merged       *model.PortableProfile `json:"merged"`
	Conflicts    []Conflict             `json:"conflicts"`
	AutoResolved int                    `json:"autoResolved"`
	Stats        Stats                  `json:"stats"`
}

// HasConflicts reports whether the merge left anything for the user.
func (r *Result) HasConflicts() bool { return len(r.Conflicts) > 0 }

// SmartMerge merges remote into local, using base as the common ancestor when
// it is non-nil. The inputs are never modified.
func SmartMerge(local, remote, base *model.PortableProfile, opts Options) *Result {
	if opts.ShortTermLimit <= 0 {
		opts.ShortTermLimit = model.ShortTermLimit
	}
	merged := seed(local)
	theirs := seed(remote)
	var ancestor *model.PortableProfile
	if base != nil {
		ancestor = base.Clone()
	}

	res := &Result{
		Merged:    merged,
		Conflicts: []Conflict{},
		Stats:     Stats{Entities: make(map[model.EntityType]Counts, len(model.ValidEntityTypes))},
	}
	record := func(kind model.EntityType, c Counts, conflicts []Conflict) {
		res.Stats.Entities[kind] = c
		res.Stats.add(c)
		res.Conflicts = append(res.Conflicts, conflicts...)
	}

	var baseIdentity *model.Identity
	if ancestor != nil {
		baseIdentity = &ancestor.Identity
	}
	identity, idConflict, idCounts := mergeIdentity(merged.Identity, theirs.Identity, baseIdentity)
	merged.Identity = identity
	if idConflict != nil {
		record(model.EntityIdentity, idCounts, []Conflict{*idConflict})
	} else {
		record(model.EntityIdentity, idCounts, nil)
	}

	mem := mergeCollection(memoryRules, merged.Memories(), theirs.Memories(), baseList(ancestor, (*model.PortableProfile).Memories))
	merged.ShortTermMemory, merged.LongTermMemory = partitionMemories(mem.items, opts.ShortTermLimit)
	record(model.EntityMemory, mem.counts, mem.conflicts)

	conv := mergeCollection(conversationRules, merged.Conversations, theirs.Conversations, baseList(ancestor, func(p *model.PortableProfile) []model.Conversation { return p.Conversations }))
	merged.Conversations = conv.items
	record(model.EntityConversation, conv.counts, conv.conflicts)

	ins := mergeCollection(insightRules, merged.Insights, theirs.Insights, baseList(ancestor, func(p *model.PortableProfile) []model.Insight { return p.Insights }))
	merged.Insights = ins.items
	record(model.EntityInsight, ins.counts, ins.conflicts)

	prefs := mergeCollection(preferenceRules, merged.Preferences, theirs.Preferences, baseList(ancestor, func(p *model.PortableProfile) []model.Preference { return p.Preferences }))
	merged.Preferences = prefs.items
	record(model.EntityPreference, prefs.counts, prefs.conflicts)

	projects := mergeCollection(projectRules, merged.Projects, theirs.Projects, baseList(ancestor, func(p *model.PortableProfile) []model.Project { return p.Projects }))
	merged.Projects = projects.items
	record(model.EntityProject, projects.counts, projects.conflicts)

	grants, grantCounts, expired := mergeGrants(merged.ActiveGrants, theirs.ActiveGrants, opts.Now)
	merged.ActiveGrants = grants
	res.Stats.ExpiredGrants = expired
	record(model.EntityGrant, grantCounts, nil)

	res.AutoResolved = res.Stats.AutoMerged
	return res
}

func seed(p *model.PortableProfile) *model.PortableProfile {
	if p == nil {
		return model.NewProfile(model.Identity{})
	}
	return p.Clone()
}

func baseList[T any](base *model.PortableProfile, get func(*model.PortableProfile) []T) []T {
	if base == nil {
		return nil
	}
	return get(base)
}
