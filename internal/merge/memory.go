package merge

import (
	"cmp"
	"slices"
	"time"

	"github.com/rcliao/profile-sync/internal/model"
)

var memoryRules = entityRules[model.MemoryFragment]{
	kind:      model.EntityMemory,
	id:        func(m model.MemoryFragment) string { return m.ID },
	reconcile: reconcileMemory,
	modified:  func(m model.MemoryFragment) time.Time { return m.Timestamp },
	suggest: func(local, remote model.MemoryFragment) Resolution {
		if remote.Timestamp.After(local.Timestamp) {
			return ResolveRemote
		}
		return ResolveLocal
	},
}

// reconcileMemory conflicts when content or type diverged. Otherwise tags are
// unioned, confidence is the max of both sides and the timestamp the later.
func reconcileMemory(local, remote model.MemoryFragment, base *model.MemoryFragment) (model.MemoryFragment, model.MemoryFragment, []string) {
	var b model.MemoryFragment
	if base != nil {
		b = *base
	}
	content, contentOK := mergeField(local.Content, remote.Content, b.Content, base != nil)
	typ, typeOK := mergeField(local.Type, remote.Type, b.Type, base != nil)

	var fields []string
	if !contentOK {
		fields = append(fields, "content")
	}
	if !typeOK {
		fields = append(fields, "type")
	}
	if len(fields) > 0 {
		return local, remote, fields
	}

	merged := local
	merged.Content = content
	merged.Type = typ
	merged.Tags = union(local.Tags, remote.Tags)
	merged.Confidence = max(local.Confidence, remote.Confidence)
	merged.Timestamp = later(local.Timestamp, remote.Timestamp)
	merged.SourceModel = fill(local.SourceModel, remote.SourceModel)
	merged.SourceProvider = fill(local.SourceProvider, remote.SourceProvider)
	merged.ConversationID = fill(local.ConversationID, remote.ConversationID)
	return merged, remote, nil
}

// partitionMemories splits memories into the limit most recent (short-term)
// and the rest (long-term). Both halves keep the input order.
func partitionMemories(all []model.MemoryFragment, limit int) (short, long []model.MemoryFragment) {
	short = []model.MemoryFragment{}
	long = []model.MemoryFragment{}
	if len(all) <= limit {
		return append(short, all...), long
	}

	ranked := slices.Clone(all)
	slices.SortStableFunc(ranked, func(a, b model.MemoryFragment) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	recent := make(map[string]bool, limit)
	for _, m := range ranked[:limit] {
		recent[m.ID] = true
	}
	for _, m := range all {
		if recent[m.ID] {
			short = append(short, m)
		} else {
			long = append(long, m)
		}
	}
	return short, long
}

// Repartition redistributes p's memories between short-term and long-term
// after local edits. A limit of zero means model.ShortTermLimit.
func Repartition(p *model.PortableProfile, limit int) {
	if limit <= 0 {
		limit = model.ShortTermLimit
	}
	p.ShortTermMemory, p.LongTermMemory = partitionMemories(p.Memories(), limit)
}
