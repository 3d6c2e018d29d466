package merge

import (
	"fmt"
	"io"
	"strings"

	"github.com/rcliao/profile-sync/internal/model"
)

// mergeOrder is the order collections are merged and reported in.
var mergeOrder = []model.EntityType{
	model.EntityIdentity,
	model.EntityMemory,
	model.EntityConversation,
	model.EntityInsight,
	model.EntityPreference,
	model.EntityProject,
	model.EntityGrant,
}

// WriteReport renders a merge result as plain text. The output only depends
// on the result, so it is stable across runs.
func WriteReport(w io.Writer, r *Result) error {
	var b strings.Builder
	s := r.Stats
	fmt.Fprintf(&b, "merge: %d added, %d merged, %d auto-merged, %d conflicts\n",
		s.Added, s.Merged, s.AutoMerged, s.Conflicts)
	for _, kind := range mergeOrder {
		c := s.Entities[kind]
		fmt.Fprintf(&b, "  %-13s added=%d merged=%d auto=%d conflicts=%d\n",
			kind, c.Added, c.Merged, c.AutoMerged, c.Conflicts)
	}
	if s.ExpiredGrants > 0 {
		fmt.Fprintf(&b, "expired grants dropped: %d\n", s.ExpiredGrants)
	}
	if r.Merged != nil {
		fmt.Fprintf(&b, "memory: %d short-term, %d long-term\n",
			len(r.Merged.ShortTermMemory), len(r.Merged.LongTermMemory))
	}
	if len(r.Conflicts) == 0 {
		b.WriteString("no conflicts\n")
	} else {
		b.WriteString("conflicts:\n")
		for _, c := range r.Conflicts {
			fmt.Fprintf(&b, "  %s %s/%s fields=%s", c.ID, c.Type, c.EntityID, strings.Join(c.ConflictingFields, ","))
			if c.SuggestedResolution != "" {
				fmt.Fprintf(&b, " suggest=%s", c.SuggestedResolution)
			}
			b.WriteByte('\n')
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
