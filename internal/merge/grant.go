package merge

import (
	"time"

	"github.com/rcliao/profile-sync/internal/model"
)

// mergeGrants unions grants by id, keeping the local copy of a shared grant,
// and drops every grant expired at now. It returns the number dropped.
func mergeGrants(local, remote []model.AccessGrant, now time.Time) ([]model.AccessGrant, Counts, int) {
	out := make([]model.AccessGrant, 0, len(local)+len(remote))
	seen := make(map[string]bool, len(local)+len(remote))
	var counts Counts
	expired := 0
	for _, g := range local {
		seen[g.ID] = true
		if g.Expired(now) {
			expired++
			continue
		}
		out = append(out, g)
	}
	for _, g := range remote {
		if seen[g.ID] {
			if !g.Expired(now) {
				counts.Merged++
				counts.AutoMerged++
			}
			continue
		}
		seen[g.ID] = true
		if g.Expired(now) {
			expired++
			continue
		}
		out = append(out, g)
		counts.Added++
	}
	return out, counts, expired
}
