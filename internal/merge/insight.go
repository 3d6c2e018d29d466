package merge

import (
	"time"

	"github.com/rcliao/profile-sync/internal/model"
)

var insightRules = entityRules[model.Insight]{
	kind:      model.EntityInsight,
	id:        func(in model.Insight) string { return in.ID },
	reconcile: reconcileInsight,
	modified:  func(in model.Insight) time.Time { return in.UpdatedAt },
	suggest:   func(model.Insight, model.Insight) Resolution { return ResolveLocal },
}

// reconcileInsight unions derivedFrom when content matches. Diverged content
// goes to the strictly newer side and only conflicts on equal updatedAt.
func reconcileInsight(local, remote model.Insight, _ *model.Insight) (model.Insight, model.Insight, []string) {
	if !sameText(local.Content, remote.Content) {
		switch {
		case remote.UpdatedAt.After(local.UpdatedAt):
			return remote, remote, nil
		case local.UpdatedAt.After(remote.UpdatedAt):
			return local, remote, nil
		}
		return local, remote, []string{"content"}
	}

	merged := local
	merged.DerivedFrom = union(local.DerivedFrom, remote.DerivedFrom)
	merged.Confidence = max(local.Confidence, remote.Confidence)
	merged.Category = fill(local.Category, remote.Category)
	merged.CreatedAt = earliest(local.CreatedAt, remote.CreatedAt)
	merged.UpdatedAt = later(local.UpdatedAt, remote.UpdatedAt)
	return merged, remote, nil
}
