package merge

import (
	"time"

	"github.com/rcliao/profile-sync/internal/model"
)

// Preferences are deliberate choices: any divergence in value or enabled
// state is surfaced, even with a base.
var preferenceRules = entityRules[model.Preference]{
	kind: model.EntityPreference,
	id:   func(p model.Preference) string { return p.ID },
	reconcile: func(local, remote model.Preference, _ *model.Preference) (model.Preference, model.Preference, []string) {
		var fields []string
		if local.Value != remote.Value {
			fields = append(fields, "value")
		}
		if local.IsEnabled != remote.IsEnabled {
			fields = append(fields, "isEnabled")
		}
		if len(fields) > 0 {
			return local, remote, fields
		}
		merged := local
		merged.Category = fill(local.Category, remote.Category)
		merged.UpdatedAt = later(local.UpdatedAt, remote.UpdatedAt)
		return merged, remote, nil
	},
	modified: func(p model.Preference) time.Time { return p.UpdatedAt },
	suggest:  func(model.Preference, model.Preference) Resolution { return ResolveLocal },
}
