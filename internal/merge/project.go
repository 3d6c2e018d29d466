package merge

import (
	"time"

	"github.com/rcliao/profile-sync/internal/model"
)

var projectRules = entityRules[model.Project]{
	kind:      model.EntityProject,
	id:        func(p model.Project) string { return p.ID },
	reconcile: reconcileProject,
	modified:  func(p model.Project) time.Time { return p.UpdatedAt },
	suggest: func(local, remote model.Project) Resolution {
		if remote.UpdatedAt.After(local.UpdatedAt) {
			return ResolveRemote
		}
		return ResolveLocal
	},
}

// reconcileProject always unions techStack and relatedMemories, into both the
// kept and the offered version. Name and description follow the field rule.
func reconcileProject(local, remote model.Project, base *model.Project) (model.Project, model.Project, []string) {
	var b model.Project
	if base != nil {
		b = *base
	}
	stack := union(local.TechStack, remote.TechStack)
	related := union(local.RelatedMemories, remote.RelatedMemories)

	name, nameOK := mergeField(local.Name, remote.Name, b.Name, base != nil)
	desc, descOK := mergeField(local.Description, remote.Description, b.Description, base != nil)
	var fields []string
	if !nameOK {
		fields = append(fields, "name")
	}
	if !descOK {
		fields = append(fields, "description")
	}

	merged := local
	merged.TechStack = stack
	merged.RelatedMemories = related
	if len(fields) > 0 {
		theirs := remote
		theirs.TechStack = union(remote.TechStack, local.TechStack)
		theirs.RelatedMemories = union(remote.RelatedMemories, local.RelatedMemories)
		return merged, theirs, fields
	}

	merged.Name = name
	merged.Description = desc
	if remote.UpdatedAt.After(local.UpdatedAt) {
		merged.Status = fill(remote.Status, local.Status)
	} else {
		merged.Status = fill(local.Status, remote.Status)
	}
	merged.CreatedAt = earliest(local.CreatedAt, remote.CreatedAt)
	merged.UpdatedAt = later(local.UpdatedAt, remote.UpdatedAt)
	return merged, remote, nil
}
