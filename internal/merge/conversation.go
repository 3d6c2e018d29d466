package merge

import (
	"time"

	"github.com/rcliao/profile-sync/internal/model"
)

var conversationRules = entityRules[model.Conversation]{
	kind:      model.EntityConversation,
	id:        func(c model.Conversation) string { return c.ID },
	reconcile: reconcileConversation,
	modified:  func(c model.Conversation) time.Time { return c.Metadata.UpdatedAt },
}

// reconcileConversation never reports conflicting fields. Message logs that
// diverged on both sides are block merged.
//
// TODO: divergent logs could be surfaced as a conversation conflict if users
// ask to pick a side; for now history completeness wins.
func reconcileConversation(local, remote model.Conversation, base *model.Conversation) (model.Conversation, model.Conversation, []string) {
	var b model.Conversation
	var baseMsgs []model.Message
	if base != nil {
		b = *base
		baseMsgs = base.Messages
	}

	merged := local
	title, ok := mergeField(local.Title, remote.Title, b.Title, base != nil)
	if !ok && remote.Metadata.UpdatedAt.After(local.Metadata.UpdatedAt) {
		title = remote.Title
	}
	merged.Title = title
	merged.Tags = union(local.Tags, remote.Tags)
	merged.Messages = mergeMessages(local.Messages, remote.Messages, baseMsgs, base != nil)

	meta := local.Metadata
	meta.Provider = fill(local.Metadata.Provider, remote.Metadata.Provider)
	meta.Model = fill(local.Metadata.Model, remote.Metadata.Model)
	meta.CreatedAt = earliest(local.Metadata.CreatedAt, remote.Metadata.CreatedAt)
	meta.UpdatedAt = later(local.Metadata.UpdatedAt, remote.Metadata.UpdatedAt)
	meta.ImportedAt = later(local.Metadata.ImportedAt, remote.Metadata.ImportedAt)
	meta.MessageCount = len(merged.Messages)
	meta.WordCount = model.WordCount(merged.Messages)
	merged.Metadata = meta

	return merged, remote, nil
}

// mergeMessages block merges two message logs.
//
// The common set is the base ids when a base exists and the intersection of
// both sides otherwise. Common messages keep the local order (remote-only
// common messages follow so nothing is lost). New messages are appended as
// contiguous blocks; when both sides added messages each block is tagged with
// its origin and remote messages already in the local block are dropped.
func mergeMessages(local, remote, base []model.Message, hasBase bool) []model.Message {
	common := make(map[string]bool)
	if hasBase {
		for _, m := range base {
			common[m.ID] = true
		}
	} else {
		inLocal := make(map[string]bool, len(local))
		for _, m := range local {
			inLocal[m.ID] = true
		}
		for _, m := range remote {
			if inLocal[m.ID] {
				common[m.ID] = true
			}
		}
	}

	out := make([]model.Message, 0, len(local)+len(remote))
	placed := make(map[string]bool, len(local)+len(remote))
	var localNew, remoteNew []model.Message

	for _, m := range local {
		if common[m.ID] {
			out = append(out, m)
			placed[m.ID] = true
		} else {
			localNew = append(localNew, m)
		}
	}
	for _, m := range remote {
		if common[m.ID] {
			if !placed[m.ID] {
				out = append(out, m)
				placed[m.ID] = true
			}
		} else {
			remoteNew = append(remoteNew, m)
		}
	}

	switch {
	case len(localNew) == 0 && len(remoteNew) == 0:
	case len(remoteNew) == 0:
		out = appendBlock(out, placed, localNew, "")
	case len(localNew) == 0:
		out = appendBlock(out, placed, remoteNew, "")
	default:
		out = appendBlock(out, placed, localNew, model.SyncBlockLocal)
		out = appendBlock(out, placed, remoteNew, model.SyncBlockRemote)
	}
	return out
}

func appendBlock(out []model.Message, placed map[string]bool, block []model.Message, tag string) []model.Message {
	for _, m := range block {
		if placed[m.ID] {
			continue
		}
		placed[m.ID] = true
		if tag != "" {
			m.SyncBlock = tag
		}
		out = append(out, m)
	}
	return out
}
