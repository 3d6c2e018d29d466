package model

import (
	"strings"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Sync block provenance tags set by block merges.
const (
	SyncBlockLocal  = "local"
	SyncBlockRemote = "remote"
)

// Message is one entry of a conversation log.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SyncBlock string    `json:"_syncBlock,omitempty"`
}

// ConversationMetadata describes where a conversation came from.
type ConversationMetadata struct {
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	ImportedAt   time.Time `json:"importedAt,omitzero"`
	MessageCount int       `json:"messageCount"`
	WordCount    int       `json:"wordCount"`
}

// Conversation is an ordered message log.
type Conversation struct {
	ID       string               `json:"id"`
	Title    string               `json:"title"`
	Messages []Message            `json:"messages"`
	Metadata ConversationMetadata `json:"metadata"`
	Tags     []string             `json:"tags,omitempty"`
}

// WordCount counts whitespace separated words across all messages.
func WordCount(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += len(strings.Fields(m.Content))
	}
	return n
}

// ClearSyncBlocks drops the block provenance tags of every message. The tags
// describe one merge and are not stored.
func (p *PortableProfile) ClearSyncBlocks() {
	for i := range p.Conversations {
		for j := range p.Conversations[i].Messages {
			p.Conversations[i].Messages[j].SyncBlock = ""
		}
	}
}
