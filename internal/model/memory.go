// Package model defines the portable profile document and the sync queue records.
package model

import "time"

// MemoryFragment is a single remembered fact about the user.
type MemoryFragment struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Content        string    `json:"content"`
	Tags           []string  `json:"tags,omitempty"`
	Type           string    `json:"type"`
	Confidence     float64   `json:"confidence"`
	SourceModel    string    `json:"sourceModel,omitempty"`
	SourceProvider string    `json:"sourceProvider,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
}

// Memory types.
const (
	MemoryTechnical  = "technical"
	MemoryPersonal   = "personal"
	MemoryPreference = "preference"
	MemoryProject    = "project"
	MemoryKnowledge  = "knowledge"
	MemoryOther      = "other"
)

// ValidMemoryTypes are the allowed memory fragment types.
var ValidMemoryTypes = map[string]bool{
	MemoryTechnical:  true,
	MemoryPersonal:   true,
	MemoryPreference: true,
	MemoryProject:    true,
	MemoryKnowledge:  true,
	MemoryOther:      true,
}

// ShortTermLimit is the number of most recent memories kept in short-term memory.
const ShortTermLimit = 50

// Insight is a conclusion derived from one or more memories or conversations.
type Insight struct {
	ID          string    `json:"id"`
	Category    string    `json:"category,omitempty"`
	Content     string    `json:"content"`
	Confidence  float64   `json:"confidence"`
	DerivedFrom []string  `json:"derivedFrom,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Preference is a deliberate user choice. Preferences are never auto-merged.
type Preference struct {
	ID        string    `json:"id"`
	Category  string    `json:"category,omitempty"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	IsEnabled bool      `json:"isEnabled"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Project groups memories around a piece of work.
type Project struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Status          string    `json:"status,omitempty"`
	TechStack       []string  `json:"techStack,omitempty"`
	RelatedMemories []string  `json:"relatedMemories,omitempty"`
	CreatedAt       time.Time `json:"createdAt,omitzero"`
	UpdatedAt       time.Time `json:"updatedAt,omitzero"`
}

// AccessGrant gives a third party access to parts of the profile.
// Grants are immutable once issued.
type AccessGrant struct {
	ID        string     `json:"id"`
	Grantee   string     `json:"grantee"`
	Scopes    []string   `json:"scopes,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the grant is no longer valid at now.
func (g AccessGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}
