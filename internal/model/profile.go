package model

import "time"

// EntityType tags the collection an entity belongs to.
type EntityType string

// Entity kinds.
const (
	EntityIdentity     EntityType = "identity"
	EntityMemory       EntityType = "memory"
	EntityConversation EntityType = "conversation"
	EntityInsight      EntityType = "insight"
	EntityPreference   EntityType = "preference"
	EntityProject      EntityType = "project"
	EntityGrant        EntityType = "grant"
)

// ValidEntityTypes are the allowed entity kinds.
var ValidEntityTypes = map[EntityType]bool{
	EntityIdentity:     true,
	EntityMemory:       true,
	EntityConversation: true,
	EntityInsight:      true,
	EntityPreference:   true,
	EntityProject:      true,
	EntityGrant:        true,
}

// Identity is the single identity record of a profile.
type Identity struct {
	ID          string    `json:"id,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	FullName    string    `json:"fullName,omitempty"`
	Email       string    `json:"email,omitempty"`
	Location    string    `json:"location,omitempty"`
	Role        string    `json:"role,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

// PortableProfile is the root document synchronized across devices.
type PortableProfile struct {
	Identity        Identity         `json:"identity"`
	Preferences     []Preference     `json:"preferences"`
	ShortTermMemory []MemoryFragment `json:"shortTermMemory"`
	LongTermMemory  []MemoryFragment `json:"longTermMemory"`
	Projects        []Project        `json:"projects"`
	Conversations   []Conversation   `json:"conversations"`
	Insights        []Insight        `json:"insights"`
	ActiveGrants    []AccessGrant    `json:"activeGrants"`
}

// NewProfile returns an empty profile with non-nil collections.
func NewProfile(identity Identity) *PortableProfile {
	return &PortableProfile{
		Identity:        identity,
		Preferences:     []Preference{},
		ShortTermMemory: []MemoryFragment{},
		LongTermMemory:  []MemoryFragment{},
		Projects:        []Project{},
		Conversations:   []Conversation{},
		Insights:        []Insight{},
		ActiveGrants:    []AccessGrant{},
	}
}

// Memories returns short-term followed by long-term memory.
func (p *PortableProfile) Memories() []MemoryFragment {
	out := make([]MemoryFragment, 0, len(p.ShortTermMemory)+len(p.LongTermMemory))
	out = append(out, p.ShortTermMemory...)
	return append(out, p.LongTermMemory...)
}

// Counts returns the number of entities per collection.
func (p *PortableProfile) Counts() map[EntityType]int {
	return map[EntityType]int{
		EntityMemory:       len(p.ShortTermMemory) + len(p.LongTermMemory),
		EntityConversation: len(p.Conversations),
		EntityInsight:      len(p.Insights),
		EntityPreference:   len(p.Preferences),
		EntityProject:      len(p.Projects),
		EntityGrant:        len(p.ActiveGrants),
	}
}
