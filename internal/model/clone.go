package model

import "slices"

// Clone returns a deep copy of the profile.
func (p *PortableProfile) Clone() *PortableProfile {
	if p == nil {
		return nil
	}
	out := &PortableProfile{
		Identity:        p.Identity,
		Preferences:     slices.Clone(p.Preferences),
		ShortTermMemory: cloneMemories(p.ShortTermMemory),
		LongTermMemory:  cloneMemories(p.LongTermMemory),
		Projects:        make([]Project, len(p.Projects)),
		Conversations:   make([]Conversation, len(p.Conversations)),
		Insights:        make([]Insight, len(p.Insights)),
		ActiveGrants:    make([]AccessGrant, len(p.ActiveGrants)),
	}
	if out.Preferences == nil {
		out.Preferences = []Preference{}
	}
	for i, pr := range p.Projects {
		out.Projects[i] = pr.Clone()
	}
	for i, c := range p.Conversations {
		out.Conversations[i] = c.Clone()
	}
	for i, in := range p.Insights {
		out.Insights[i] = in.Clone()
	}
	for i, g := range p.ActiveGrants {
		out.ActiveGrants[i] = g.Clone()
	}
	return out
}

func cloneMemories(in []MemoryFragment) []MemoryFragment {
	out := make([]MemoryFragment, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

// Clone returns a deep copy of the memory.
func (m MemoryFragment) Clone() MemoryFragment {
	m.Tags = slices.Clone(m.Tags)
	return m
}

// Clone returns a deep copy of the conversation.
func (c Conversation) Clone() Conversation {
	c.Messages = slices.Clone(c.Messages)
	c.Tags = slices.Clone(c.Tags)
	return c
}

// Clone returns a deep copy of the insight.
func (in Insight) Clone() Insight {
	in.DerivedFrom = slices.Clone(in.DerivedFrom)
	return in
}

// Clone returns a deep copy of the project.
func (p Project) Clone() Project {
	p.TechStack = slices.Clone(p.TechStack)
	p.RelatedMemories = slices.Clone(p.RelatedMemories)
	return p
}

// Clone returns a deep copy of the grant.
func (g AccessGrant) Clone() AccessGrant {
	g.Scopes = slices.Clone(g.Scopes)
	if g.ExpiresAt != nil {
		t := *g.ExpiresAt
		g.ExpiresAt = &t
	}
	return g
}
