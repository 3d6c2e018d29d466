package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProfile(t *testing.T) {
	data := []byte(`{
		"identity": {"id": "u1", "displayName": "Ada"},
		"preferences": null,
		"shortTermMemory": [{"id": "m1", "content": "likes go", "confidence": 0.9, "tags": ["lang"]}],
		"conversations": [{"id": "c1", "title": "hi", "messages": [{"id": "x", "role": "user", "content": "hello there"}]}]
	}`)

	p, err := ParseProfile(data)
	require.NoError(t, err)

	assert.Equal(t, "Ada", p.Identity.DisplayName)
	assert.NotNil(t, p.Preferences)
	assert.NotNil(t, p.LongTermMemory)
	assert.NotNil(t, p.ActiveGrants)
	require.Len(t, p.ShortTermMemory, 1)
	assert.Equal(t, []string{"lang"}, p.ShortTermMemory[0].Tags)
	assert.Equal(t, 1, p.Counts()[EntityConversation])
}

func TestParseProfileRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing identity", `{"preferences": []}`},
		{"memory without id", `{"identity": {}, "longTermMemory": [{"content": "x"}]}`},
		{"empty id", `{"identity": {}, "insights": [{"id": ""}]}`},
		{"confidence out of range", `{"identity": {}, "shortTermMemory": [{"id": "m", "content": "x", "confidence": 2}]}`},
		{"unknown role", `{"identity": {}, "conversations": [{"id": "c", "messages": [{"id": "x", "role": "robot"}]}]}`},
		{"preference without key", `{"identity": {}, "preferences": [{"id": "p"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfile([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestGrantExpired(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, AccessGrant{}.Expired(now))
	assert.True(t, AccessGrant{ExpiresAt: &past}.Expired(now))
	assert.True(t, AccessGrant{ExpiresAt: &now}.Expired(now))
	assert.False(t, AccessGrant{ExpiresAt: &future}.Expired(now))
}

func TestWordCount(t *testing.T) {
	msgs := []Message{{Content: "hello  there\nfriend"}, {Content: ""}, {Content: " one "}}
	assert.Equal(t, 4, WordCount(msgs))
}

func TestCloneIsDeep(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewProfile(Identity{ID: "u1"})
	p.ShortTermMemory = append(p.ShortTermMemory, MemoryFragment{ID: "m1", Tags: []string{"a"}})
	p.Conversations = append(p.Conversations, Conversation{ID: "c1", Messages: []Message{{ID: "x", Content: "hi"}}})
	p.ActiveGrants = append(p.ActiveGrants, AccessGrant{ID: "g1", Scopes: []string{"read"}, ExpiresAt: &exp})

	c := p.Clone()
	c.ShortTermMemory[0].Tags[0] = "changed"
	c.Conversations[0].Messages[0].Content = "changed"
	c.ActiveGrants[0].Scopes[0] = "changed"
	*c.ActiveGrants[0].ExpiresAt = exp.Add(time.Hour)

	assert.Equal(t, "a", p.ShortTermMemory[0].Tags[0])
	assert.Equal(t, "hi", p.Conversations[0].Messages[0].Content)
	assert.Equal(t, "read", p.ActiveGrants[0].Scopes[0])
	assert.Equal(t, exp, *p.ActiveGrants[0].ExpiresAt)
	assert.Nil(t, (*PortableProfile)(nil).Clone())
}
