package merge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/profile-sync/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id, content string, at time.Time) model.Message {
	return model.Message{ID: id, Role: model.RoleUser, Content: content, Timestamp: at}
}

func conversation(id string, msgs ...model.Message) model.Conversation {
	return model.Conversation{
		ID:       id,
		Title:    "chat " + id,
		Messages: msgs,
		Metadata: model.ConversationMetadata{
			Provider:     "openai",
			CreatedAt:    t0,
			UpdatedAt:    t0,
			MessageCount: len(msgs),
			WordCount:    model.WordCount(msgs),
		},
	}
}

func memory(id, content string, tags ...string) model.MemoryFragment {
	return model.MemoryFragment{
		ID:         id,
		Timestamp:  t0,
		Content:    content,
		Tags:       tags,
		Type:       model.MemoryPersonal,
		Confidence: 0.5,
	}
}

func TestMemoryTagUnion(t *testing.T) {
	local := model.NewProfile(model.Identity{})
	local.ShortTermMemory = []model.MemoryFragment{memory("m1", "A", "x")}
	remote := model.NewProfile(model.Identity{})
	remote.ShortTermMemory = []model.MemoryFragment{memory("m1", "A", "y")}
	base := local.Clone()

	res := SmartMerge(local, remote, base, Options{Now: t0})

	require.Empty(t, res.Conflicts)
	require.Len(t, res.Merged.ShortTermMemory, 1)
	assert.ElementsMatch(t, []string{"x", "y"}, res.Merged.ShortTermMemory[0].Tags)
	assert.Equal(t, Counts{Merged: 1, AutoMerged: 1}, res.Stats.Entities[model.EntityMemory])
}

func TestMemoryAutoMerge(t *testing.T) {
	l := memory("m1", "likes go", "x")
	r := memory("m1", "likes Go a lot", "y")
	r.Confidence = 0.9
	r.Timestamp = t0.Add(time.Hour)
	r.SourceModel = "gpt-4o"
	b := memory("m1", "likes go")

	merged, _, fields := reconcileMemory(l, r, &b)

	require.Empty(t, fields)
	assert.Equal(t, "likes Go a lot", merged.Content)
	assert.Equal(t, 0.9, merged.Confidence)
	assert.Equal(t, t0.Add(time.Hour), merged.Timestamp)
	assert.Equal(t, "gpt-4o", merged.SourceModel)
	assert.Equal(t, []string{"x", "y"}, merged.Tags)
}

func TestMemoryContentConflict(t *testing.T) {
	local := model.NewProfile(model.Identity{})
	local.ShortTermMemory = []model.MemoryFragment{memory("m1", "lives in Paris")}
	remote := model.NewProfile(model.Identity{})
	r := memory("m1", "lives in Rome")
	r.Timestamp = t0.Add(time.Minute)
	remote.ShortTermMemory = []model.MemoryFragment{r}

	res := SmartMerge(local, remote, nil, Options{Now: t0})

	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, model.EntityMemory, c.Type)
	assert.Equal(t, []string{"content"}, c.ConflictingFields)
	assert.Equal(t, ResolveRemote, c.SuggestedResolution)
	assert.False(t, c.AutoMergeable)
	assert.Equal(t, "lives in Paris", res.Merged.ShortTermMemory[0].Content)
	assert.Equal(t, "lives in Rome", c.RemoteVersion.(model.MemoryFragment).Content)
}

func TestNormalizedTextDoesNotConflict(t *testing.T) {
	local := model.NewProfile(model.Identity{DisplayName: "Caf\u00e9"})
	remote := model.NewProfile(model.Identity{DisplayName: "Cafe\u0301"})

	res := SmartMerge(local, remote, nil, Options{Now: t0})

	assert.Empty(t, res.Conflicts)
	assert.Equal(t, "Caf\u00e9", res.Merged.Identity.DisplayName)
}

func TestIdentityDisplayNameConflict(t *testing.T) {
	local := model.NewProfile(model.Identity{DisplayName: "Alice Smith"})
	remote := model.NewProfile(model.Identity{DisplayName: "Alice Jones", Location: "Berlin"})
	base := model.NewProfile(model.Identity{DisplayName: "Alice"})

	res := SmartMerge(local, remote, base, Options{Now: t0})

	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, model.EntityIdentity, c.Type)
	assert.Equal(t, []string{"displayName"}, c.ConflictingFields)
	assert.Equal(t, "Alice Smith", res.Merged.Identity.DisplayName)
	assert.Equal(t, "Berlin", res.Merged.Identity.Location)

	theirs := c.RemoteVersion.(model.Identity)
	assert.Equal(t, "Alice Jones", theirs.DisplayName)
	assert.Equal(t, "Berlin", theirs.Location)
}

func TestIdentityTwoWay(t *testing.T) {
	local := model.Identity{Email: "a@example.com"}
	remote := model.Identity{FullName: "Alice Example"}

	merged, conflict, counts := mergeIdentity(local, remote, nil)

	assert.Nil(t, conflict)
	assert.Equal(t, Counts{Merged: 1, AutoMerged: 1}, counts)
	assert.Equal(t, "a@example.com", merged.Email)
	assert.Equal(t, "Alice Example", merged.FullName)
}

func TestConversationBlockMerge(t *testing.T) {
	b1 := msg("b1", "hello there", t0)
	b2 := msg("b2", "hi", t0.Add(time.Minute))
	l1 := msg("l1", "from laptop", t0.Add(2*time.Minute))
	r1 := msg("r1", "from phone", t0.Add(90*time.Second))

	local := model.NewProfile(model.Identity{})
	local.Conversations = []model.Conversation{conversation("c1", b1, b2, l1)}
	remote := model.NewProfile(model.Identity{})
	remote.Conversations = []model.Conversation{conversation("c1", b1, b2, r1)}
	base := model.NewProfile(model.Identity{})
	base.Conversations = []model.Conversation{conversation("c1", b1, b2)}

	res := SmartMerge(local, remote, base, Options{Now: t0})

	require.Empty(t, res.Conflicts)
	got := res.Merged.Conversations[0]
	require.Len(t, got.Messages, 4)
	assert.Equal(t, []string{"b1", "b2", "l1", "r1"}, messageIDs(got.Messages))
	assert.Empty(t, got.Messages[0].SyncBlock)
	assert.Equal(t, model.SyncBlockLocal, got.Messages[2].SyncBlock)
	assert.Equal(t, model.SyncBlockRemote, got.Messages[3].SyncBlock)
	assert.Equal(t, 4, got.Metadata.MessageCount)
	assert.Equal(t, 7, got.Metadata.WordCount)
}

func TestConversationOneSidedAppend(t *testing.T) {
	b1 := msg("b1", "hello", t0)
	r1 := msg("r1", "later", t0.Add(time.Minute))

	got := mergeMessages([]model.Message{b1}, []model.Message{b1, r1}, nil, false)

	assert.Equal(t, []string{"b1", "r1"}, messageIDs(got))
	assert.Empty(t, got[1].SyncBlock)
}

func TestBlockMergeDropsDuplicates(t *testing.T) {
	a := msg("a", "base", t0)
	n1 := msg("n1", "local only", t0)
	dup := msg("dup", "sent twice", t0)
	r1 := msg("r1", "remote only", t0)

	got := mergeMessages(
		[]model.Message{a, n1, dup},
		[]model.Message{a, dup, r1},
		[]model.Message{a},
		true,
	)

	assert.Equal(t, []string{"a", "n1", "dup", "r1"}, messageIDs(got))
	assert.Equal(t, model.SyncBlockLocal, got[2].SyncBlock)
}

func TestConversationTitleNewerWins(t *testing.T) {
	l := conversation("c1")
	l.Title = "Trip planning"
	r := conversation("c1")
	r.Title = "Japan trip"
	r.Metadata.UpdatedAt = t0.Add(time.Hour)

	merged, _, fields := reconcileConversation(l, r, nil)

	assert.Empty(t, fields)
	assert.Equal(t, "Japan trip", merged.Title)
	assert.Equal(t, t0.Add(time.Hour), merged.Metadata.UpdatedAt)
}

func TestInsightRules(t *testing.T) {
	l := model.Insight{ID: "i1", Content: "prefers Go", Confidence: 0.4, DerivedFrom: []string{"m1"}, UpdatedAt: t0}
	r := model.Insight{ID: "i1", Content: "prefers Go", Confidence: 0.7, DerivedFrom: []string{"m2"}, UpdatedAt: t0}

	merged, _, fields := reconcileInsight(l, r, nil)
	require.Empty(t, fields)
	assert.Equal(t, 0.7, merged.Confidence)
	assert.Equal(t, []string{"m1", "m2"}, merged.DerivedFrom)

	r.Content = "prefers Rust"
	r.UpdatedAt = t0.Add(time.Hour)
	merged, _, fields = reconcileInsight(l, r, nil)
	require.Empty(t, fields)
	assert.Equal(t, "prefers Rust", merged.Content)

	r.UpdatedAt = t0
	merged, _, fields = reconcileInsight(l, r, nil)
	assert.Equal(t, []string{"content"}, fields)
	assert.Equal(t, "prefers Go", merged.Content)
}

func TestPreferenceAlwaysConflicts(t *testing.T) {
	local := model.NewProfile(model.Identity{})
	local.Preferences = []model.Preference{{ID: "p1", Key: "theme", Value: "dark", IsEnabled: true}}
	remote := model.NewProfile(model.Identity{})
	remote.Preferences = []model.Preference{{ID: "p1", Key: "theme", Value: "light", IsEnabled: false}}
	// Only the remote side changed, which would auto-merge for any other entity.
	base := local.Clone()

	res := SmartMerge(local, remote, base, Options{Now: t0})

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, []string{"value", "isEnabled"}, res.Conflicts[0].ConflictingFields)
	assert.Equal(t, "dark", res.Merged.Preferences[0].Value)
}

func TestProjectUnionsBeforeConflict(t *testing.T) {
	local := model.NewProfile(model.Identity{})
	local.Projects = []model.Project{{ID: "pr1", Name: "sync", TechStack: []string{"go"}}}
	remote := model.NewProfile(model.Identity{})
	remote.Projects = []model.Project{{ID: "pr1", Name: "profile sync", TechStack: []string{"sqlite"}, RelatedMemories: []string{"m1"}}}

	res := SmartMerge(local, remote, nil, Options{Now: t0})

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, []string{"name"}, res.Conflicts[0].ConflictingFields)
	got := res.Merged.Projects[0]
	assert.Equal(t, "sync", got.Name)
	assert.Equal(t, []string{"go", "sqlite"}, got.TechStack)
	assert.Equal(t, []string{"m1"}, got.RelatedMemories)
}

func TestGrantExpiry(t *testing.T) {
	now := t0.Add(24 * time.Hour)
	past := t0
	future := now.Add(time.Hour)
	exact := now

	local := model.NewProfile(model.Identity{})
	local.ActiveGrants = []model.AccessGrant{
		{ID: "g1", Grantee: "a", ExpiresAt: &past},
		{ID: "g2", Grantee: "b", ExpiresAt: &future},
		{ID: "g3", Grantee: "c"},
	}
	remote := model.NewProfile(model.Identity{})
	remote.ActiveGrants = []model.AccessGrant{
		{ID: "g4", Grantee: "d", ExpiresAt: &exact},
		{ID: "g5", Grantee: "e", ExpiresAt: &future},
		{ID: "g2", Grantee: "b", ExpiresAt: &future},
	}

	res := SmartMerge(local, remote, nil, Options{Now: now})

	assert.Equal(t, []string{"g2", "g3", "g5"}, grantIDs(res.Merged.ActiveGrants))
	assert.Equal(t, 2, res.Stats.ExpiredGrants)
	assert.Empty(t, res.Conflicts)
}

func TestShortTermPartition(t *testing.T) {
	local := model.NewProfile(model.Identity{})
	for i := range 55 {
		m := memory(fmt.Sprintf("m%02d", i), fmt.Sprintf("fact %d", i))
		m.Timestamp = t0.Add(time.Duration(i) * time.Minute)
		local.LongTermMemory = append(local.LongTermMemory, m)
	}

	res := SmartMerge(local, model.NewProfile(model.Identity{}), nil, Options{Now: t0})

	require.Len(t, res.Merged.ShortTermMemory, model.ShortTermLimit)
	require.Len(t, res.Merged.LongTermMemory, 5)
	assert.Equal(t, "m00", res.Merged.LongTermMemory[0].ID)
	assert.Equal(t, "m04", res.Merged.LongTermMemory[4].ID)
	assert.Equal(t, "m05", res.Merged.ShortTermMemory[0].ID)
}

func TestPartitionTieBreaksByID(t *testing.T) {
	all := []model.MemoryFragment{memory("c", "3"), memory("a", "1"), memory("b", "2")}

	short, long := partitionMemories(all, 2)

	assert.Equal(t, []string{"a", "b"}, memoryIDs(short))
	assert.Equal(t, []string{"c"}, memoryIDs(long))
}

func TestMergeIsPure(t *testing.T) {
	local, remote, base := scenario()
	localBefore, remoteBefore, baseBefore := local.Clone(), remote.Clone(), base.Clone()

	first := SmartMerge(local, remote, base, Options{Now: t0.Add(24 * time.Hour)})
	second := SmartMerge(local, remote, base, Options{Now: t0.Add(24 * time.Hour)})

	assert.Equal(t, first, second)
	assert.Equal(t, localBefore, local)
	assert.Equal(t, remoteBefore, remote)
	assert.Equal(t, baseBefore, base)
}

func TestMergeKeepsEveryEntity(t *testing.T) {
	local, remote, base := scenario()

	res := SmartMerge(local, remote, base, Options{Now: t0.Add(24 * time.Hour)})

	mergedMem := memoryIDs(res.Merged.Memories())
	for _, m := range append(local.Memories(), remote.Memories()...) {
		assert.Contains(t, mergedMem, m.ID)
	}
	for _, c := range append(local.Conversations, remote.Conversations...) {
		found := false
		for _, got := range res.Merged.Conversations {
			found = found || got.ID == c.ID
		}
		assert.True(t, found, "conversation %s missing", c.ID)
	}
	for _, p := range append(local.Preferences, remote.Preferences...) {
		found := false
		for _, got := range res.Merged.Preferences {
			found = found || got.ID == p.ID
		}
		assert.True(t, found, "preference %s missing", p.ID)
	}
}

func TestSelfMergeIsIdentity(t *testing.T) {
	local, _, _ := scenario()

	res := SmartMerge(local, local, nil, Options{Now: t0.Add(24 * time.Hour)})

	assert.Empty(t, res.Conflicts)
	assert.Equal(t, local, res.Merged)
}

func TestNilInputs(t *testing.T) {
	local, _, _ := scenario()

	res := SmartMerge(local, nil, nil, Options{Now: t0.Add(24 * time.Hour)})

	assert.Empty(t, res.Conflicts)
	assert.Equal(t, local.Identity, res.Merged.Identity)
	assert.NotNil(t, res.Conflicts)
}

func TestApplyResolution(t *testing.T) {
	c := Conflict{Type: model.EntityPreference, EntityID: "p1", LocalVersion: "l", RemoteVersion: "r"}

	v, err := ApplyResolution(c, ResolveLocal, nil)
	require.NoError(t, err)
	assert.Equal(t, "l", v)

	v, err = ApplyResolution(c, ResolveRemote, nil)
	require.NoError(t, err)
	assert.Equal(t, "r", v)

	v, err = ApplyResolution(c, ResolveCustom, "c")
	require.NoError(t, err)
	assert.Equal(t, "c", v)

	_, err = ApplyResolution(c, ResolveCustom, nil)
	assert.ErrorIs(t, err, ErrInvalidResolution)

	_, err = ApplyResolution(c, "both", nil)
	assert.ErrorIs(t, err, ErrInvalidResolution)
}

func TestApplyResolutions(t *testing.T) {
	local, remote, base := scenario()
	res := SmartMerge(local, remote, base, Options{Now: t0.Add(24 * time.Hour)})
	require.Len(t, res.Conflicts, 2)

	byType := map[model.EntityType]Conflict{}
	for _, c := range res.Conflicts {
		byType[c.Type] = c
	}
	resolutions := map[string]ResolutionChoice{
		byType[model.EntityIdentity].ID:   {Choice: ResolveRemote},
		byType[model.EntityPreference].ID: {Choice: ResolveCustom, Value: model.Preference{ID: "p1", Key: "theme", Value: "system", IsEnabled: true}},
	}

	out, err := ApplyResolutions(res.Merged, res.Conflicts, resolutions)
	require.NoError(t, err)

	assert.Equal(t, "Alice Jones", out.Identity.DisplayName)
	assert.Equal(t, "alice@example.com", out.Identity.Email)
	assert.Equal(t, "system", out.Preferences[0].Value)
	// The input profile is untouched.
	assert.Equal(t, "Alice Smith", res.Merged.Identity.DisplayName)
}

func TestApplyResolutionsAfterRoundTrip(t *testing.T) {
	local := model.NewProfile(model.Identity{})
	m := memory("m1", "old")
	local.LongTermMemory = []model.MemoryFragment{m}
	remote := model.NewProfile(model.Identity{})
	remote.LongTermMemory = []model.MemoryFragment{memory("m1", "new")}

	res := SmartMerge(local, remote, nil, Options{Now: t0})
	require.Len(t, res.Conflicts, 1)

	data, err := json.Marshal(res.Conflicts)
	require.NoError(t, err)
	var stored []Conflict
	require.NoError(t, json.Unmarshal(data, &stored))

	// Give the short-term bucket an unrelated memory so the lookup falls
	// through to long-term.
	profile := res.Merged.Clone()
	profile.LongTermMemory = profile.ShortTermMemory
	profile.ShortTermMemory = []model.MemoryFragment{memory("m9", "other")}

	out, err := ApplyResolutions(profile, stored, map[string]ResolutionChoice{
		stored[0].ID: {Choice: ResolveRemote},
	})
	require.NoError(t, err)
	assert.Equal(t, "new", out.LongTermMemory[0].Content)
	assert.Equal(t, "other", out.ShortTermMemory[0].Content)
}

func TestApplyResolutionsUnknownEntity(t *testing.T) {
	c := Conflict{ID: "x", Type: model.EntityProject, EntityID: "missing", LocalVersion: model.Project{ID: "missing"}}

	_, err := ApplyResolutions(model.NewProfile(model.Identity{}), []Conflict{c}, map[string]ResolutionChoice{"x": {Choice: ResolveLocal}})

	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestConflictIDIsStable(t *testing.T) {
	assert.Equal(t, ConflictID(model.EntityMemory, "m1"), ConflictID(model.EntityMemory, "m1"))
	assert.NotEqual(t, ConflictID(model.EntityMemory, "m1"), ConflictID(model.EntityInsight, "m1"))
	assert.Equal(t, "ea405455-4a4d-5108-a369-b65608092152", ConflictID(model.EntityMemory, "m1"))
}

func TestWriteReport(t *testing.T) {
	local, remote, base := scenario()
	res := SmartMerge(local, remote, base, Options{Now: t0.Add(24 * time.Hour)})

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, res))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "report", buf.Bytes())
}

// scenario builds a local, remote and base profile that exercise every
// collection: an identity conflict, a memory tag union, a remote-only memory,
// a conversation block merge, a preference conflict and an expired grant.
func scenario() (local, remote, base *model.PortableProfile) {
	b1 := msg("b1", "hello there", t0)
	b2 := msg("b2", "hi", t0.Add(time.Minute))
	expiry := t0
	valid := t0.Add(48 * time.Hour)

	local = model.NewProfile(model.Identity{DisplayName: "Alice Smith", Email: "alice@example.com"})
	local.ShortTermMemory = []model.MemoryFragment{memory("m1", "A", "x")}
	local.Conversations = []model.Conversation{conversation("c1", b1, b2, msg("l1", "from laptop", t0.Add(2*time.Minute)))}
	local.Preferences = []model.Preference{{ID: "p1", Key: "theme", Value: "dark", IsEnabled: true}}
	local.ActiveGrants = []model.AccessGrant{{ID: "g2", Grantee: "calendar", Scopes: []string{"identity"}, CreatedAt: t0, ExpiresAt: &valid}}

	remote = model.NewProfile(model.Identity{DisplayName: "Alice Jones", Location: "Berlin"})
	m1 := memory("m1", "A", "y")
	m1.Confidence = 0.8
	m2 := memory("m2", "B")
	m2.Timestamp = t0.Add(time.Hour)
	remote.ShortTermMemory = []model.MemoryFragment{m1, m2}
	remote.Conversations = []model.Conversation{conversation("c1", b1, b2, msg("r1", "from phone", t0.Add(90*time.Second)))}
	remote.Preferences = []model.Preference{{ID: "p1", Key: "theme", Value: "light", IsEnabled: true}}
	remote.ActiveGrants = []model.AccessGrant{{ID: "g1", Grantee: "old", CreatedAt: t0.Add(-time.Hour), ExpiresAt: &expiry}}

	base = model.NewProfile(model.Identity{DisplayName: "Alice"})
	base.ShortTermMemory = []model.MemoryFragment{memory("m1", "A", "x")}
	base.Conversations = []model.Conversation{conversation("c1", b1, b2)}
	base.Preferences = []model.Preference{{ID: "p1", Key: "theme", Value: "dark", IsEnabled: true}}
	return local, remote, base
}

func messageIDs(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func memoryIDs(mems []model.MemoryFragment) []string {
	out := make([]string, len(mems))
	for i, m := range mems {
		out[i] = m.ID
	}
	return out
}

func grantIDs(grants []model.AccessGrant) []string {
	out := make([]string, len(grants))
	for i, g := range grants {
		out[i] = g.ID
	}
	return out
}
