package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/profile-sync/internal/merge"
	"github.com/rcliao/profile-sync/internal/model"
	"github.com/rcliao/profile-sync/internal/pinning"
	"github.com/rcliao/profile-sync/internal/queue"
	"github.com/rcliao/profile-sync/internal/snapshot"
	"github.com/rcliao/profile-sync/internal/store"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type dirBackends struct {
	a, b    *pinning.DirService
	manager *pinning.Manager
}

func newDirBackends(t *testing.T) *dirBackends {
	t.Helper()
	a, err := pinning.NewDirService("a", t.TempDir())
	require.NoError(t, err)
	b, err := pinning.NewDirService("b", t.TempDir())
	require.NoError(t, err)
	m := pinning.NewManager([]pinning.Service{a, b}, pinning.ManagerOptions{
		Quorum: pinning.QuorumConfig{RequiredSuccessCount: 2},
		Logger: zerolog.Nop(),
	})
	return &dirBackends{a: a, b: b, manager: m}
}

func newSyncer(t *testing.T, st store.Store, pins Replicator) *Syncer {
	t.Helper()
	return New(st, &snapshot.Codec{}, pins, Options{Logger: zerolog.Nop(), Now: func() time.Time { return testNow }})
}

func profile(name string) *model.PortableProfile {
	p := model.NewProfile(model.Identity{ID: "u1", DisplayName: name})
	p.ShortTermMemory = append(p.ShortTermMemory, model.MemoryFragment{
		ID: "m1", Timestamp: testNow.Add(-time.Hour), Content: "Uses Go", Type: model.MemoryTechnical, Confidence: 0.8,
	})
	return p
}

func TestExecuteReplicatesAndPromotes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	pins := newDirBackends(t)
	s := newSyncer(t, st, pins.manager)
	require.NoError(t, s.SaveLocal(ctx, profile("Ada")))

	require.NoError(t, s.Execute(ctx, nil))

	local, err := st.GetSnapshot(ctx, store.SnapshotLocal)
	require.NoError(t, err)
	for _, name := range []string{store.SnapshotBase, store.SnapshotRemote} {
		snap, err := st.GetSnapshot(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, local.Data, snap.Data)
		assert.Equal(t, pinning.ContentID(local.Data), snap.CID)
	}
	pinned, err := pins.b.Get(local.CID)
	require.NoError(t, err)
	assert.Equal(t, local.Data, pinned)

	latest, err := st.LatestPin(ctx)
	require.NoError(t, err)
	assert.Equal(t, local.CID, latest.CID)
	assert.Equal(t, 2, latest.SuccessCount)

	require.NoError(t, s.Execute(ctx, nil), "re-running is idempotent")
	again, err := st.GetSnapshot(ctx, store.SnapshotRemote)
	require.NoError(t, err)
	assert.Equal(t, local.CID, again.CID)
}

func TestExecuteUnpinsPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	pins := newDirBackends(t)
	s := newSyncer(t, st, pins.manager)
	require.NoError(t, s.SaveLocal(ctx, profile("Ada")))
	require.NoError(t, s.Execute(ctx, nil))
	first, err := st.GetSnapshot(ctx, store.SnapshotRemote)
	require.NoError(t, err)

	p, err := s.LocalProfile(ctx)
	require.NoError(t, err)
	p.Insights = append(p.Insights, model.Insight{ID: "i1", Content: "Likes tests", CreatedAt: testNow, UpdatedAt: testNow})
	require.NoError(t, s.SaveLocal(ctx, p))
	require.NoError(t, s.Execute(ctx, nil))

	second, err := st.GetSnapshot(ctx, store.SnapshotRemote)
	require.NoError(t, err)
	assert.NotEqual(t, first.CID, second.CID)
	_, err = pins.a.Get(first.CID)
	assert.Error(t, err, "old snapshot unpinned")
	_, err = pins.a.Get(second.CID)
	assert.NoError(t, err)

	merged, err := s.LocalProfile(ctx)
	require.NoError(t, err)
	require.Len(t, merged.Insights, 1)
}

func TestExecuteStopsOnConflictsUntilResolved(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	pins := newDirBackends(t)
	s := newSyncer(t, st, pins.manager)
	require.NoError(t, s.SaveLocal(ctx, profile("Ada")))
	remote, err := json.Marshal(profile("Grace"))
	require.NoError(t, err)
	_, err = s.Import(ctx, remote, store.SnapshotRemote)
	require.NoError(t, err)

	err = s.Execute(ctx, nil)
	var pending *ConflictsPendingError
	require.ErrorAs(t, err, &pending)
	assert.Equal(t, 1, pending.Count)
	_, err = st.GetSnapshot(ctx, store.SnapshotBase)
	assert.ErrorIs(t, err, store.ErrNotFound, "nothing promoted")

	report, err := s.Conflicts(ctx)
	require.NoError(t, err)
	require.NotNil(t, report)
	require.Len(t, report.Conflicts, 1)
	c := report.Conflicts[0]
	assert.Equal(t, model.EntityIdentity, c.Type)
	assert.Equal(t, []string{"displayName"}, c.ConflictingFields)

	_, err = s.Resolve(ctx, nil, "")
	assert.ErrorIs(t, err, ErrUnresolved)

	_, err = s.Resolve(ctx, map[string]merge.ResolutionChoice{c.ID: {Choice: merge.ResolveRemote}}, "")
	require.NoError(t, err)
	report, err = s.Conflicts(ctx)
	require.NoError(t, err)
	assert.Nil(t, report)

	require.NoError(t, s.Execute(ctx, nil))
	p, err := s.LocalProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Grace", p.Identity.DisplayName)
}

type fakeReplicator struct {
	rep    *pinning.Replication
	unpins []string
}

func (f *fakeReplicator) PinToAll(context.Context, []byte) (*pinning.Replication, error) {
	return f.rep, nil
}

func (f *fakeReplicator) UnpinFromAll(_ context.Context, cid string) []pinning.PinResult {
	f.unpins = append(f.unpins, cid)
	return nil
}

func TestExecuteReportsMissedQuorum(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	backendErr := errors.New("503")
	s := newSyncer(t, st, &fakeReplicator{rep: &pinning.Replication{
		Results: []pinning.PinResult{
			{Backend: "a", CID: "cid"},
			{Backend: "b", Err: backendErr},
		},
		SuccessCount: 1,
		Required:     2,
	}})
	require.NoError(t, s.SaveLocal(ctx, profile("Ada")))

	err := s.Execute(ctx, nil)

	var qerr *QuorumError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, 1, qerr.Succeeded)
	assert.ErrorIs(t, err, pinning.ErrQuorumUnreachable)
	assert.ErrorIs(t, err, backendErr)
	_, err = st.GetSnapshot(ctx, store.SnapshotRemote)
	assert.ErrorIs(t, err, store.ErrNotFound)

	pins, err := st.ListPins(ctx, 5)
	require.NoError(t, err)
	require.Len(t, pins, 1)
	assert.False(t, pins[0].Success)
}

func TestExecuteWithoutLocalProfile(t *testing.T) {
	s := newSyncer(t, newTestStore(t), &fakeReplicator{})

	err := s.Execute(context.Background(), nil)

	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestImportValidates(t *testing.T) {
	ctx := context.Background()
	s := newSyncer(t, newTestStore(t), nil)

	_, err := s.Import(ctx, []byte(`{"identity":{},"shortTermMemory":[{"id":"x"}]}`), store.SnapshotLocal)
	assert.Error(t, err, "memory without content")

	_, err = s.Import(ctx, []byte(`{"identity":{}}`), store.SnapshotBase)
	assert.Error(t, err)

	p, err := s.Import(ctx, []byte(`{"identity":{"displayName":"Ada"}}`), store.SnapshotLocal)
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Identity.DisplayName)
	assert.NotNil(t, p.Conversations)
}

func TestQueueDrainsThroughSyncer(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	pins := newDirBackends(t)
	s := newSyncer(t, st, pins.manager)
	require.NoError(t, s.SaveLocal(ctx, profile("Ada")))

	q, err := queue.New(ctx, st, s.Execute, queue.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer q.Close()

	payload, err := json.Marshal(model.Preference{ID: "p1", Key: "theme", Value: "dark", IsEnabled: true})
	require.NoError(t, err)
	op, err := q.Enqueue(ctx, queue.EnqueueParams{Type: model.OpCreate, Entity: model.EntityPreference, EntityID: "p1", Payload: payload})
	require.NoError(t, err)

	p, err := s.LocalProfile(ctx)
	require.NoError(t, err)
	require.NoError(t, ApplyOperation(p, op, 0))
	require.NoError(t, s.SaveLocal(ctx, p))

	res, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, q.Operations())

	remote, err := st.GetSnapshot(ctx, store.SnapshotRemote)
	require.NoError(t, err)
	pushed, err := (&snapshot.Codec{}).Decode(remote.Data)
	require.NoError(t, err)
	require.Len(t, pushed.Preferences, 1)
	assert.Equal(t, "dark", pushed.Preferences[0].Value)
}

func TestPinRecordsHistory(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	pins := newDirBackends(t)
	s := newSyncer(t, st, pins.manager)

	rep, err := s.Pin(ctx, []byte("blob"))
	require.NoError(t, err)
	assert.True(t, rep.Success)

	history, err := st.ListPins(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, rep.CID, history[0].CID)
	assert.True(t, history[0].Success)

	_, err = newSyncer(t, st, nil).Pin(ctx, []byte("blob"))
	assert.ErrorIs(t, err, pinning.ErrNoBackends)
}

func TestExecuteDoesNotStoreSyncBlocks(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	pins := newDirBackends(t)
	s := newSyncer(t, st, pins.manager)

	withMessages := func(ids ...string) *model.PortableProfile {
		p := profile("Ada")
		conv := model.Conversation{ID: "c1", Title: "Plans", Metadata: model.ConversationMetadata{CreatedAt: testNow, UpdatedAt: testNow}}
		for i, id := range ids {
			conv.Messages = append(conv.Messages, model.Message{ID: id, Role: model.RoleUser, Content: id, Timestamp: testNow.Add(time.Duration(i) * time.Minute)})
		}
		p.Conversations = append(p.Conversations, conv)
		return p
	}
	require.NoError(t, s.SaveLocal(ctx, withMessages("x1", "l1")))
	remote, err := json.Marshal(withMessages("x1", "r1"))
	require.NoError(t, err)
	_, err = s.Import(ctx, remote, store.SnapshotRemote)
	require.NoError(t, err)

	require.NoError(t, s.Execute(ctx, nil))

	for _, name := range []string{store.SnapshotLocal, store.SnapshotBase, store.SnapshotRemote} {
		snap, err := st.GetSnapshot(ctx, name)
		require.NoError(t, err, name)
		assert.NotContains(t, string(snap.Data), "_syncBlock", name)
	}
	p, err := s.LocalProfile(ctx)
	require.NoError(t, err)
	require.Len(t, p.Conversations, 1)
	assert.Len(t, p.Conversations[0].Messages, 3)
}
