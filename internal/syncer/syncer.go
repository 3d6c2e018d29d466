// Package syncer connects the sync queue to the merge engine and the
// pinning layer: a drained batch triggers a merge of the local, base and
// remote snapshots, and a conflict free result is replicated to the
// backends.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/profile-sync/internal/merge"
	"github.com/rcliao/profile-sync/internal/metrics"
	"github.com/rcliao/profile-sync/internal/model"
	"github.com/rcliao/profile-sync/internal/pinning"
	"github.com/rcliao/profile-sync/internal/snapshot"
	"github.com/rcliao/profile-sync/internal/store"
)

// Replicator is the part of pinning.Manager the syncer uses.
type Replicator interface {
	PinToAll(ctx context.Context, data []byte) (*pinning.Replication, error)
	UnpinFromAll(ctx context.Context, cid string) []pinning.PinResult
}

// ConflictsPendingError is returned by Execute while a merge has unresolved
// conflicts. The queue retries the batch; resolving the conflicts lets the
// next attempt through.
type ConflictsPendingError struct {
	Count int
}

func (e *ConflictsPendingError) Error() string {
	return fmt.Sprintf("sync: %d unresolved conflicts", e.Count)
}

// QuorumError is returned by Execute when replication missed the quorum.
type QuorumError struct {
	Succeeded int
	Required  int
	// Errs are the per backend failures.
	Errs []error
}

func (e *QuorumError) Error() string {
	return fmt.Sprintf("sync: replication quorum not met (%d of %d)", e.Succeeded, e.Required)
}

// Unwrap exposes the backend failures to errors.Is and errors.As.
func (e *QuorumError) Unwrap() []error { return e.Errs }

// Is matches pinning.ErrQuorumUnreachable so callers can test for any
// quorum failure.
func (e *QuorumError) Is(target error) bool { return target == pinning.ErrQuorumUnreachable }

// ErrNotInitialized is returned when there is no local profile yet.
var ErrNotInitialized = errors.New("sync: no local profile, run init or import first")

// Options configure a Syncer.
type Options struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// ShortTermLimit caps short-term memory; zero uses the model default.
	ShortTermLimit int
	// Now is the merge clock; nil means time.Now.
	Now func() time.Time
}

// Syncer runs sync attempts against the stored snapshots.
type Syncer struct {
	store   store.Store
	codec   *snapshot.Codec
	pins    Replicator
	log     zerolog.Logger
	metrics *metrics.Metrics
	limit   int
	now     func() time.Time
}

// New returns a Syncer. pins may be nil for commands that never replicate.
func New(st store.Store, codec *snapshot.Codec, pins Replicator, opts Options) *Syncer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if codec == nil {
		codec = &snapshot.Codec{}
	}
	return &Syncer{
		store:   st,
		codec:   codec,
		pins:    pins,
		log:     opts.Logger,
		metrics: opts.Metrics,
		limit:   opts.ShortTermLimit,
		now:     now,
	}
}

// Snapshots are the three inputs of a merge. Remote and Base are nil when
// they were never stored.
type Snapshots struct {
	Local  *model.PortableProfile
	Remote *model.PortableProfile
	Base   *model.PortableProfile
	// RemoteCID is the cid of the last replicated snapshot.
	RemoteCID string
	localRaw  []byte
}

// Load decodes the stored snapshots.
func (s *Syncer) Load(ctx context.Context) (*Snapshots, error) {
	local, err := s.store.GetSnapshot(ctx, store.SnapshotLocal)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	snaps := &Snapshots{localRaw: local.Data}
	if snaps.Local, err = s.codec.Decode(local.Data); err != nil {
		return nil, fmt.Errorf("local snapshot: %w", err)
	}

	for _, name := range []string{store.SnapshotRemote, store.SnapshotBase} {
		snap, err := s.store.GetSnapshot(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		p, err := s.codec.Decode(snap.Data)
		if err != nil {
			return nil, fmt.Errorf("%s snapshot: %w", name, err)
		}
		if name == store.SnapshotRemote {
			snaps.Remote, snaps.RemoteCID = p, snap.CID
		} else {
			snaps.Base = p
		}
	}
	return snaps, nil
}

// Merge merges the stored snapshots without writing anything.
func (s *Syncer) Merge(ctx context.Context) (*merge.Result, *Snapshots, error) {
	snaps, err := s.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	res := merge.SmartMerge(snaps.Local, snaps.Remote, snaps.Base, merge.Options{
		Now:            s.now().UTC(),
		ShortTermLimit: s.limit,
	})
	return res, snaps, nil
}

// Execute is the queue executor. The batch only signals that local state
// changed: the whole profile is merged and replicated, which makes repeated
// attempts idempotent.
func (s *Syncer) Execute(ctx context.Context, ops []model.QueuedOperation) error {
	if s.pins == nil {
		return errors.New("sync: no pinning backends configured")
	}
	res, snaps, err := s.Merge(ctx)
	if err != nil {
		s.metrics.RecordSyncRun("error")
		return err
	}
	for kind, c := range res.Stats.Entities {
		s.metrics.RecordConflicts(string(kind), c.Conflicts)
	}

	if res.HasConflicts() {
		if err := s.saveReport(ctx, res); err != nil {
			return err
		}
		s.metrics.RecordSyncRun("conflicts")
		s.log.Warn().Int("conflicts", len(res.Conflicts)).Int("operations", len(ops)).
			Msg("merge has conflicts, waiting for resolution")
		return &ConflictsPendingError{Count: len(res.Conflicts)}
	}
	if err := s.store.SaveConflicts(ctx, nil); err != nil {
		return err
	}

	blob, err := s.codec.Encode(res.Merged)
	if err != nil {
		return err
	}
	rep, err := s.pins.PinToAll(ctx, blob)
	if err != nil {
		s.metrics.RecordSyncRun("error")
		return err
	}
	if err := s.recordPin(ctx, rep); err != nil {
		s.log.Warn().Err(err).Msg("record pin history")
	}
	if !rep.Success {
		s.metrics.RecordSyncRun("quorum_missed")
		qerr := &QuorumError{Succeeded: rep.SuccessCount, Required: rep.Required}
		for _, r := range rep.Results {
			if r.Err != nil {
				qerr.Errs = append(qerr.Errs, fmt.Errorf("%s: %w", r.Backend, r.Err))
			}
		}
		return qerr
	}

	if err := s.promote(ctx, snaps, blob, rep.CID); err != nil {
		return err
	}
	if snaps.RemoteCID != "" && snaps.RemoteCID != rep.CID {
		s.pins.UnpinFromAll(ctx, snaps.RemoteCID)
		if err := s.store.MarkUnpinned(ctx, snaps.RemoteCID); err != nil {
			s.log.Warn().Err(err).Str("cid", snaps.RemoteCID).Msg("mark unpinned")
		}
	}
	s.metrics.RecordSyncRun("synced")
	s.log.Info().Str("cid", rep.CID).Int("operations", len(ops)).
		Int("auto_resolved", res.AutoResolved).Msg("profile synced")
	return nil
}

// promote stores the replicated snapshot as base and remote, and as local
// unless local was edited while the attempt was running. In that case the
// edit is merged by the next attempt.
func (s *Syncer) promote(ctx context.Context, snaps *Snapshots, blob []byte, cid string) error {
	names := []string{store.SnapshotBase, store.SnapshotRemote}
	current, err := s.store.GetSnapshot(ctx, store.SnapshotLocal)
	if err != nil {
		return err
	}
	if string(current.Data) == string(snaps.localRaw) {
		names = append(names, store.SnapshotLocal)
	} else {
		s.log.Info().Msg("local profile changed during sync, keeping it for the next attempt")
	}
	return s.store.PutSnapshot(ctx, blob, cid, names...)
}

// Pin replicates an arbitrary blob and records the outcome in the pin
// history. Snapshots are not promoted.
func (s *Syncer) Pin(ctx context.Context, data []byte) (*pinning.Replication, error) {
	if s.pins == nil {
		return nil, pinning.ErrNoBackends
	}
	rep, err := s.pins.PinToAll(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := s.recordPin(ctx, rep); err != nil {
		return rep, fmt.Errorf("record pin: %w", err)
	}
	return rep, nil
}

func (s *Syncer) recordPin(ctx context.Context, rep *pinning.Replication) error {
	results, err := json.Marshal(rep.Results)
	if err != nil {
		return err
	}
	_, err = s.store.RecordPin(ctx, store.PinRecord{
		CID:          rep.CID,
		Success:      rep.Success,
		SuccessCount: rep.SuccessCount,
		Required:     rep.Required,
		Results:      results,
		CreatedAt:    s.now().UTC(),
	})
	return err
}

// LocalProfile returns the decoded local snapshot.
func (s *Syncer) LocalProfile(ctx context.Context) (*model.PortableProfile, error) {
	snaps, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return snaps.Local, nil
}

// SaveLocal encodes p and stores it as the local snapshot.
func (s *Syncer) SaveLocal(ctx context.Context, p *model.PortableProfile) error {
	blob, err := s.codec.Encode(p)
	if err != nil {
		return err
	}
	return s.store.PutSnapshot(ctx, blob, "", store.SnapshotLocal)
}

// Import validates a profile document and stores it under target, which is
// store.SnapshotLocal or store.SnapshotRemote. Importing as remote brings in
// a profile exported on another device; the next sync merges it.
func (s *Syncer) Import(ctx context.Context, data []byte, target string) (*model.PortableProfile, error) {
	if target != store.SnapshotLocal && target != store.SnapshotRemote {
		return nil, fmt.Errorf("sync: cannot import into %q", target)
	}
	p, err := model.ParseProfile(data)
	if err != nil {
		return nil, err
	}
	merge.Repartition(p, s.limit)
	blob, err := s.codec.Encode(p)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutSnapshot(ctx, blob, "", target); err != nil {
		return nil, err
	}
	return p, nil
}
