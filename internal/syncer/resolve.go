package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rcliao/profile-sync/internal/merge"
	"github.com/rcliao/profile-sync/internal/store"
)

// ErrUnresolved is returned by Resolve when a conflict has no choice.
var ErrUnresolved = errors.New("sync: unresolved conflicts")

// ConflictReport is the stored outcome of the last merge that had
// conflicts.
type ConflictReport struct {
	CreatedAt time.Time        `json:"createdAt"`
	Conflicts []merge.Conflict `json:"conflicts"`
	Stats     merge.Stats      `json:"stats"`
}

func (s *Syncer) saveReport(ctx context.Context, res *merge.Result) error {
	data, err := json.Marshal(ConflictReport{
		CreatedAt: s.now().UTC(),
		Conflicts: res.Conflicts,
		Stats:     res.Stats,
	})
	if err != nil {
		return err
	}
	return s.store.SaveConflicts(ctx, data)
}

// Conflicts returns the stored conflict report, or nil when the last sync
// attempt had none.
func (s *Syncer) Conflicts(ctx context.Context) (*ConflictReport, error) {
	data, err := s.store.LoadConflicts(ctx)
	if err != nil || data == nil {
		return nil, err
	}
	var r ConflictReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode conflict report: %w", err)
	}
	return &r, nil
}

// Resolve merges the stored snapshots again, applies choices keyed by
// conflict id, and stores the result as local, base and remote so that the
// next sync pushes it without conflicting again. Conflict ids are stable,
// so choices made against an earlier report still apply. fallback, when
// not empty, is used for conflicts without an explicit choice; otherwise
// every conflict needs one.
func (s *Syncer) Resolve(ctx context.Context, choices map[string]merge.ResolutionChoice, fallback merge.Resolution) (*merge.Result, error) {
	res, snaps, err := s.Merge(ctx)
	if err != nil {
		return nil, err
	}

	all := make(map[string]merge.ResolutionChoice, len(res.Conflicts))
	var missing []string
	for _, c := range res.Conflicts {
		rc, ok := choices[c.ID]
		switch {
		case ok:
			all[c.ID] = rc
		case fallback != "":
			all[c.ID] = merge.ResolutionChoice{Choice: fallback}
		default:
			missing = append(missing, c.ID)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("%w: %v", ErrUnresolved, missing)
	}

	resolved, err := merge.ApplyResolutions(res.Merged, res.Conflicts, all)
	if err != nil {
		return nil, err
	}
	blob, err := s.codec.Encode(resolved)
	if err != nil {
		return nil, err
	}
	// remote keeps the last replicated cid so that the next push can unpin it.
	if err := s.store.PutSnapshot(ctx, blob, "", store.SnapshotLocal, store.SnapshotBase); err != nil {
		return nil, err
	}
	if err := s.store.PutSnapshot(ctx, blob, snaps.RemoteCID, store.SnapshotRemote); err != nil {
		return nil, err
	}
	if err := s.store.SaveConflicts(ctx, nil); err != nil {
		return nil, err
	}
	s.log.Info().Int("resolved", len(all)).Msg("conflicts resolved")
	res.Merged = resolved
	return res, nil
}
