package pinning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthTrackerCachesWithinInterval(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	svc := ok("a", "cid")
	h := NewHealthTracker(svc, time.Minute, func() time.Time { return now })
	ctx := context.Background()

	assert.True(t, h.IsHealthy(ctx))
	svc.healthy = false
	assert.True(t, h.IsHealthy(ctx), "cached result is reused")
	assert.Equal(t, int32(1), svc.checks.Load())

	now = now.Add(time.Minute)
	assert.False(t, h.IsHealthy(ctx))
	assert.Equal(t, 1, h.Snapshot().ConsecutiveFailures)
	assert.Equal(t, "health check failed", h.Snapshot().LastError)

	svc.healthy = true
	now = now.Add(time.Minute)
	assert.True(t, h.IsHealthy(ctx))
	assert.Zero(t, h.Snapshot().ConsecutiveFailures)
}

func TestHealthTrackerFlipsAfterThreshold(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	h := NewHealthTracker(ok("a", "cid"), time.Hour, func() time.Time { return now })
	ctx := context.Background()
	assert.True(t, h.IsHealthy(ctx))

	h.RecordFailure(errors.New("timeout"))
	h.RecordFailure(errors.New("timeout"))
	assert.True(t, h.IsHealthy(ctx))

	h.RecordFailure(errors.New("timeout"))
	assert.False(t, h.IsHealthy(ctx), "threshold overrides the cache")
	assert.Equal(t, FailureThreshold, h.Snapshot().ConsecutiveFailures)
	assert.Equal(t, "timeout", h.Snapshot().LastError)

	h.RecordSuccess()
	assert.True(t, h.IsHealthy(ctx))
}
