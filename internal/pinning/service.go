// Package pinning replicates snapshots to several storage backends and
// evaluates a K-of-N quorum over the results.
package pinning

import (
	"context"
	"errors"
)

// Service is one pinning backend. Pin stores data and returns its content
// id. Implementations must honor ctx cancellation so a stuck backend cannot
// stall a fan-out.
type Service interface {
	Name() string
	Pin(ctx context.Context, data []byte) (string, error)
	Unpin(ctx context.Context, cid string) error
	CheckHealth(ctx context.Context) (bool, error)
}

var (
	// ErrMissingCredentials disables a backend whose credentials are
	// incomplete.
	ErrMissingCredentials = errors.New("pinning: missing credentials")
	// ErrUnhealthy marks a backend skipped because it failed its health
	// check.
	ErrUnhealthy = errors.New("pinning: backend unhealthy")
	// ErrQuorumUnreachable marks backends skipped because too few were
	// healthy to reach quorum.
	ErrQuorumUnreachable = errors.New("pinning: quorum unreachable")
	// ErrNoBackends is returned when no backend is configured.
	ErrNoBackends = errors.New("pinning: no backends configured")
)
