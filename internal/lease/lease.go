// Package lease serializes conflicting writes to one resource id without a
// central lock manager. A lease is an atomic insert-if-absent with a TTL: the
// first caller wins, everyone else sees "held", and a holder that never
// releases loses the lease when the TTL runs out.
//
// Leases are scoped to a single resource id and are best effort; they are not
// a general distributed lock.
package lease

import (
	"context"
	"errors"
	"time"

	"listsync/internal/metrics"
)

// DefaultTTL bounds how long a crashed holder can block a resource.
const DefaultTTL = 10 * time.Second

// ErrInvalidTTL is returned when a non-positive TTL is provided.
var ErrInvalidTTL = errors.New("lease: ttl must be positive")

// Store grants and releases leases.
type Store interface {
	// Acquire returns false when a live lease for resourceID already exists.
	Acquire(ctx context.Context, resourceID string) (bool, error)
	// Release drops the lease this store granted for resourceID. Releasing an
	// unheld or expired lease is not an error.
	Release(ctx context.Context, resourceID string) error
}

func observe(ok bool, err error) {
	switch {
	case err != nil:
		metrics.LeaseAcquires.WithLabelValues("error").Inc()
	case ok:
		metrics.LeaseAcquires.WithLabelValues("granted").Inc()
	default:
		metrics.LeaseAcquires.WithLabelValues("held").Inc()
	}
}
