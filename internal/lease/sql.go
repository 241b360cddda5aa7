package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"listsync/internal/models"
	"listsync/pkg/logger"
)

// One statement: insert, or take over a row whose lease has already expired.
// A live row makes the conditional update a no-op and affects zero rows.
const acquireLeaseSQL = `
INSERT INTO leases (resource_id, token, created_at, ttl_seconds, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (resource_id) DO UPDATE SET
    token = excluded.token,
    created_at = excluded.created_at,
    ttl_seconds = excluded.ttl_seconds,
    expires_at = excluded.expires_at
WHERE leases.expires_at <= excluded.created_at`

// SQL stores leases in the leases table with resource_id as the primary key.
// Expired rows are ignored on acquire and removed by Sweep, which Run calls
// on an interval.
type SQL struct {
	db   *sql.DB
	opts options

	mu     sync.Mutex
	tokens map[string]string
}

// NewSQL returns a lease store over db. The schema comes from the database
// migrations.
func NewSQL(db *sql.DB, opts ...Option) *SQL {
	return &SQL{db: db, opts: buildOptions(opts), tokens: make(map[string]string)}
}

// Acquire implements Store.
func (s *SQL) Acquire(ctx context.Context, resourceID string) (bool, error) {
	l := models.Lease{
		ResourceID: resourceID,
		Token:      uuid.NewString(),
		CreatedAt:  s.opts.now(),
		TTL:        s.opts.ttl,
	}
	res, err := s.db.ExecContext(ctx, acquireLeaseSQL,
		l.ResourceID, l.Token, l.CreatedAt.UnixMilli(), l.TTLSeconds(), l.ExpiresAt().UnixMilli())
	if err != nil {
		observe(false, err)
		return false, fmt.Errorf("acquire lease %s: %w", resourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		observe(false, err)
		return false, fmt.Errorf("acquire lease %s: %w", resourceID, err)
	}
	ok := n == 1
	observe(ok, nil)
	if ok {
		s.mu.Lock()
		s.tokens[resourceID] = l.Token
		s.mu.Unlock()
	}
	return ok, nil
}

// Release implements Store.
func (s *SQL) Release(ctx context.Context, resourceID string) error {
	s.mu.Lock()
	token, ok := s.tokens[resourceID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM leases WHERE resource_id = $1 AND token = $2`, resourceID, token); err != nil {
		return fmt.Errorf("release lease %s: %w", resourceID, err)
	}
	s.mu.Lock()
	if s.tokens[resourceID] == token {
		delete(s.tokens, resourceID)
	}
	s.mu.Unlock()
	return nil
}

// Get returns the stored lease row for resourceID, expired or not.
func (s *SQL) Get(ctx context.Context, resourceID string) (models.Lease, bool, error) {
	var (
		l                    models.Lease
		createdAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT resource_id, token, created_at, expires_at FROM leases WHERE resource_id = $1`, resourceID).
		Scan(&l.ResourceID, &l.Token, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Lease{}, false, nil
	}
	if err != nil {
		return models.Lease{}, false, err
	}
	l.CreatedAt = time.UnixMilli(createdAt)
	l.TTL = time.Duration(expiresAt-createdAt) * time.Millisecond
	return l, true, nil
}

// Sweep deletes expired rows and reports how many went.
func (s *SQL) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE expires_at <= $1`, s.opts.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep leases: %w", err)
	}
	return res.RowsAffected()
}

// Run sweeps expired leases every interval until ctx is done.
func (s *SQL) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error(ctx, "Lease sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug(ctx, "Expired leases swept", "count", n)
			}
		}
	}
}
