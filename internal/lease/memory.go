package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"listsync/internal/models"
)

type memoryLease struct {
	lease models.Lease
	timer *time.Timer
}

// Memory keeps leases in process memory. Expired leases are evicted by a
// timer and are also ignored on acquire, so eviction never depends on callers.
type Memory struct {
	opts options

	mu     sync.Mutex
	leases map[string]*memoryLease
}

// NewMemory returns an in-process lease store.
func NewMemory(opts ...Option) *Memory {
	return &Memory{opts: buildOptions(opts), leases: make(map[string]*memoryLease)}
}

// Acquire implements Store.
func (m *Memory) Acquire(ctx context.Context, resourceID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		observe(false, err)
		return false, err
	}
	now := m.opts.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.leases[resourceID]; ok {
		if cur.lease.Live(now) {
			observe(false, nil)
			return false, nil
		}
		cur.timer.Stop()
	}
	l := &memoryLease{lease: models.Lease{
		ResourceID: resourceID,
		Token:      uuid.NewString(),
		CreatedAt:  now,
		TTL:        m.opts.ttl,
	}}
	token := l.lease.Token
	l.timer = time.AfterFunc(m.opts.ttl, func() { m.evict(resourceID, token) })
	m.leases[resourceID] = l
	observe(true, nil)
	return true, nil
}

// Release implements Store.
func (m *Memory) Release(_ context.Context, resourceID string) error {
	m.mu.Lock()
	if cur, ok := m.leases[resourceID]; ok {
		cur.timer.Stop()
		delete(m.leases, resourceID)
	}
	m.mu.Unlock()
	return nil
}

// Get returns the lease recorded for resourceID, live or not yet evicted.
func (m *Memory) Get(resourceID string) (models.Lease, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[resourceID]
	if !ok {
		return models.Lease{}, false
	}
	return cur.lease, true
}

// Close stops every eviction timer and forgets all leases.
func (m *Memory) Close() {
	m.mu.Lock()
	for id, cur := range m.leases {
		cur.timer.Stop()
		delete(m.leases, id)
	}
	m.mu.Unlock()
}

func (m *Memory) evict(resourceID, token string) {
	m.mu.Lock()
	if cur, ok := m.leases[resourceID]; ok && cur.lease.Token == token {
		delete(m.leases, resourceID)
	}
	m.mu.Unlock()
}
