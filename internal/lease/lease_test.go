package lease

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listsync/internal/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// backend builds stores that share one underlying lease table, plus a
// function that moves that table's notion of time forward.
type backend struct {
	name   string
	shared bool
	setup  func(t *testing.T, ttl time.Duration) (func() Store, func(time.Duration))
}

func backends() []backend {
	return []backend{
		{
			name: "memory",
			setup: func(t *testing.T, ttl time.Duration) (func() Store, func(time.Duration)) {
				clock := newFakeClock()
				m := NewMemory(WithTTL(ttl), WithClock(clock.Now))
				t.Cleanup(m.Close)
				return func() Store { return m }, clock.Advance
			},
		},
		{
			name:   "redis",
			shared: true,
			setup: func(t *testing.T, ttl time.Duration) (func() Store, func(time.Duration)) {
				mr, client := testutil.Redis(t)
				return func() Store { return NewRedis(client, WithTTL(ttl)) }, mr.FastForward
			},
		},
		{
			name:   "sql",
			shared: true,
			setup: func(t *testing.T, ttl time.Duration) (func() Store, func(time.Duration)) {
				clock := newFakeClock()
				db := testutil.SQLite(t)
				return func() Store { return NewSQL(db, WithTTL(ttl), WithClock(clock.Now)) }, clock.Advance
			},
		},
	}
}

func TestConcurrentAcquireGrantsExactlyOne(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			newStore, _ := b.setup(t, DefaultTTL)
			s := newStore()
			ctx := context.Background()

			const callers = 32
			var granted atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					ok, err := s.Acquire(ctx, "item-1")
					assert.NoError(t, err)
					if ok {
						granted.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()
			assert.Equal(t, int32(1), granted.Load())
		})
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			newStore, _ := b.setup(t, DefaultTTL)
			s := newStore()
			ctx := context.Background()

			require.NoError(t, s.Release(ctx, "never-held"))

			ok, err := s.Acquire(ctx, "item-1")
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, s.Release(ctx, "item-1"))
			require.NoError(t, s.Release(ctx, "item-1"))

			ok, err = s.Acquire(ctx, "item-1")
			require.NoError(t, err)
			assert.True(t, ok, "released lease should be acquirable")
		})
	}
}

func TestUnreleasedLeaseExpiresAtTTL(t *testing.T) {
	const ttl = 10 * time.Second
	const eps = 10 * time.Millisecond
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			newStore, advance := b.setup(t, ttl)
			s := newStore()
			ctx := context.Background()

			ok, err := s.Acquire(ctx, "item-1")
			require.NoError(t, err)
			require.True(t, ok)

			advance(ttl - eps)
			ok, err = s.Acquire(ctx, "item-1")
			require.NoError(t, err)
			assert.False(t, ok, "lease must still be live just before ttl")

			advance(2 * eps)
			ok, err = s.Acquire(ctx, "item-1")
			require.NoError(t, err)
			assert.True(t, ok, "lease must be acquirable just after ttl")
		})
	}
}

func TestDistinctResourcesDoNotConflict(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			newStore, _ := b.setup(t, DefaultTTL)
			s := newStore()
			ctx := context.Background()

			for _, id := range []string{"a", "b", "c"} {
				ok, err := s.Acquire(ctx, id)
				require.NoError(t, err)
				assert.True(t, ok, id)
			}
		})
	}
}

func TestLateReleaseKeepsNewHolder(t *testing.T) {
	const ttl = time.Second
	for _, b := range backends() {
		if !b.shared {
			continue
		}
		t.Run(b.name, func(t *testing.T) {
			newStore, advance := b.setup(t, ttl)
			first, second := newStore(), newStore()
			ctx := context.Background()

			ok, err := first.Acquire(ctx, "item-1")
			require.NoError(t, err)
			require.True(t, ok)

			advance(2 * ttl)
			ok, err = second.Acquire(ctx, "item-1")
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, first.Release(ctx, "item-1"))

			ok, err = newStore().Acquire(ctx, "item-1")
			require.NoError(t, err)
			assert.False(t, ok, "stale release must not remove the new holder's lease")
		})
	}
}

func TestMemoryEvictsWithoutCallers(t *testing.T) {
	m := NewMemory(WithTTL(20 * time.Millisecond))
	defer m.Close()

	ok, err := m.Acquire(context.Background(), "item-1")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, held := m.Get("item-1")
		return !held
	}, time.Second, 5*time.Millisecond)
}

func TestSQLSweepRemovesExpiredRows(t *testing.T) {
	clock := newFakeClock()
	s := NewSQL(testutil.SQLite(t), WithTTL(time.Second), WithClock(clock.Now))
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		ok, err := s.Acquire(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
	}
	l, found, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, time.Second, l.TTL)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(time.Second)
	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, found, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNewValidatesBackend(t *testing.T) {
	_, err := New(BackendMemory, 0, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	_, err = New(BackendRedis, time.Second, nil, nil)
	assert.Error(t, err)

	_, err = New("zookeeper", time.Second, nil, nil)
	assert.Error(t, err)

	s, err := New(BackendMemory, time.Second, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
}
