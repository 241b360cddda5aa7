package room

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listsync/internal/protocol"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	got    []protocol.Envelope
	full   bool
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Deliver(env protocol.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.got = append(c.got, env)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.got))
	for _, e := range c.got {
		out = append(out, e.Event)
	}
	return out
}

func event(name string) protocol.Envelope {
	return protocol.Envelope{Event: name, Data: []byte(`{}`)}
}

func registered(t *testing.T, r *Registry, ids ...string) []*fakeConn {
	t.Helper()
	out := make([]*fakeConn, 0, len(ids))
	for _, id := range ids {
		c := newFakeConn(id)
		require.NoError(t, r.Register(c))
		out = append(out, c)
	}
	return out
}

func TestBroadcastIsRoomScoped(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	conns := registered(t, r, "x", "y")
	x, y := conns[0], conns[1]
	require.NoError(t, r.Join("x", "A"))
	require.NoError(t, r.Join("y", "B"))

	require.NoError(t, r.Broadcast(ctx, "B", event("item_added")))
	require.NoError(t, r.Broadcast(ctx, "A", event("item_updated")))

	assert.Equal(t, []string{"item_updated"}, x.events())
	assert.Equal(t, []string{"item_added"}, y.events())
}

func TestLeaveStopsFurtherEvents(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	x := registered(t, r, "x")[0]
	require.NoError(t, r.Join("x", "A"))

	require.NoError(t, r.Broadcast(ctx, "A", event("item_added")))
	r.Leave("x", "A")
	require.NoError(t, r.Broadcast(ctx, "A", event("item_deleted")))

	assert.Equal(t, []string{"item_added"}, x.events())
	assert.Empty(t, r.Rooms("x"))
	assert.Empty(t, r.Members("A"))
}

func TestDisconnectRemovesEveryMembership(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	registered(t, r, "x", "y")
	for _, room := range []string{"A", "B", "C"} {
		require.NoError(t, r.Join("x", room))
	}
	require.NoError(t, r.Join("y", "A"))
	assert.Equal(t, []string{"A", "B", "C"}, r.Rooms("x"))

	r.Disconnect("x")

	assert.Empty(t, r.Rooms("x"))
	assert.Equal(t, []string{"y"}, r.Members("A"))
	assert.Empty(t, r.Members("B"))
	assert.Equal(t, 1, r.Len())
	assert.ErrorIs(t, r.Join("x", "A"), ErrUnknownConn)
	assert.ErrorIs(t, r.Send(ctx, "x", event("joined")), ErrUnknownConn)

	r.Disconnect("x")
}

func TestBroadcastAllReachesConnectionsWithoutRooms(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	conns := registered(t, r, "x", "y")
	require.NoError(t, r.Join("x", "A"))

	require.NoError(t, r.BroadcastAll(ctx, event("list_removed")))

	for _, c := range conns {
		assert.Equal(t, []string{"list_removed"}, c.events(), c.id)
	}
}

func TestSendTargetsOneConnection(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	conns := registered(t, r, "x", "y")

	require.NoError(t, r.Send(ctx, "y", event("error")))

	assert.Empty(t, conns[0].events())
	assert.Equal(t, []string{"error"}, conns[1].events())
}

func TestFullBufferDropsOnlyForThatConnection(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	conns := registered(t, r, "slow", "fast")
	conns[0].full = true
	require.NoError(t, r.Join("slow", "A"))
	require.NoError(t, r.Join("fast", "A"))

	require.NoError(t, r.Broadcast(ctx, "A", event("item_added")))

	assert.Empty(t, conns[0].events())
	assert.Equal(t, []string{"item_added"}, conns[1].events())
}

func TestCloseClosesConnectionsAndRefusesNewOnes(t *testing.T) {
	r := NewRegistry()
	conns := registered(t, r, "x", "y")

	r.Close()

	for _, c := range conns {
		assert.True(t, c.closed, c.id)
	}
	assert.ErrorIs(t, r.Register(newFakeConn("z")), ErrClosed)
}

func TestConcurrentJoinLeaveAndBroadcast(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		c := newFakeConn(string(rune('a' + i)))
		require.NoError(t, r.Register(c))
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = r.Join(c.ID(), "A")
				r.Leave(c.ID(), "A")
			}
			_ = r.Join(c.ID(), "A")
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = r.Broadcast(ctx, "A", event("item_updated"))
			}
		}()
	}
	wg.Wait()
	assert.Len(t, r.Members("A"), n)
}
