package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listsync/internal/coordination"
	"listsync/internal/lease"
	"listsync/internal/models"
	"listsync/internal/protocol"
	"listsync/internal/repository"
	"listsync/internal/room"
	"listsync/internal/testutil"
)

type fixture struct {
	url string
	reg *room.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	leases := lease.NewMemory()
	t.Cleanup(leases.Close)
	reg := room.NewRegistry()
	svc := coordination.NewService(repository.NewItems(testutil.SQLite(t)), leases)
	srv := NewServer(reg, coordination.NewDispatcher(svc, reg, reg, time.Second), 8)

	router := gin.New()
	router.GET("/ws", srv.Handle)
	hs := httptest.NewServer(router)
	t.Cleanup(hs.Close)
	return &fixture{url: "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws", reg: reg}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func write(t *testing.T, ws *websocket.Conn, event string, payload any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(protocol.Must(event, payload)))
}

// next reads frames until one named event arrives.
func next(t *testing.T, ws *websocket.Conn, event string) protocol.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env protocol.Envelope
		require.NoError(t, ws.ReadJSON(&env))
		if env.Event == event {
			return env
		}
	}
}

func TestWebsocketAddAndToggle(t *testing.T) {
	f := newFixture(t)
	x := f.dial(t)
	y := f.dial(t)

	write(t, x, protocol.JoinRoom, "L1")
	next(t, x, protocol.Joined)
	write(t, y, protocol.JoinRoom, map[string]string{"listId": "L1"})
	next(t, y, protocol.Joined)

	write(t, y, protocol.AddItem, protocol.AddItemRequest{ListID: "L1", Text: "milk"})
	var added models.Item
	require.NoError(t, json.Unmarshal(next(t, x, protocol.ItemAdded).Data, &added))
	assert.NotEmpty(t, added.ID)
	assert.False(t, added.Checked)

	write(t, x, protocol.UpdateItem, protocol.UpdateItemRequest{ListID: "L1", ItemID: added.ID, Checked: true})
	var updated models.Item
	require.NoError(t, json.Unmarshal(next(t, y, protocol.ItemUpdated).Data, &updated))
	assert.Equal(t, added.ID, updated.ID)
	assert.True(t, updated.Checked)
}

func TestWebsocketMalformedFrame(t *testing.T) {
	f := newFixture(t)
	x := f.dial(t)

	require.NoError(t, x.WriteMessage(websocket.TextMessage, []byte("not json")))
	env := next(t, x, protocol.Error)

	var p protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Contains(t, p.Message, "malformed")
}

func TestWebsocketDisconnectLeavesRooms(t *testing.T) {
	f := newFixture(t)
	x := f.dial(t)
	write(t, x, protocol.JoinRoom, "L1")
	next(t, x, protocol.Joined)
	require.Equal(t, 1, f.reg.Len())

	require.NoError(t, x.Close())

	assert.Eventually(t, func() bool {
		return f.reg.Len() == 0 && len(f.reg.Members("L1")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistryCloseEndsConnections(t *testing.T) {
	f := newFixture(t)
	x := f.dial(t)
	write(t, x, protocol.JoinRoom, "L1")
	next(t, x, protocol.Joined)

	f.reg.Close()

	require.NoError(t, x.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := x.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
	}
	assert.Eventually(t, func() bool { return f.reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDeliverDropsWhenFull(t *testing.T) {
	c := newConn("c1", nil, 1)
	env := protocol.Must(protocol.ListRemoved, protocol.ListRemovedPayload{ID: "L1"})

	assert.True(t, c.Deliver(env))
	assert.False(t, c.Deliver(env))

	<-c.send
	c.Close()
	assert.False(t, c.Deliver(env))
	c.Close()
}

func TestBroadcastAllReachesEveryConnection(t *testing.T) {
	f := newFixture(t)
	x := f.dial(t)
	y := f.dial(t)
	assert.Eventually(t, func() bool { return f.reg.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.reg.BroadcastAll(context.Background(), protocol.Must(protocol.ListRemoved, protocol.ListRemovedPayload{ID: "L9"})))

	for _, ws := range []*websocket.Conn{x, y} {
		var p protocol.ListRemovedPayload
		require.NoError(t, json.Unmarshal(next(t, ws, protocol.ListRemoved).Data, &p))
		assert.Equal(t, "L9", p.ID)
	}
}
