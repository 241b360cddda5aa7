package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
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

type inbox struct {
	id  string
	mu  sync.Mutex
	got []protocol.Envelope
}

func (b *inbox) ID() string { return b.id }
func (b *inbox) Close()     {}
func (b *inbox) Deliver(env protocol.Envelope) bool {
	b.mu.Lock()
	b.got = append(b.got, env)
	b.mu.Unlock()
	return true
}

func (b *inbox) events() []protocol.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.Envelope(nil), b.got...)
}

func newItemsRouter(t *testing.T) (*gin.Engine, *repository.Items, *inbox) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := repository.NewItems(testutil.SQLite(t))
	leases := lease.NewMemory()
	t.Cleanup(leases.Close)
	reg := room.NewRegistry()
	client := &inbox{id: "c1"}
	require.NoError(t, reg.Register(client))

	h := NewItems(coordination.NewService(repo, leases), reg)
	r := gin.New()
	r.GET("/items/:listId", h.ListItems)
	r.DELETE("/items/by-list/:listId", h.PurgeList)
	r.POST("/internal/notify/list-created", h.ListCreated)
	r.POST("/internal/notify/list-deleted", h.ListDeleted)
	return r, repo, client
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListItemsEndpoint(t *testing.T) {
	r, repo, _ := newItemsRouter(t)
	require.NoError(t, repo.Create(context.Background(), &models.Item{ListID: "L1", Text: "milk"}))

	w := do(r, http.MethodGet, "/items/L1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var items []models.Item
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "milk", items[0].Text)

	w = do(r, http.MethodGet, "/items/empty", "")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestPurgeListEndpointIsIdempotent(t *testing.T) {
	r, repo, _ := newItemsRouter(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &models.Item{ListID: "L1", Text: "a"}))
	require.NoError(t, repo.Create(ctx, &models.Item{ListID: "L1", Text: "b"}))

	w := do(r, http.MethodDelete, "/items/by-list/L1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"listId":"L1","deleted":2}`, w.Body.String())

	w = do(r, http.MethodDelete, "/items/by-list/L1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"listId":"L1","deleted":0}`, w.Body.String())
}

func TestListNotificationsBroadcastToEveryone(t *testing.T) {
	r, _, client := newItemsRouter(t)

	w := do(r, http.MethodPost, "/internal/notify/list-created", `{"id":"L1","name":"groceries","ownerId":"u1"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = do(r, http.MethodPost, "/internal/notify/list-deleted", `{"id":"L1"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	got := client.events()
	require.Len(t, got, 2)
	assert.Equal(t, protocol.ListCreated, got[0].Event)
	assert.Equal(t, protocol.ListRemoved, got[1].Event)
	assert.JSONEq(t, `{"id":"L1"}`, string(got[1].Data))
}

func TestListNotificationsRejectMissingID(t *testing.T) {
	r, _, client := newItemsRouter(t)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/internal/notify/list-deleted", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/internal/notify/list-created", `nope`).Code)
	assert.Empty(t, client.events())
}
