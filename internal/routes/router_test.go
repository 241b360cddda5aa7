package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listsync/internal/cache"
	"listsync/internal/controller"
	"listsync/internal/coordination"
	"listsync/internal/lease"
	"listsync/internal/metrics"
	"listsync/internal/notifier"
	"listsync/internal/realtime"
	"listsync/internal/repository"
	"listsync/internal/room"
	"listsync/internal/testutil"
)

var auth = Auth{JWTSecret: "secret", InternalToken: "internal"}

func itemsRouter(t *testing.T) http.Handler {
	t.Helper()
	leases := lease.NewMemory()
	t.Cleanup(leases.Close)
	reg := room.NewRegistry()
	svc := coordination.NewService(repository.NewItems(testutil.SQLite(t)), leases)
	disp := coordination.NewDispatcher(svc, reg, reg, time.Second)
	promReg := metrics.NewRegistry()
	metrics.Register(promReg)
	return ItemsRouter(auth, controller.NewItems(svc, reg), realtime.NewServer(reg, disp, 0), promReg, controller.Ready())
}

func token(t *testing.T) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"}).SignedString([]byte(auth.JWTSecret))
	require.NoError(t, err)
	return s
}

func TestItemsRouterGuards(t *testing.T) {
	r := itemsRouter(t)

	tests := []struct {
		name   string
		method string
		target string
		header string
		value  string
		status int
	}{
		{name: "items without token", method: http.MethodGet, target: "/items/L1", status: http.StatusUnauthorized},
		{name: "items with token", method: http.MethodGet, target: "/items/L1", header: "Authorization", value: "Bearer " + token(t), status: http.StatusOK},
		{name: "purge with user token", method: http.MethodDelete, target: "/items/by-list/L1", header: "Authorization", value: "Bearer " + token(t), status: http.StatusUnauthorized},
		{name: "purge with internal token", method: http.MethodDelete, target: "/items/by-list/L1", header: notifier.InternalTokenHeader, value: auth.InternalToken, status: http.StatusOK},
		{name: "ws without token", method: http.MethodGet, target: "/ws", status: http.StatusUnauthorized},
		{name: "health", method: http.MethodGet, target: "/health", status: http.StatusOK},
		{name: "ready", method: http.MethodGet, target: "/ready", status: http.StatusOK},
		{name: "metrics", method: http.MethodGet, target: "/metrics", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestListsRouterGuards(t *testing.T) {
	_, rdb := testutil.Redis(t)
	lists := controller.NewLists(repository.NewLists(testutil.SQLite(t)), cache.NewLists(rdb, time.Minute), notifier.New("http://127.0.0.1:1"), nil)
	r := ListsRouter(auth, lists, metrics.NewRegistry(), controller.Ready())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lists", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/lists", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
