// Package room scopes realtime fan-out to the observers of one list.
//
// The Registry maps list ids (rooms) to the connections currently joined to
// them. Delivery is fire-and-forget and at most once: events are handed to
// each connection's bounded outbound buffer and dropped for that connection
// when the buffer is full. Nothing is queued for observers that join later.
package room

import (
	"context"
	"errors"
	"sort"
	"sync"

	"listsync/internal/metrics"
	"listsync/internal/protocol"
	"listsync/pkg/logger"
)

var (
	ErrUnknownConn = errors.New("room: unknown connection")
	ErrClosed      = errors.New("room: registry closed")
)

// Conn is a connection as seen by the registry.
type Conn interface {
	ID() string
	// Deliver enqueues env without blocking and reports whether it was accepted.
	Deliver(env protocol.Envelope) bool
	// Close ends the connection; called by Registry.Close.
	Close()
}

// Broadcaster publishes events to one room or to every connection.
type Broadcaster interface {
	Broadcast(ctx context.Context, roomID string, env protocol.Envelope) error
	BroadcastAll(ctx context.Context, env protocol.Envelope) error
}

// Registry is the in-process room table. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	rooms  map[string]map[string]struct{} // room -> conn ids
	joined map[string]map[string]struct{} // conn id -> rooms
	closed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]Conn),
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
	}
}

// Register makes c reachable by BroadcastAll and Send.
func (r *Registry) Register(c Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.conns[c.ID()] = c
	if _, ok := r.joined[c.ID()]; !ok {
		r.joined[c.ID()] = make(map[string]struct{})
	}
	metrics.Connections.Inc()
	return nil
}

// Join adds a registered connection to a room. Joining twice is a no-op.
func (r *Registry) Join(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms, ok := r.joined[connID]
	if !ok {
		return ErrUnknownConn
	}
	rooms[roomID] = struct{}{}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[connID] = struct{}{}
	return nil
}

// Leave removes a connection from a room. Leaving a room never joined is a no-op.
func (r *Registry) Leave(connID, roomID string) {
	r.mu.Lock()
	r.leaveLocked(connID, roomID)
	r.mu.Unlock()
}

func (r *Registry) leaveLocked(connID, roomID string) {
	if rooms, ok := r.joined[connID]; ok {
		delete(rooms, roomID)
	}
	if members, ok := r.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// Disconnect forgets a connection and removes it from every room it joined.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms, ok := r.joined[connID]
	if !ok {
		return
	}
	for roomID := range rooms {
		r.leaveLocked(connID, roomID)
	}
	delete(r.joined, connID)
	if _, ok := r.conns[connID]; ok {
		delete(r.conns, connID)
		metrics.Connections.Dec()
	}
}

// Broadcast delivers env to the connections joined to roomID right now.
func (r *Registry) Broadcast(ctx context.Context, roomID string, env protocol.Envelope) error {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		if c, ok := r.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()
	metrics.EventsPublished.WithLabelValues(env.Event, "room").Inc()
	r.deliver(ctx, targets, env)
	return nil
}

// BroadcastAll delivers env to every registered connection.
func (r *Registry) BroadcastAll(ctx context.Context, env protocol.Envelope) error {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	metrics.EventsPublished.WithLabelValues(env.Event, "all").Inc()
	r.deliver(ctx, targets, env)
	return nil
}

// Send delivers env to one connection.
func (r *Registry) Send(ctx context.Context, connID string, env protocol.Envelope) error {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownConn
	}
	metrics.EventsPublished.WithLabelValues(env.Event, "sender").Inc()
	r.deliver(ctx, []Conn{c}, env)
	return nil
}

func (r *Registry) deliver(ctx context.Context, targets []Conn, env protocol.Envelope) {
	for _, c := range targets {
		if !c.Deliver(env) {
			metrics.EventsDropped.Inc()
			logger.Debug(ctx, "Event dropped for slow connection", "conn_id", c.ID(), "event", env.Event)
		}
	}
}

// Rooms lists the rooms connID has joined, sorted.
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.joined[connID])
}

// Members lists the connections joined to roomID, sorted.
func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.rooms[roomID])
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close refuses new connections and closes every registered one. The
// connections' own teardown then calls Disconnect.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
