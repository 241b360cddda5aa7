package coordination

import (
	"context"
	"errors"
	"time"

	"listsync/internal/protocol"
	"listsync/internal/room"
	"listsync/pkg/logger"
)

// EffectKind says how the Dispatcher applies an Effect.
type EffectKind int

const (
	EffectJoin     EffectKind = iota // add the session to Room
	EffectLeave                      // remove the session from Room
	EffectRoom                       // broadcast Event to Room
	EffectAll                        // broadcast Event to every connection
	EffectReply                      // send Event to the session only
	EffectSnapshot                   // reply with Room's current items
)

// Effect is one outcome of handling an inbound event. Handlers return
// effects instead of touching the registry so they can be tested alone.
type Effect struct {
	Kind  EffectKind
	Room  string
	Event protocol.Envelope
}

// Session identifies the connection an inbound event came from.
type Session struct {
	ConnID string
	UserID string
}

// Handler handles one inbound event name.
type Handler func(ctx context.Context, svc *Service, sess Session, env protocol.Envelope) ([]Effect, error)

// Handlers is the dispatch table for inbound events.
var Handlers = map[string]Handler{
	protocol.JoinRoom:   handleJoinRoom,
	protocol.LeaveRoom:  handleLeaveRoom,
	protocol.AddItem:    handleAddItem,
	protocol.UpdateItem: handleUpdateItem,
	protocol.DeleteItem: handleDeleteItem,
}

// Membership is the part of the room registry the Dispatcher mutates.
type Membership interface {
	Join(connID, roomID string) error
	Leave(connID, roomID string)
	Send(ctx context.Context, connID string, env protocol.Envelope) error
}

// Dispatcher runs handlers and applies their effects.
type Dispatcher struct {
	svc      *Service
	members  Membership
	out      room.Broadcaster
	handlers map[string]Handler
	timeout  time.Duration
}

// NewDispatcher wires the dispatch table to a membership table and a
// broadcaster. They are usually the same Registry unless a relay is in use.
// timeout bounds each mutation; zero means 5s.
func NewDispatcher(svc *Service, members Membership, out room.Broadcaster, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{svc: svc, members: members, out: out, handlers: Handlers, timeout: timeout}
}

// Dispatch handles one inbound event. The work runs on a context detached
// from the connection, so a client disconnecting mid-mutation does not
// cancel it.
func (d *Dispatcher) Dispatch(ctx context.Context, sess Session, env protocol.Envelope) {
	h, ok := d.handlers[env.Event]
	if !ok {
		logger.Debug(ctx, "Unknown inbound event", "event", env.Event)
		d.reply(ctx, sess, protocol.ErrorEvent(env.Event, "unknown event"))
		return
	}

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	effects, err := h(mctx, d.svc, sess, env)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) || errors.Is(err, protocol.ErrMalformed) {
			d.reply(ctx, sess, protocol.ErrorEvent(env.Event, err.Error()))
			return
		}
		logger.Error(ctx, "Inbound event failed", "event", env.Event, "error", err)
		return
	}
	d.apply(mctx, sess, effects)
}

func (d *Dispatcher) apply(ctx context.Context, sess Session, effects []Effect) {
	for _, e := range effects {
		var err error
		switch e.Kind {
		case EffectJoin:
			err = d.members.Join(sess.ConnID, e.Room)
		case EffectLeave:
			d.members.Leave(sess.ConnID, e.Room)
		case EffectRoom:
			err = d.out.Broadcast(ctx, e.Room, e.Event)
		case EffectAll:
			err = d.out.BroadcastAll(ctx, e.Event)
		case EffectReply:
			err = d.members.Send(ctx, sess.ConnID, e.Event)
		case EffectSnapshot:
			err = d.snapshot(ctx, sess, e.Room)
		}
		if err != nil {
			logger.Warn(ctx, "Effect not applied", "kind", e.Kind, "room", e.Room, "error", err)
		}
	}
}

// snapshot runs after the join so nothing published in between is missed.
func (d *Dispatcher) snapshot(ctx context.Context, sess Session, roomID string) error {
	items, err := d.svc.ListItems(ctx, roomID)
	if err != nil {
		return err
	}
	return d.members.Send(ctx, sess.ConnID, protocol.Must(protocol.Joined, protocol.JoinedPayload{ListID: roomID, Items: items}))
}

func (d *Dispatcher) reply(ctx context.Context, sess Session, env protocol.Envelope) {
	if err := d.members.Send(ctx, sess.ConnID, env); err != nil {
		logger.Debug(ctx, "Reply not delivered", "event", env.Event, "error", err)
	}
}

func handleJoinRoom(_ context.Context, _ *Service, sess Session, env protocol.Envelope) ([]Effect, error) {
	var ref protocol.RoomRef
	if err := protocol.DecodeData(env, &ref); err != nil {
		return nil, err
	}
	if err := required("listId", ref.ListID); err != nil {
		return nil, err
	}
	return []Effect{
		{Kind: EffectJoin, Room: ref.ListID},
		{Kind: EffectSnapshot, Room: ref.ListID},
	}, nil
}

func handleLeaveRoom(_ context.Context, _ *Service, _ Session, env protocol.Envelope) ([]Effect, error) {
	var ref protocol.RoomRef
	if err := protocol.DecodeData(env, &ref); err != nil {
		return nil, err
	}
	if err := required("listId", ref.ListID); err != nil {
		return nil, err
	}
	return []Effect{{Kind: EffectLeave, Room: ref.ListID}}, nil
}

func handleAddItem(ctx context.Context, svc *Service, _ Session, env protocol.Envelope) ([]Effect, error) {
	var req protocol.AddItemRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return nil, err
	}
	item, err := svc.AddItem(ctx, req.ListID, req.Text)
	if err != nil {
		return nil, err
	}
	return []Effect{{Kind: EffectRoom, Room: item.ListID, Event: protocol.Must(protocol.ItemAdded, item)}}, nil
}

func handleUpdateItem(ctx context.Context, svc *Service, _ Session, env protocol.Envelope) ([]Effect, error) {
	var req protocol.UpdateItemRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return nil, err
	}
	item, result, err := svc.UpdateItem(ctx, req.ListID, req.ItemID, req.Checked)
	if err != nil || result != UpdateApplied {
		return nil, err
	}
	return []Effect{{Kind: EffectRoom, Room: item.ListID, Event: protocol.Must(protocol.ItemUpdated, item)}}, nil
}

func handleDeleteItem(ctx context.Context, svc *Service, _ Session, env protocol.Envelope) ([]Effect, error) {
	var req protocol.DeleteItemRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return nil, err
	}
	if err := svc.DeleteItem(ctx, req.ListID, req.ItemID); err != nil {
		return nil, err
	}
	return []Effect{{
		Kind:  EffectRoom,
		Room:  req.ListID,
		Event: protocol.Must(protocol.ItemDeleted, protocol.ItemDeletedPayload{ListID: req.ListID, ItemID: req.ItemID}),
	}}, nil
}
