// Package protocol is the event vocabulary shared by the realtime channel,
// the coordination service and the cross-service notifications.
//
// Every frame on the wire is an Envelope: {"event": name, "data": payload}.
// Room-scoped events carry the list id so receivers can route them without
// another fetch, and receivers are expected to apply them idempotently.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"listsync/internal/models"
)

// Inbound events sent by clients.
const (
	JoinRoom   = "join_room"
	LeaveRoom  = "leave_room"
	AddItem    = "add_item"
	UpdateItem = "update_item"
	DeleteItem = "delete_item"
)

// Outbound events.
const (
	ItemAdded   = "item_added"   // room
	ItemUpdated = "item_updated" // room
	ItemDeleted = "item_deleted" // room
	ListCreated = "list_created" // all
	ListRemoved = "list_removed" // all
	Joined      = "joined"       // sender
	Error       = "error"        // sender
)

// ErrMalformed wraps every decode failure of an inbound frame.
var ErrMalformed = errors.New("malformed event")

// Envelope is one frame on the realtime channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomRef is the payload of join_room and leave_room.
type RoomRef struct {
	ListID string `json:"listId"`
}

// UnmarshalJSON accepts either a bare list id string or {"listId": ...}.
func (r *RoomRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &r.ListID)
	}
	type plain RoomRef
	return json.Unmarshal(b, (*plain)(r))
}

type AddItemRequest struct {
	ListID string `json:"listId"`
	Text   string `json:"text"`
}

type UpdateItemRequest struct {
	ListID  string `json:"listId"`
	ItemID  string `json:"itemId"`
	Checked bool   `json:"checked"`
}

type DeleteItemRequest struct {
	ListID string `json:"listId"`
	ItemID string `json:"itemId"`
}

type ItemDeletedPayload struct {
	ListID string `json:"listId"`
	ItemID string `json:"itemId"`
}

type ListRemovedPayload struct {
	ID string `json:"id"`
}

type JoinedPayload struct {
	ListID string        `json:"listId"`
	Items  []models.Item `json:"items"`
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// New builds an envelope, marshaling payload as its data.
func New(event string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Envelope{Event: event, Data: b}, nil
}

// Must is New for payloads that always marshal (the structs in this package).
func Must(event string, payload any) Envelope {
	env, err := New(event, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// ErrorEvent builds the reply sent to a client whose request failed validation.
func ErrorEvent(inbound, message string) Envelope {
	return Must(Error, ErrorPayload{Event: inbound, Message: message})
}

// Decode reads one frame.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	return env, nil
}

// Encode writes one frame.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// DecodeData unmarshals the envelope payload into v.
func DecodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrMalformed, env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
	}
	return nil
}
