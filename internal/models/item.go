package models

import "time"

// Item is one entry of a shared list.
type Item struct {
	ID        string    `json:"id"`
	ListID    string    `json:"listId"`
	Text      string    `json:"text"`
	Checked   bool      `json:"checked"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// List is owned by the lists service; items reference it by ID only.
type List struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Lease is an exclusive, time-bounded claim on a resource id.
type Lease struct {
	ResourceID string        `json:"resourceId"`
	Token      string        `json:"-"`
	CreatedAt  time.Time     `json:"createdAt"`
	TTL        time.Duration `json:"-"`
}

// ExpiresAt reports when the lease stops being live.
func (l Lease) ExpiresAt() time.Time {
	return l.CreatedAt.Add(l.TTL)
}

// Live reports whether the lease still excludes other holders at now.
func (l Lease) Live(now time.Time) bool {
	return now.Before(l.ExpiresAt())
}

// TTLSeconds is the persisted form of TTL, rounded up to whole seconds.
func (l Lease) TTLSeconds() int {
	return int((l.TTL + time.Second - 1) / time.Second)
}

// PurgeCommand is the Kafka message asking the items service to delete every
// item of a list. It is published when the HTTP cascade gives up.
type PurgeCommand struct {
	ListID      string    `json:"listId"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}
