package models

import (
	"time"

	"myapi/pkg/platform/audit"
)

// Event types recorded in the item event stream and pushed to realtime
// subscribers.
const (
	EventCreated  = "item.created"
	EventUpdated  = "item.updated"
	EventDeleted  = "item.deleted"
	EventRestored = "item.restored"

	// EventUnrecorded holds a stream position whose event could not be
	// written. It carries no item and leaves folded state unchanged.
	EventUnrecorded = "item.unrecorded"
)

// AuditActionFor maps an item event type to its audit action.
func AuditActionFor(eventType string) audit.AuditEvent {
	switch eventType {
	case EventCreated:
		return audit.EventItemCreated
	case EventUpdated:
		return audit.EventItemUpdated
	case EventDeleted:
		return audit.EventItemDeleted
	default:
		return audit.EventItemRestored
	}
}

// Change is the payload of an item event: the full item after the command
// plus the fields it touched.
type Change struct {
	Item    *Item    `json:"item"`
	Changed []string `json:"changed,omitempty"`
}

// Notification is pushed to realtime subscribers after each command.
type Notification struct {
	Type    string    `json:"type"`
	ItemID  string    `json:"item_id"`
	OwnerID string    `json:"owner_id"`
	Version int64     `json:"version"`
	ActorID string    `json:"actor_id"`
	At      time.Time `json:"at"`
	Item    *Item     `json:"item,omitempty"`
}

// HistoryEntry is one step of an item's event stream.
type HistoryEntry struct {
	Version    int64     `json:"version"`
	Type       string    `json:"type"`
	ActorID    string    `json:"actor_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Changed    []string  `json:"changed,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ListResponse is the body of GET /v1/items.
type ListResponse struct {
	Items      []*Item `json:"items"`
	NextCursor string  `json:"next_cursor,omitempty"`
}
