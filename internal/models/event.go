package models

import "time"

// EventType labels a lifecycle event pushed to connected clients.
type EventType string

const (
	EventTypeAnnouncementCreated EventType = "ANNOUNCEMENT_CREATED"
	EventTypeAnnouncementUpdated EventType = "ANNOUNCEMENT_UPDATED"
	EventTypeTicketDelivered     EventType = "TICKET_DELIVERED"
	EventTypeHeartbeat           EventType = "HEARTBEAT"
)

// Event is the wire payload fanned out to live client connections.
type Event struct {
	Type           EventType              `json:"type"`
	AnnouncementID string                 `json:"announcementId,omitempty"`
	TargetUserID   string                 `json:"targetUserId,omitempty"`
	InstituteID    string                 `json:"instituteId,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
	Priority       string                 `json:"priority,omitempty"`
	Persistent     bool                   `json:"persistent,omitempty"`
	ModeType       ModeType               `json:"modeType,omitempty"`
	EventID        string                 `json:"eventId"`
}

// IsHeartbeat reports whether the event is a liveness probe. Heartbeats bypass
// both the recipient filter and per-connection mode filters.
func (e Event) IsHeartbeat() bool {
	return e.Type == EventTypeHeartbeat
}

// DispatchOutboxStatus tracks an outbox row through the relay.
type DispatchOutboxStatus string

const (
	OutboxStatusPending   DispatchOutboxStatus = "PENDING"
	OutboxStatusPublished DispatchOutboxStatus = "PUBLISHED"
)

// DispatchOutbox is the "dispatch-pending" marker written inside the
// orchestration transaction. A relay publishes rows after commit so dispatch
// never races an uncommitted transaction.
type DispatchOutbox struct {
	ID             int64                `db:"id" json:"id"`
	AnnouncementID string               `db:"announcement_id" json:"announcement_id"`
	Medium         MediumType           `db:"medium" json:"medium"`
	Status         DispatchOutboxStatus `db:"status" json:"status"`
	CreatedAt      time.Time            `db:"created_at" json:"created_at"`
	PublishedAt    *time.Time           `db:"published_at" json:"published_at,omitempty"`
}
