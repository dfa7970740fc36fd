package models

import "time"

// ModeType is the UI/behavioral channel an announcement appears through.
type ModeType string

const (
	ModeSystemAlert  ModeType = "SYSTEM_ALERT"
	ModeDashboardPin ModeType = "DASHBOARD_PIN"
	ModeDM           ModeType = "DM"
	ModeStream       ModeType = "STREAM"
	ModeResources    ModeType = "RESOURCES"
	ModeCommunity    ModeType = "COMMUNITY"
	ModeTasks        ModeType = "TASKS"
)

// KnownModeType reports whether the mode is one of the supported channels.
func KnownModeType(mode ModeType) bool {
	switch mode {
	case ModeSystemAlert, ModeDashboardPin, ModeDM, ModeStream, ModeResources, ModeCommunity, ModeTasks:
		return true
	}
	return false
}

// MediumType is the transport used to notify a recipient.
type MediumType string

const (
	MediumEmail    MediumType = "EMAIL"
	MediumWhatsApp MediumType = "WHATSAPP"
	MediumPush     MediumType = "PUSH"
)

// KnownMediumType reports whether the medium is one of the supported transports.
func KnownMediumType(medium MediumType) bool {
	switch medium {
	case MediumEmail, MediumWhatsApp, MediumPush:
		return true
	}
	return false
}

// TicketStatus captures the delivery ticket state machine.
type TicketStatus string

const (
	TicketStatusPending   TicketStatus = "PENDING"
	TicketStatusSent      TicketStatus = "SENT"
	TicketStatusDelivered TicketStatus = "DELIVERED"
	TicketStatusFailed    TicketStatus = "FAILED"
	TicketStatusRead      TicketStatus = "READ"
)

// CanTransition reports whether the status may move forward to the target.
// The only legal reversal (SENT back to PENDING) happens via recovery reset
// and is not expressed here.
func (s TicketStatus) CanTransition(to TicketStatus) bool {
	switch s {
	case TicketStatusPending:
		return to == TicketStatusSent
	case TicketStatusSent:
		return to == TicketStatusDelivered || to == TicketStatusFailed
	case TicketStatusDelivered:
		return to == TicketStatusRead
	}
	return false
}

// IsTerminal reports whether dispatch is finished with this ticket.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusDelivered || s == TicketStatusFailed || s == TicketStatusRead
}

// TicketKey identifies a ticket: at most one ticket may exist per key.
type TicketKey struct {
	AnnouncementID string
	UserID         string
	Mode           ModeType
	Medium         MediumType
}

// DeliveryTicket is one per-user-per-mode-per-medium delivery record.
type DeliveryTicket struct {
	ID             string       `db:"id" json:"id"`
	AnnouncementID string       `db:"announcement_id" json:"announcement_id"`
	UserID         string       `db:"user_id" json:"user_id"`
	Mode           ModeType     `db:"mode" json:"mode"`
	Medium         MediumType   `db:"medium" json:"medium"`
	Status         TicketStatus `db:"status" json:"status"`
	SentAt         *time.Time   `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt    *time.Time   `db:"delivered_at" json:"delivered_at,omitempty"`
	ErrorMessage   *string      `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
}

// Key returns the ticket's identity tuple.
func (t DeliveryTicket) Key() TicketKey {
	return TicketKey{AnnouncementID: t.AnnouncementID, UserID: t.UserID, Mode: t.Mode, Medium: t.Medium}
}

// MediumStats is the per-medium slice of aggregate delivery counts.
type MediumStats struct {
	Medium    MediumType `db:"medium" json:"medium"`
	Pending   int        `db:"pending" json:"pending"`
	Sent      int        `db:"sent" json:"sent"`
	Delivered int        `db:"delivered" json:"delivered"`
	Failed    int        `db:"failed" json:"failed"`
}

// TicketStats aggregates delivery counts for one announcement.
type TicketStats struct {
	Pending   int           `json:"pending"`
	Sent      int           `json:"sent"`
	Delivered int           `json:"delivered"`
	Failed    int           `json:"failed"`
	Read      int           `json:"read"`
	PerMedium []MediumStats `json:"per_medium,omitempty"`
}
