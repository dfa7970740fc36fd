package dto

import (
	"time"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
)

// StatusResponse reports the delivery progress of one announcement.
type StatusResponse struct {
	AnnouncementID string                    `json:"announcement_id"`
	Status         models.AnnouncementStatus `json:"status"`
	Stats          models.TicketStats        `json:"stats"`
}

// RecoveryReport summarises one recovery pass over an announcement.
type RecoveryReport struct {
	AnnouncementID string    `json:"announcement_id"`
	ResetTickets   int64     `json:"reset_tickets"`
	PendingTickets int       `json:"pending_tickets"`
	Redispatched   bool      `json:"redispatched"`
	RecoveredAt    time.Time `json:"recovered_at"`
}

// StartupRecoveryReport summarises the crash-recovery sweep run at boot.
type StartupRecoveryReport struct {
	Scanned   int              `json:"scanned"`
	Recovered []RecoveryReport `json:"recovered"`
	Failures  int              `json:"failures"`
}
