package channel

import (
	"context"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
)

// Message is one rendered notification addressed to a single recipient.
type Message struct {
	AnnouncementID string
	UserID         string
	Address        string // email address, phone number or push token
	Subject        string
	Body           string
	Config         models.ConfigValues // medium row config (templates, sender identity, ...)
}

// Sender delivers one message over a single transport. Implementations must
// return errors carrying enough transport detail (provider return codes,
// response bodies) for operator triage from the ticket's error field alone.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Registry maps each medium to its sender.
type Registry map[models.MediumType]Sender

// For returns the sender for a medium, or nil when the medium is unwired.
func (r Registry) For(medium models.MediumType) Sender {
	return r[medium]
}
