package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	appErrors "github.com/vacademy-io/notify-delivery-api/pkg/errors"
)

type ticketInteractionStore interface {
	HasTicket(ctx context.Context, announcementID, userID string) (bool, error)
	MarkRead(ctx context.Context, announcementID, userID string) error
}

// InteractionService records recipient-side interactions with delivered
// announcements.
type InteractionService struct {
	tickets ticketInteractionStore
	logger  *zap.Logger
}

// NewInteractionService constructs the service.
func NewInteractionService(tickets ticketInteractionStore, logger *zap.Logger) *InteractionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InteractionService{tickets: tickets, logger: logger}
}

// MarkRead records that the user read the announcement. Only recipients can
// mark a read, and repeated reads collapse to the first.
func (s *InteractionService) MarkRead(ctx context.Context, announcementID, userID string) error {
	has, err := s.tickets.HasTicket(ctx, announcementID, userID)
	if err != nil {
		return err
	}
	if !has {
		return appErrors.Clone(appErrors.ErrNotFound,
			fmt.Sprintf("user %s has no delivery for announcement %s", userID, announcementID))
	}
	return s.tickets.MarkRead(ctx, announcementID, userID)
}
