package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vacademy-io/notify-delivery-api/internal/channel"
	"github.com/vacademy-io/notify-delivery-api/internal/directory"
	"github.com/vacademy-io/notify-delivery-api/internal/models"
)

type pendingTicketStore interface {
	ListPending(ctx context.Context, announcementID string, medium models.MediumType, limit int) ([]models.DeliveryTicket, error)
	PendingMediums(ctx context.Context, announcementID string) ([]models.MediumType, error)
	MarkSent(ctx context.Context, ticketID string) (bool, error)
	MarkDelivered(ctx context.Context, ticketID string) error
	MarkFailed(ctx context.Context, ticketID string, errMsg string) error
}

type mediumConfigStore interface {
	MediumConfig(ctx context.Context, announcementID string, medium models.MediumType) (*models.MediumConfig, error)
}

type contentResolver interface {
	Content(ctx context.Context, contentID string) (*directory.Content, error)
}

type userProfileLookup interface {
	UsersByIDs(ctx context.Context, ids []string) ([]directory.User, error)
}

type announcementReader interface {
	GetByID(ctx context.Context, id string) (*models.Announcement, error)
}

type deliveryEventEmitter interface {
	EmitTicketDelivered(ann *models.Announcement, userID string, mode models.ModeType)
}

type dispatchRecorder interface {
	DispatchResult(medium models.MediumType, delivered bool)
}

// DispatchService drains PENDING tickets through the channel senders. Each
// ticket is claimed (PENDING to SENT) before its send so concurrent workers
// never double-deliver, and each send outcome is recorded independently: one
// failing recipient never blocks the rest of the batch.
type DispatchService struct {
	tickets       pendingTicketStore
	configs       mediumConfigStore
	contents      contentResolver
	users         userProfileLookup
	announcements announcementReader
	senders       channel.Registry
	events        deliveryEventEmitter
	metrics       dispatchRecorder
	limiter       *rate.Limiter
	batchSize     int
	logger        *zap.Logger
}

// DispatchDeps collects the dispatcher's collaborators.
type DispatchDeps struct {
	Tickets       pendingTicketStore
	Configs       mediumConfigStore
	Contents      contentResolver
	Users         userProfileLookup
	Announcements announcementReader
	Senders       channel.Registry
	Events        deliveryEventEmitter
	Metrics       dispatchRecorder
	RatePerSecond float64
	BatchSize     int
	Logger        *zap.Logger
}

// NewDispatchService constructs the dispatcher.
func NewDispatchService(deps DispatchDeps) *DispatchService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = 200
	}
	var limiter *rate.Limiter
	if deps.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(deps.RatePerSecond), int(deps.RatePerSecond)+1)
	}
	return &DispatchService{
		tickets:       deps.Tickets,
		configs:       deps.Configs,
		contents:      deps.Contents,
		users:         deps.Users,
		announcements: deps.Announcements,
		senders:       deps.Senders,
		events:        deps.Events,
		metrics:       deps.Metrics,
		limiter:       limiter,
		batchSize:     deps.BatchSize,
		logger:        deps.Logger,
	}
}

// DispatchAnnouncement drains every medium that still has pending tickets.
func (s *DispatchService) DispatchAnnouncement(ctx context.Context, announcementID string) error {
	mediums, err := s.tickets.PendingMediums(ctx, announcementID)
	if err != nil {
		return err
	}
	for _, medium := range mediums {
		if err := s.Dispatch(ctx, announcementID, medium); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch drains the pending tickets of one announcement and medium.
func (s *DispatchService) Dispatch(ctx context.Context, announcementID string, medium models.MediumType) error {
	ann, err := s.announcements.GetByID(ctx, announcementID)
	if err != nil {
		return err
	}

	subjectTpl, bodyTpl, mediumCfg := s.loadTemplates(ctx, ann, medium)

	for {
		batch, err := s.tickets.ListPending(ctx, announcementID, medium, s.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		profiles, err := s.loadProfiles(ctx, batch)
		if err != nil {
			return err
		}

		claimed := 0
		for _, ticket := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if s.dispatchTicket(ctx, ann, ticket, profiles[ticket.UserID], subjectTpl, bodyTpl, mediumCfg) {
				claimed++
			}
		}

		if len(batch) < s.batchSize {
			return nil
		}
		if claimed == 0 {
			// A full batch that claims nothing would re-list the same tickets
			// forever. Stop here; the next relay pass retries.
			s.logger.Warn("dispatch pass claimed no tickets, stopping",
				zap.String("announcement_id", announcementID),
				zap.String("medium", string(medium)),
			)
			return nil
		}
	}
}

// dispatchTicket reports whether the ticket was claimed for this pass.
func (s *DispatchService) dispatchTicket(ctx context.Context, ann *models.Announcement, ticket models.DeliveryTicket, user directory.User, subjectTpl, bodyTpl string, cfg models.ConfigValues) bool {
	claimed, err := s.tickets.MarkSent(ctx, ticket.ID)
	if err != nil {
		s.logger.Error("claim ticket failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return false
	}
	if !claimed {
		return false
	}

	sendErr := s.send(ctx, ann, ticket, user, subjectTpl, bodyTpl, cfg)
	if sendErr != nil {
		if err := s.tickets.MarkFailed(ctx, ticket.ID, sendErr.Error()); err != nil {
			s.logger.Error("record ticket failure failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.DispatchResult(ticket.Medium, false)
		}
		s.logger.Warn("ticket send failed",
			zap.String("ticket_id", ticket.ID),
			zap.String("medium", string(ticket.Medium)),
			zap.Error(sendErr),
		)
		return true
	}

	if err := s.tickets.MarkDelivered(ctx, ticket.ID); err != nil {
		s.logger.Error("record ticket delivery failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return true
	}
	if s.metrics != nil {
		s.metrics.DispatchResult(ticket.Medium, true)
	}
	if s.events != nil {
		s.events.EmitTicketDelivered(ann, ticket.UserID, ticket.Mode)
	}
	return true
}

func (s *DispatchService) send(ctx context.Context, ann *models.Announcement, ticket models.DeliveryTicket, user directory.User, subjectTpl, bodyTpl string, cfg models.ConfigValues) error {
	sender := s.senders.For(ticket.Medium)
	if sender == nil {
		return fmt.Errorf("no sender configured for medium %s", ticket.Medium)
	}
	if user.ID == "" {
		return fmt.Errorf("user %s not found in directory", ticket.UserID)
	}

	vars := channel.Vars{
		UserName:          user.FullName,
		UserEmail:         user.Email,
		AnnouncementTitle: ann.Title,
		InstituteID:       ann.InstituteID,
	}
	msg := channel.Message{
		AnnouncementID: ann.ID,
		UserID:         ticket.UserID,
		Address:        addressFor(ticket.Medium, user),
		Subject:        channel.Render(subjectTpl, vars),
		Body:           channel.Render(bodyTpl, vars),
		Config:         cfg,
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return sender.Send(ctx, msg)
}

// loadTemplates resolves the subject and body for a medium. Medium config
// templates win; the content store body is the fallback, and the bare title
// keeps delivery alive when the content store is down.
func (s *DispatchService) loadTemplates(ctx context.Context, ann *models.Announcement, medium models.MediumType) (subject, body string, cfg models.ConfigValues) {
	subject = ann.Title
	body = ann.Title

	if s.contents != nil && ann.ContentID != "" {
		content, err := s.contents.Content(ctx, ann.ContentID)
		if err != nil {
			s.logger.Warn("content store lookup failed, using title only",
				zap.String("announcement_id", ann.ID),
				zap.Error(err),
			)
		} else {
			if content.Subject != "" {
				subject = content.Subject
			}
			if content.Body != "" {
				body = content.Body
			}
		}
	}

	mediumCfg, err := s.configs.MediumConfig(ctx, ann.ID, medium)
	if err != nil {
		s.logger.Warn("medium config lookup failed",
			zap.String("announcement_id", ann.ID),
			zap.String("medium", string(medium)),
			zap.Error(err),
		)
		return subject, body, nil
	}
	if mediumCfg == nil {
		return subject, body, nil
	}
	if tpl := mediumCfg.Config["subject"]; tpl != "" {
		subject = tpl
	}
	if tpl := mediumCfg.Config["body"]; tpl != "" {
		body = tpl
	}
	return subject, body, mediumCfg.Config
}

func (s *DispatchService) loadProfiles(ctx context.Context, batch []models.DeliveryTicket) (map[string]directory.User, error) {
	ids := make([]string, 0, len(batch))
	seen := make(map[string]struct{}, len(batch))
	for _, t := range batch {
		if _, dup := seen[t.UserID]; dup {
			continue
		}
		seen[t.UserID] = struct{}{}
		ids = append(ids, t.UserID)
	}

	users, err := s.users.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load recipient profiles: %w", err)
	}
	profiles := make(map[string]directory.User, len(users))
	for _, u := range users {
		profiles[u.ID] = u
	}
	return profiles, nil
}

func addressFor(medium models.MediumType, user directory.User) string {
	switch medium {
	case models.MediumEmail:
		return user.Email
	case models.MediumWhatsApp:
		return user.Phone
	default:
		return user.ID
	}
}
