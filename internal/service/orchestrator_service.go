package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/vacademy-io/notify-delivery-api/internal/directory"
	"github.com/vacademy-io/notify-delivery-api/internal/models"
	appErrors "github.com/vacademy-io/notify-delivery-api/pkg/errors"
)

type announcementStore interface {
	GetByID(ctx context.Context, id string) (*models.Announcement, error)
	GetByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Announcement, error)
	UpdateStatus(ctx context.Context, id string, status models.AnnouncementStatus) error
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.AnnouncementStatus) error
}

type recipientSpecStore interface {
	ListByAnnouncement(ctx context.Context, announcementID string) ([]models.RecipientSpec, error)
}

type deliveryConfigStore interface {
	ActiveModes(ctx context.Context, announcementID string) ([]models.ModeConfig, error)
	ActiveMediums(ctx context.Context, announcementID string) ([]models.MediumConfig, error)
}

type ticketWriter interface {
	ExistingKeysTx(ctx context.Context, tx *sqlx.Tx, announcementID string) (map[models.TicketKey]struct{}, error)
	InsertPendingTx(ctx context.Context, tx *sqlx.Tx, key models.TicketKey) error
}

type outboxWriter interface {
	InsertTx(ctx context.Context, tx *sqlx.Tx, announcementID string, medium models.MediumType) error
}

type recipientResolver interface {
	Resolve(ctx context.Context, instituteID string, specs []models.RecipientSpec) ([]directory.User, error)
}

type recipientSetCache interface {
	StoreRecipientSet(ctx context.Context, announcementID string, userIDs []string, ttl time.Duration) error
}

type announcementEventEmitter interface {
	EmitNewAnnouncement(ann *models.Announcement, userIDs []string, modes []models.ModeType)
}

type ticketCreationRecorder interface {
	TicketsCreated(n int)
}

// DeliveryResult summarises one orchestration pass.
type DeliveryResult struct {
	AnnouncementID string                    `json:"announcement_id"`
	Status         models.AnnouncementStatus `json:"status"`
	Recipients     int                       `json:"recipients"`
	TicketsCreated int                       `json:"tickets_created"`
	Mediums        []models.MediumType       `json:"mediums,omitempty"`
	Modes          []models.ModeType         `json:"modes,omitempty"`
}

// OrchestratorService drives the delivery pipeline for one announcement:
// status gate, recipient resolution, ticket creation and the dispatch
// hand-off. Ticket writes, outbox markers and the status flip share one
// transaction, so a crash mid-pass leaves either no trace or a complete,
// recoverable one.
type OrchestratorService struct {
	db            *sqlx.DB
	announcements announcementStore
	specs         recipientSpecStore
	configs       deliveryConfigStore
	tickets       ticketWriter
	outbox        outboxWriter
	resolver      recipientResolver
	cache         recipientSetCache
	events        announcementEventEmitter
	metrics       ticketCreationRecorder
	cacheTTL      time.Duration
	logger        *zap.Logger
}

// OrchestratorDeps collects the orchestrator's collaborators.
type OrchestratorDeps struct {
	DB            *sqlx.DB
	Announcements announcementStore
	Specs         recipientSpecStore
	Configs       deliveryConfigStore
	Tickets       ticketWriter
	Outbox        outboxWriter
	Resolver      recipientResolver
	Cache         recipientSetCache
	Events        announcementEventEmitter
	Metrics       ticketCreationRecorder
	CacheTTL      time.Duration
	Logger        *zap.Logger
}

// NewOrchestratorService constructs the orchestrator.
func NewOrchestratorService(deps OrchestratorDeps) *OrchestratorService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = 10 * time.Minute
	}
	return &OrchestratorService{
		db:            deps.DB,
		announcements: deps.Announcements,
		specs:         deps.Specs,
		configs:       deps.Configs,
		tickets:       deps.Tickets,
		outbox:        deps.Outbox,
		resolver:      deps.Resolver,
		cache:         deps.Cache,
		events:        deps.Events,
		metrics:       deps.Metrics,
		cacheTTL:      deps.CacheTTL,
		logger:        deps.Logger,
	}
}

// ProcessDelivery runs one full delivery pass. Safe to repeat: existing
// tickets are skipped, so re-running an already delivered announcement only
// creates tickets for recipients who joined the audience since the last pass.
// A failed first delivery rolls back and marks the announcement INACTIVE in a
// separate transaction so the failure is visible on the announcement itself.
// An announcement that was already ACTIVE keeps its status on failure; the
// next scheduled pass simply retries.
func (s *OrchestratorService) ProcessDelivery(ctx context.Context, announcementID string) (*DeliveryResult, error) {
	result, err := s.runDelivery(ctx, announcementID)
	if err != nil && !isDeliveryGateError(err) {
		s.deactivateAfterFailure(ctx, announcementID)
	}
	return result, err
}

func (s *OrchestratorService) deactivateAfterFailure(ctx context.Context, announcementID string) {
	ann, err := s.announcements.GetByID(ctx, announcementID)
	if err != nil {
		s.logger.Error("failed to load announcement after delivery failure",
			zap.String("announcement_id", announcementID),
			zap.Error(err),
		)
		return
	}
	if ann.Status == models.AnnouncementStatusActive {
		s.logger.Warn("delivery pass failed for active announcement, keeping it active",
			zap.String("announcement_id", announcementID),
		)
		return
	}
	if err := s.announcements.UpdateStatus(ctx, announcementID, models.AnnouncementStatusInactive); err != nil {
		s.logger.Error("failed to deactivate announcement after delivery failure",
			zap.String("announcement_id", announcementID),
			zap.Error(err),
		)
	}
}

// isDeliveryGateError reports whether the error came from the status gate
// rather than from delivery work. Gate errors must not deactivate anything.
func isDeliveryGateError(err error) bool {
	code := appErrors.FromError(err).Code
	return code == appErrors.ErrPreconditionFailed.Code || code == appErrors.ErrNotFound.Code
}

func (s *OrchestratorService) runDelivery(ctx context.Context, announcementID string) (*DeliveryResult, error) {
	specs, err := s.specs.ListByAnnouncement(ctx, announcementID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delivery transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ann, err := s.announcements.GetByIDTx(ctx, tx, announcementID)
	if err != nil {
		return nil, err
	}
	switch ann.Status {
	case models.AnnouncementStatusPendingApproval, models.AnnouncementStatusRejected:
		// Not deliverable. Replays return an empty result so retries stay quiet.
		s.logger.Info("skipping delivery for non-deliverable announcement",
			zap.String("announcement_id", announcementID),
			zap.String("status", string(ann.Status)),
		)
		return &DeliveryResult{AnnouncementID: announcementID, Status: ann.Status}, nil
	case models.AnnouncementStatusInactive:
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("announcement %s is %s and cannot be delivered", announcementID, ann.Status))
	}

	users, err := s.resolver.Resolve(ctx, ann.InstituteID, specs)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	result := &DeliveryResult{AnnouncementID: announcementID, Recipients: len(users)}

	if len(users) == 0 {
		if ann.Status == models.AnnouncementStatusActive {
			// Existing recipients keep their tickets; an empty re-resolution
			// must not kill a live announcement.
			s.logger.Warn("re-resolution returned zero recipients, keeping announcement active",
				zap.String("announcement_id", announcementID),
			)
			result.Status = models.AnnouncementStatusActive
			return result, nil
		}
		if err := s.announcements.UpdateStatusTx(ctx, tx, announcementID, models.AnnouncementStatusInactive); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit delivery transaction: %w", err)
		}
		s.logger.Warn("announcement resolved to zero recipients, deactivated",
			zap.String("announcement_id", announcementID),
		)
		result.Status = models.AnnouncementStatusInactive
		return result, nil
	}

	modes, mediums, err := s.loadDeliveryPlan(ctx, announcementID)
	if err != nil {
		return nil, err
	}
	result.Modes = modes
	result.Mediums = mediums

	existing, err := s.tickets.ExistingKeysTx(ctx, tx, announcementID)
	if err != nil {
		return nil, err
	}

	created := 0
	touchedMediums := make(map[models.MediumType]struct{})
	for _, user := range users {
		for _, mode := range modes {
			for _, medium := range mediums {
				if !modeSupportsMedium(mode, medium) {
					continue
				}
				key := models.TicketKey{
					AnnouncementID: announcementID,
					UserID:         user.ID,
					Mode:           mode,
					Medium:         medium,
				}
				if _, dup := existing[key]; dup {
					continue
				}
				if err := s.tickets.InsertPendingTx(ctx, tx, key); err != nil {
					return nil, err
				}
				existing[key] = struct{}{}
				touchedMediums[medium] = struct{}{}
				created++
			}
		}
	}
	result.TicketsCreated = created

	for _, medium := range mediums {
		if _, touched := touchedMediums[medium]; !touched {
			continue
		}
		if err := s.outbox.InsertTx(ctx, tx, announcementID, medium); err != nil {
			return nil, err
		}
	}

	if ann.Status != models.AnnouncementStatusActive {
		if err := s.announcements.UpdateStatusTx(ctx, tx, announcementID, models.AnnouncementStatusActive); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delivery transaction: %w", err)
	}
	result.Status = models.AnnouncementStatusActive

	userIDs := make([]string, len(users))
	for i, u := range users {
		userIDs[i] = u.ID
	}
	if s.cache != nil {
		if err := s.cache.StoreRecipientSet(ctx, announcementID, userIDs, s.cacheTTL); err != nil {
			s.logger.Warn("recipient set cache write failed", zap.String("announcement_id", announcementID), zap.Error(err))
		}
	}
	if s.events != nil {
		s.events.EmitNewAnnouncement(ann, userIDs, modes)
	}
	if s.metrics != nil && created > 0 {
		s.metrics.TicketsCreated(created)
	}

	s.logger.Info("delivery pass complete",
		zap.String("announcement_id", announcementID),
		zap.Int("recipients", len(users)),
		zap.Int("tickets_created", created),
	)
	return result, nil
}

// loadDeliveryPlan reads the active modes and mediums. An announcement with no
// configured modes still reaches recipients through the default system alert.
func (s *OrchestratorService) loadDeliveryPlan(ctx context.Context, announcementID string) ([]models.ModeType, []models.MediumType, error) {
	modeRows, err := s.configs.ActiveModes(ctx, announcementID)
	if err != nil {
		return nil, nil, err
	}
	modes := make([]models.ModeType, 0, len(modeRows))
	for _, row := range modeRows {
		if !models.KnownModeType(row.Mode) {
			s.logger.Warn("skipping unknown mode", zap.String("announcement_id", announcementID), zap.String("mode", string(row.Mode)))
			continue
		}
		modes = append(modes, row.Mode)
	}
	if len(modes) == 0 {
		modes = []models.ModeType{models.ModeSystemAlert}
	}

	mediumRows, err := s.configs.ActiveMediums(ctx, announcementID)
	if err != nil {
		return nil, nil, err
	}
	mediums := make([]models.MediumType, 0, len(mediumRows))
	for _, row := range mediumRows {
		if !models.KnownMediumType(row.Medium) {
			s.logger.Warn("skipping unknown medium", zap.String("announcement_id", announcementID), zap.String("medium", string(row.Medium)))
			continue
		}
		mediums = append(mediums, row.Medium)
	}
	if len(mediums) == 0 {
		s.logger.Warn("announcement has no active mediums, delivery is in-app only",
			zap.String("announcement_id", announcementID),
		)
	}
	return modes, mediums, nil
}

// modeSupportsMedium filters combinations that make no sense on the wire.
// Dashboard pins surface only inside the product, so they never produce
// external medium tickets.
func modeSupportsMedium(mode models.ModeType, medium models.MediumType) bool {
	if mode == models.ModeDashboardPin {
		return false
	}
	return true
}
