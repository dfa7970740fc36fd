package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vacademy-io/notify-delivery-api/internal/dto"
	"github.com/vacademy-io/notify-delivery-api/internal/models"
	appErrors "github.com/vacademy-io/notify-delivery-api/pkg/errors"
)

type recoveryTicketStore interface {
	ResetStuck(ctx context.Context, announcementID string, before time.Time, reason string) (int64, error)
	CountPending(ctx context.Context, announcementID string) (int, error)
	Stats(ctx context.Context, announcementID string) (*models.TicketStats, error)
	AnnouncementsNeedingRecovery(ctx context.Context, since, stuckBefore time.Time) ([]string, error)
}

type announcementDispatcher interface {
	DispatchAnnouncement(ctx context.Context, announcementID string) error
}

// RecoveryService repairs interrupted deliveries. Tickets stuck in SENT past
// the cutoff go back to PENDING and everything pending is redispatched. The
// same pass serves the manual restart endpoint and the startup sweep after a
// crash.
type RecoveryService struct {
	announcements announcementStore
	tickets       recoveryTicketStore
	dispatcher    announcementDispatcher
	stuckAfter    time.Duration
	startupWindow time.Duration
	logger        *zap.Logger
}

// NewRecoveryService constructs the recovery service.
func NewRecoveryService(announcements announcementStore, tickets recoveryTicketStore, dispatcher announcementDispatcher, stuckAfter, startupWindow time.Duration, logger *zap.Logger) *RecoveryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stuckAfter <= 0 {
		stuckAfter = 5 * time.Minute
	}
	if startupWindow <= 0 {
		startupWindow = 7 * 24 * time.Hour
	}
	return &RecoveryService{
		announcements: announcements,
		tickets:       tickets,
		dispatcher:    dispatcher,
		stuckAfter:    stuckAfter,
		startupWindow: startupWindow,
		logger:        logger,
	}
}

// Restart recovers one announcement: stuck SENT tickets are reset and every
// pending ticket is dispatched again. Returns what was repaired.
func (s *RecoveryService) Restart(ctx context.Context, announcementID string) (*dto.RecoveryReport, error) {
	ann, err := s.announcements.GetByID(ctx, announcementID)
	if err != nil {
		return nil, err
	}
	if ann.Status != models.AnnouncementStatusActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("announcement %s is %s, restart applies to active announcements", announcementID, ann.Status))
	}
	return s.recover(ctx, announcementID)
}

func (s *RecoveryService) recover(ctx context.Context, announcementID string) (*dto.RecoveryReport, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-s.stuckAfter)

	reset, err := s.tickets.ResetStuck(ctx, announcementID, cutoff, "reset by delivery recovery")
	if err != nil {
		return nil, err
	}

	pending, err := s.tickets.CountPending(ctx, announcementID)
	if err != nil {
		return nil, err
	}

	report := &dto.RecoveryReport{
		AnnouncementID: announcementID,
		ResetTickets:   reset,
		PendingTickets: pending,
		RecoveredAt:    now,
	}

	if pending > 0 {
		if err := s.dispatcher.DispatchAnnouncement(ctx, announcementID); err != nil {
			return nil, fmt.Errorf("redispatch announcement %s: %w", announcementID, err)
		}
		report.Redispatched = true
	}

	s.logger.Info("recovery pass complete",
		zap.String("announcement_id", announcementID),
		zap.Int64("reset_tickets", reset),
		zap.Int("pending_tickets", pending),
	)
	return report, nil
}

// Status reports the announcement's lifecycle state plus its ticket counters.
func (s *RecoveryService) Status(ctx context.Context, announcementID string) (*dto.StatusResponse, error) {
	ann, err := s.announcements.GetByID(ctx, announcementID)
	if err != nil {
		return nil, err
	}
	stats, err := s.tickets.Stats(ctx, announcementID)
	if err != nil {
		return nil, err
	}
	return &dto.StatusResponse{
		AnnouncementID: announcementID,
		Status:         ann.Status,
		Stats:          *stats,
	}, nil
}

// AutoRecoverOnStartup sweeps recent announcements left with unfinished
// tickets by a crash. Individual failures are counted, not fatal, so one bad
// announcement cannot block boot.
func (s *RecoveryService) AutoRecoverOnStartup(ctx context.Context) (*dto.StartupRecoveryReport, error) {
	now := time.Now().UTC()
	ids, err := s.tickets.AnnouncementsNeedingRecovery(ctx, now.Add(-s.startupWindow), now.Add(-s.stuckAfter))
	if err != nil {
		return nil, err
	}

	report := &dto.StartupRecoveryReport{Scanned: len(ids)}
	for _, id := range ids {
		recovered, err := s.recover(ctx, id)
		if err != nil {
			report.Failures++
			s.logger.Error("startup recovery failed for announcement",
				zap.String("announcement_id", id),
				zap.Error(err),
			)
			continue
		}
		report.Recovered = append(report.Recovered, *recovered)
	}

	s.logger.Info("startup recovery sweep complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("recovered", len(report.Recovered)),
		zap.Int("failures", report.Failures),
	)
	return report, nil
}
