package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vacademy-io/notify-delivery-api/internal/dto"
	"github.com/vacademy-io/notify-delivery-api/internal/models"
	appErrors "github.com/vacademy-io/notify-delivery-api/pkg/errors"
)

const schedulerLockName = "scheduler:tick"

type scheduleStore interface {
	Upsert(ctx context.Context, spec *models.ScheduleSpec) error
	GetByAnnouncement(ctx context.Context, announcementID string) (*models.ScheduleSpec, error)
	ListDue(ctx context.Context, at time.Time, limit int) ([]models.ScheduleSpec, error)
	MarkRun(ctx context.Context, id string, ranAt time.Time, nextRun *time.Time) error
	Deactivate(ctx context.Context, announcementID string) (int64, error)
}

type deliveryRunner interface {
	ProcessDelivery(ctx context.Context, announcementID string) (*DeliveryResult, error)
}

type tickLocker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string)
}

// ScheduleOutcome is what a schedule request produced: a persisted schedule,
// or the delivery result when the request was immediate.
type ScheduleOutcome struct {
	Spec     *models.ScheduleSpec `json:"spec,omitempty"`
	Delivery *DeliveryResult      `json:"delivery,omitempty"`
}

// SchedulerService owns deferred and recurring delivery. Immediate requests
// bypass persistence and run the orchestrator directly; everything else is a
// schedule row fired by the periodic tick. The tick takes a distributed lock
// so multi-instance deployments fire each occurrence once.
type SchedulerService struct {
	schedules     scheduleStore
	announcements announcementStore
	runner        deliveryRunner
	locks         tickLocker
	validate      *validator.Validate
	tickInterval  time.Duration
	lockTTL       time.Duration
	logger        *zap.Logger
}

// NewSchedulerService constructs the scheduler.
func NewSchedulerService(schedules scheduleStore, announcements announcementStore, runner deliveryRunner, locks tickLocker, validate *validator.Validate, tickInterval, lockTTL time.Duration, logger *zap.Logger) *SchedulerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if tickInterval <= 0 {
		tickInterval = time.Minute
	}
	if lockTTL <= 0 {
		lockTTL = tickInterval - tickInterval/10
	}
	return &SchedulerService{
		schedules:     schedules,
		announcements: announcements,
		runner:        runner,
		locks:         locks,
		validate:      validate,
		tickInterval:  tickInterval,
		lockTTL:       lockTTL,
		logger:        logger,
	}
}

// Schedule applies a schedule request to an announcement. Re-scheduling
// replaces any previous schedule.
func (s *SchedulerService) Schedule(ctx context.Context, announcementID string, req dto.ScheduleRequest) (*ScheduleOutcome, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule request")
	}

	ann, err := s.announcements.GetByID(ctx, announcementID)
	if err != nil {
		return nil, err
	}
	if ann.Status.IsTerminal() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("announcement %s is %s and cannot be scheduled", announcementID, ann.Status))
	}

	now := time.Now().UTC()

	switch models.ScheduleType(req.Type) {
	case models.ScheduleTypeImmediate:
		result, err := s.runner.ProcessDelivery(ctx, announcementID)
		if err != nil {
			return nil, err
		}
		return &ScheduleOutcome{Delivery: result}, nil

	case models.ScheduleTypeOneTime:
		if req.StartAt == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "one-time schedule requires start_at")
		}
		if !req.StartAt.After(now) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "start_at must be in the future")
		}
		spec := &models.ScheduleSpec{
			AnnouncementID: announcementID,
			Type:           models.ScheduleTypeOneTime,
			Timezone:       s.timezoneFor(req, ann),
			StartAt:        req.StartAt,
			NextRunAt:      req.StartAt,
			Active:         true,
		}
		return s.persist(ctx, ann, spec)

	case models.ScheduleTypeRecurring:
		if req.CronExpression == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "recurring schedule requires cron_expression")
		}
		tz := s.timezoneFor(req, ann)
		from := now
		if req.StartAt != nil && req.StartAt.After(now) {
			from = *req.StartAt
		}
		next, err := nextCronRun(req.CronExpression, tz, from)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid cron expression: %v", err))
		}
		if req.EndAt != nil && next.After(*req.EndAt) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "schedule window ends before the first occurrence")
		}
		expr := req.CronExpression
		spec := &models.ScheduleSpec{
			AnnouncementID: announcementID,
			Type:           models.ScheduleTypeRecurring,
			CronExpression: &expr,
			Timezone:       tz,
			StartAt:        req.StartAt,
			EndAt:          req.EndAt,
			NextRunAt:      &next,
			Active:         true,
		}
		return s.persist(ctx, ann, spec)
	}

	return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown schedule type %q", req.Type))
}

func (s *SchedulerService) persist(ctx context.Context, ann *models.Announcement, spec *models.ScheduleSpec) (*ScheduleOutcome, error) {
	if err := s.schedules.Upsert(ctx, spec); err != nil {
		return nil, err
	}
	if ann.Status.CanTransition(models.AnnouncementStatusScheduled) {
		if err := s.announcements.UpdateStatus(ctx, ann.ID, models.AnnouncementStatusScheduled); err != nil {
			return nil, err
		}
	}
	s.logger.Info("schedule stored",
		zap.String("announcement_id", ann.ID),
		zap.String("type", string(spec.Type)),
		zap.Timep("next_run_at", spec.NextRunAt),
	)
	return &ScheduleOutcome{Spec: spec}, nil
}

// Get returns the schedule attached to an announcement.
func (s *SchedulerService) Get(ctx context.Context, announcementID string) (*models.ScheduleSpec, error) {
	return s.schedules.GetByAnnouncement(ctx, announcementID)
}

// Cancel deactivates the schedule for an announcement. Cancelling an
// announcement without an active schedule is a no-op.
func (s *SchedulerService) Cancel(ctx context.Context, announcementID string) error {
	affected, err := s.schedules.Deactivate(ctx, announcementID)
	if err != nil {
		return err
	}
	if affected == 0 {
		s.logger.Debug("cancel with no active schedule", zap.String("announcement_id", announcementID))
	}
	return nil
}

// Run fires due schedules until the context ends.
func (s *SchedulerService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// Tick fires every due schedule once. A schedule whose delivery fails keeps
// its next_run_at, so it is retried on the next tick; for recurring schedules
// overdue occurrences collapse into a single delivery.
func (s *SchedulerService) Tick(ctx context.Context) error {
	if s.locks != nil {
		ok, err := s.locks.AcquireLock(ctx, schedulerLockName, s.lockTTL)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		defer s.locks.ReleaseLock(ctx, schedulerLockName)
	}

	now := time.Now().UTC()
	due, err := s.schedules.ListDue(ctx, now, 0)
	if err != nil {
		return err
	}

	for _, spec := range due {
		if _, err := s.runner.ProcessDelivery(ctx, spec.AnnouncementID); err != nil {
			s.logger.Error("scheduled delivery failed, will retry next tick",
				zap.String("announcement_id", spec.AnnouncementID),
				zap.String("schedule_id", spec.ID),
				zap.Error(err),
			)
			continue
		}

		next := s.nextOccurrence(spec, now)
		if err := s.schedules.MarkRun(ctx, spec.ID, now, next); err != nil {
			s.logger.Error("mark schedule run failed",
				zap.String("schedule_id", spec.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// nextOccurrence computes the follow-up run, or nil when the schedule is done.
func (s *SchedulerService) nextOccurrence(spec models.ScheduleSpec, from time.Time) *time.Time {
	if spec.Type != models.ScheduleTypeRecurring || spec.CronExpression == nil {
		return nil
	}
	next, err := nextCronRun(*spec.CronExpression, spec.Timezone, from)
	if err != nil {
		s.logger.Error("stored cron expression no longer parses, deactivating",
			zap.String("schedule_id", spec.ID),
			zap.Error(err),
		)
		return nil
	}
	if spec.EndAt != nil && next.After(*spec.EndAt) {
		return nil
	}
	return &next
}

func (s *SchedulerService) timezoneFor(req dto.ScheduleRequest, ann *models.Announcement) string {
	if req.Timezone != "" {
		return req.Timezone
	}
	if ann.Timezone != "" {
		return ann.Timezone
	}
	return "UTC"
}

// nextCronRun evaluates a standard five-field cron expression in the given
// timezone and returns the first occurrence after from, in UTC.
func nextCronRun(expr, timezone string, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %s: %w", timezone, err)
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := schedule.Next(from.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron expression %q has no future occurrence", expr)
	}
	return next.UTC(), nil
}
