package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vacademy-io/notify-delivery-api/internal/dto"
	"github.com/vacademy-io/notify-delivery-api/internal/models"
	appErrors "github.com/vacademy-io/notify-delivery-api/pkg/errors"
)

type scheduleStoreStub struct {
	specs map[string]*models.ScheduleSpec
	runs  []string
}

func newScheduleStoreStub() *scheduleStoreStub {
	return &scheduleStoreStub{specs: map[string]*models.ScheduleSpec{}}
}

func (s *scheduleStoreStub) Upsert(ctx context.Context, spec *models.ScheduleSpec) error {
	if spec.ID == "" {
		spec.ID = "sched-" + spec.AnnouncementID
	}
	s.specs[spec.AnnouncementID] = spec
	return nil
}

func (s *scheduleStoreStub) GetByAnnouncement(ctx context.Context, announcementID string) (*models.ScheduleSpec, error) {
	spec, ok := s.specs[announcementID]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	return spec, nil
}

func (s *scheduleStoreStub) ListDue(ctx context.Context, at time.Time, limit int) ([]models.ScheduleSpec, error) {
	var due []models.ScheduleSpec
	for _, spec := range s.specs {
		if spec.Active && spec.NextRunAt != nil && !spec.NextRunAt.After(at) {
			due = append(due, *spec)
		}
	}
	return due, nil
}

func (s *scheduleStoreStub) MarkRun(ctx context.Context, id string, ranAt time.Time, nextRun *time.Time) error {
	for _, spec := range s.specs {
		if spec.ID == id {
			copied := ranAt
			spec.LastRunAt = &copied
			spec.NextRunAt = nextRun
			spec.Active = nextRun != nil
			s.runs = append(s.runs, id)
			return nil
		}
	}
	return appErrors.ErrNotFound
}

func (s *scheduleStoreStub) Deactivate(ctx context.Context, announcementID string) (int64, error) {
	spec, ok := s.specs[announcementID]
	if !ok || !spec.Active {
		return 0, nil
	}
	spec.Active = false
	spec.NextRunAt = nil
	return 1, nil
}

type runnerStub struct {
	delivered []string
	failFor   map[string]error
}

func (s *runnerStub) ProcessDelivery(ctx context.Context, announcementID string) (*DeliveryResult, error) {
	if s.failFor != nil {
		if err := s.failFor[announcementID]; err != nil {
			return nil, err
		}
	}
	s.delivered = append(s.delivered, announcementID)
	return &DeliveryResult{AnnouncementID: announcementID, Status: models.AnnouncementStatusActive}, nil
}

type lockStub struct {
	denied   bool
	acquired int
	released int
}

func (s *lockStub) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if s.denied {
		return false, nil
	}
	s.acquired++
	return true, nil
}

func (s *lockStub) ReleaseLock(ctx context.Context, name string) {
	s.released++
}

func newTestScheduler(schedules *scheduleStoreStub, ann *annStoreStub, runner *runnerStub, locks *lockStub) *SchedulerService {
	return NewSchedulerService(schedules, ann, runner, locks, nil, time.Minute, 50*time.Second, nil)
}

func TestScheduleImmediateDeliversRightAway(t *testing.T) {
	schedules := newScheduleStoreStub()
	runner := &runnerStub{}
	ann := &annStoreStub{ann: &models.Announcement{ID: "ann-1", Status: models.AnnouncementStatusDraft}}

	svc := newTestScheduler(schedules, ann, runner, &lockStub{})
	outcome, err := svc.Schedule(context.Background(), "ann-1", dto.ScheduleRequest{Type: "IMMEDIATE"})
	require.NoError(t, err)

	require.NotNil(t, outcome.Delivery)
	assert.Nil(t, outcome.Spec)
	assert.Equal(t, []string{"ann-1"}, runner.delivered)
	assert.Empty(t, schedules.specs)
}

func TestScheduleRejectsUnknownType(t *testing.T) {
	schedules := newScheduleStoreStub()
	ann := &annStoreStub{ann: &models.Announcement{ID: "ann-1", Status: models.AnnouncementStatusDraft}}
	svc := newTestScheduler(schedules, ann, &runnerStub{}, &lockStub{})

	_, err := svc.Schedule(context.Background(), "ann-1", dto.ScheduleRequest{Type: "WEEKLY"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestScheduleOneTimeRequiresFutureStart(t *testing.T) {
	schedules := newScheduleStoreStub()
	ann := &annStoreStub{ann: &models.Announcement{ID: "ann-1", Status: models.AnnouncementStatusDraft}}
	svc := newTestScheduler(schedules, ann, &runnerStub{}, &lockStub{})

	past := time.Now().Add(-time.Hour)
	_, err := svc.Schedule(context.Background(), "ann-1", dto.ScheduleRequest{Type: "ONE_TIME", StartAt: &past})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestOneTimeScheduleFiresOnceAndDeactivates(t *testing.T) {
	schedules := newScheduleStoreStub()
	runner := &runnerStub{}
	ann := &annStoreStub{ann: &models.Announcement{ID: "ann-1", Status: models.AnnouncementStatusDraft}}
	svc := newTestScheduler(schedules, ann, runner, &lockStub{})

	start := time.Now().Add(time.Minute)
	outcome, err := svc.Schedule(context.Background(), "ann-1", dto.ScheduleRequest{Type: "ONE_TIME", StartAt: &start})
	require.NoError(t, err)
	require.NotNil(t, outcome.Spec)
	assert.Equal(t, models.AnnouncementStatusScheduled, ann.ann.Status)

	// simulate the clock passing the start time
	due := time.Now().Add(-time.Second)
	schedules.specs["ann-1"].NextRunAt = &due

	require.NoError(t, svc.Tick(context.Background()))
	assert.Equal(t, []string{"ann-1"}, runner.delivered)
	assert.False(t, schedules.specs["ann-1"].Active)
	assert.Nil(t, schedules.specs["ann-1"].NextRunAt)

	// second tick must not fire again
	require.NoError(t, svc.Tick(context.Background()))
	assert.Equal(t, []string{"ann-1"}, runner.delivered)
}

func TestRecurringScheduleComputesNextOccurrence(t *testing.T) {
	schedules := newScheduleStoreStub()
	runner := &runnerStub{}
	ann := &annStoreStub{ann: &models.Announcement{ID: "ann-1", Status: models.AnnouncementStatusDraft, Timezone: "UTC"}}
	svc := newTestScheduler(schedules, ann, runner, &lockStub{})

	outcome, err := svc.Schedule(context.Background(), "ann-1", dto.ScheduleRequest{Type: "RECURRING", CronExpression: "0 9 * * *"})
	require.NoError(t, err)
	require.NotNil(t, outcome.Spec)
	require.NotNil(t, outcome.Spec.NextRunAt)
	assert.Equal(t, 9, outcome.Spec.NextRunAt.UTC().Hour())

	due := time.Now().Add(-time.Second)
	schedules.specs["ann-1"].NextRunAt = &due

	require.NoError(t, svc.Tick(context.Background()))
	assert.Equal(t, []string{"ann-1"}, runner.delivered)
	spec := schedules.specs["ann-1"]
	assert.True(t, spec.Active)
	require.NotNil(t, spec.NextRunAt)
	assert.True(t, spec.NextRunAt.After(time.Now()))
}

func TestRecurringScheduleHonorsEndBound(t *testing.T) {
	schedules := newScheduleStoreStub()
	ann := &annStoreStub{ann: &models.Announcement{ID: "ann-1", Status: models.AnnouncementStatusDraft}}
	svc := newTestScheduler(schedules, ann, &runnerStub{}, &lockStub{})

	end := time.Now().Add(time.Minute)
	_, err := svc.Schedule(context.Background(), "ann-1", dto.ScheduleRequest{
		Type:           "RECURRING",
		CronExpression: "0 9 1 1 *",
		EndAt:          &end,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTickSkipsWhenLockHeldElsewhere(t *testing.T) {
	schedules := newScheduleStoreStub()
	runner := &runnerStub{}
	due := time.Now().Add(-time.Second)
	schedules.specs["ann-1"] = &models.ScheduleSpec{ID: "s1", AnnouncementID: "ann-1", Type: models.ScheduleTypeOneTime, Active: true, NextRunAt: &due}

	svc := newTestScheduler(schedules, &annStoreStub{ann: &models.Announcement{ID: "ann-1"}}, runner, &lockStub{denied: true})
	require.NoError(t, svc.Tick(context.Background()))
	assert.Empty(t, runner.delivered)
}

func TestTickRetriesFailedDelivery(t *testing.T) {
	schedules := newScheduleStoreStub()
	due := time.Now().Add(-time.Second)
	schedules.specs["ann-1"] = &models.ScheduleSpec{ID: "s1", AnnouncementID: "ann-1", Type: models.ScheduleTypeOneTime, Active: true, NextRunAt: &due}
	runner := &runnerStub{failFor: map[string]error{"ann-1": errors.New("db down")}}

	svc := newTestScheduler(schedules, &annStoreStub{ann: &models.Announcement{ID: "ann-1"}}, runner, &lockStub{})
	require.NoError(t, svc.Tick(context.Background()))

	// schedule is untouched, so the next tick retries
	assert.True(t, schedules.specs["ann-1"].Active)
	require.NotNil(t, schedules.specs["ann-1"].NextRunAt)

	runner.failFor = nil
	require.NoError(t, svc.Tick(context.Background()))
	assert.Equal(t, []string{"ann-1"}, runner.delivered)
	assert.False(t, schedules.specs["ann-1"].Active)
}

func TestCancelIsIdempotent(t *testing.T) {
	schedules := newScheduleStoreStub()
	due := time.Now().Add(time.Hour)
	schedules.specs["ann-1"] = &models.ScheduleSpec{ID: "s1", AnnouncementID: "ann-1", Type: models.ScheduleTypeOneTime, Active: true, NextRunAt: &due}

	svc := newTestScheduler(schedules, &annStoreStub{ann: &models.Announcement{ID: "ann-1"}}, &runnerStub{}, &lockStub{})
	require.NoError(t, svc.Cancel(context.Background(), "ann-1"))
	assert.False(t, schedules.specs["ann-1"].Active)
	require.NoError(t, svc.Cancel(context.Background(), "ann-1"))
	require.NoError(t, svc.Cancel(context.Background(), "missing"))
}
