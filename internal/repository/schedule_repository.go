package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
	appErrors "github.com/vacademy-io/notify-delivery-api/pkg/errors"
)

// ScheduleRepository persists delivery schedules.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates the repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const scheduleColumns = `id, announcement_id, type, cron_expression, timezone, start_at, end_at, next_run_at, last_run_at, active, created_at, updated_at`

// Upsert writes the schedule for an announcement. An announcement carries at
// most one schedule; re-scheduling replaces the previous definition.
func (r *ScheduleRepository) Upsert(ctx context.Context, spec *models.ScheduleSpec) error {
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = now
	}
	spec.UpdatedAt = now
	const query = `INSERT INTO delivery_schedules (id, announcement_id, type, cron_expression, timezone, start_at, end_at, next_run_at, last_run_at, active, created_at, updated_at)
VALUES (:id, :announcement_id, :type, :cron_expression, :timezone, :start_at, :end_at, :next_run_at, :last_run_at, :active, :created_at, :updated_at)
ON CONFLICT (announcement_id) DO UPDATE SET
type = EXCLUDED.type,
cron_expression = EXCLUDED.cron_expression,
timezone = EXCLUDED.timezone,
start_at = EXCLUDED.start_at,
end_at = EXCLUDED.end_at,
next_run_at = EXCLUDED.next_run_at,
last_run_at = EXCLUDED.last_run_at,
active = EXCLUDED.active,
updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, spec); err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

// GetByAnnouncement returns the schedule attached to an announcement.
func (r *ScheduleRepository) GetByAnnouncement(ctx context.Context, announcementID string) (*models.ScheduleSpec, error) {
	query := fmt.Sprintf(`SELECT %s FROM delivery_schedules WHERE announcement_id = $1`, scheduleColumns)
	var spec models.ScheduleSpec
	if err := r.db.GetContext(ctx, &spec, query, announcementID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return &spec, nil
}

// ListDue returns active schedules whose next run is at or before the moment.
func (r *ScheduleRepository) ListDue(ctx context.Context, at time.Time, limit int) ([]models.ScheduleSpec, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM delivery_schedules
WHERE active = TRUE AND next_run_at IS NOT NULL AND next_run_at <= $1
ORDER BY next_run_at ASC LIMIT $2`, scheduleColumns)
	var specs []models.ScheduleSpec
	if err := r.db.SelectContext(ctx, &specs, query, at, limit); err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	return specs, nil
}

// MarkRun records a completed run and the next occurrence. A nil nextRun
// deactivates the schedule.
func (r *ScheduleRepository) MarkRun(ctx context.Context, id string, ranAt time.Time, nextRun *time.Time) error {
	const query = `UPDATE delivery_schedules
SET last_run_at = $1, next_run_at = $2, active = $3, updated_at = $4
WHERE id = $5`
	active := nextRun != nil
	if _, err := r.db.ExecContext(ctx, query, ranAt, nextRun, active, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark schedule run: %w", err)
	}
	return nil
}

// Deactivate cancels the schedule for an announcement. Returns how many rows
// changed so callers can distinguish a no-op cancel.
func (r *ScheduleRepository) Deactivate(ctx context.Context, announcementID string) (int64, error) {
	const query = `UPDATE delivery_schedules SET active = FALSE, next_run_at = NULL, updated_at = $1
WHERE announcement_id = $2 AND active = TRUE`
	res, err := r.db.ExecContext(ctx, query, time.Now().UTC(), announcementID)
	if err != nil {
		return 0, fmt.Errorf("deactivate schedule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate schedule: %w", err)
	}
	return affected, nil
}
