package models

import "time"

// ScheduleType enumerates delivery scheduling strategies.
type ScheduleType string

const (
	ScheduleTypeImmediate ScheduleType = "IMMEDIATE"
	ScheduleTypeOneTime   ScheduleType = "ONE_TIME"
	ScheduleTypeRecurring ScheduleType = "RECURRING"
)

// ScheduleSpec is a persisted future or recurring delivery. IMMEDIATE
// deliveries are never persisted; they call straight into the orchestrator.
type ScheduleSpec struct {
	ID             string       `db:"id" json:"id"`
	AnnouncementID string       `db:"announcement_id" json:"announcement_id"`
	Type           ScheduleType `db:"type" json:"type"`
	CronExpression *string      `db:"cron_expression" json:"cron_expression,omitempty"`
	Timezone       string       `db:"timezone" json:"timezone"`
	StartAt        *time.Time   `db:"start_at" json:"start_at,omitempty"`
	EndAt          *time.Time   `db:"end_at" json:"end_at,omitempty"`
	NextRunAt      *time.Time   `db:"next_run_at" json:"next_run_at,omitempty"`
	LastRunAt      *time.Time   `db:"last_run_at" json:"last_run_at,omitempty"`
	Active         bool         `db:"active" json:"active"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
}
