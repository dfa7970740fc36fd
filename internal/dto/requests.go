package dto

import "time"

// ScheduleRequest configures when an announcement should be delivered.
type ScheduleRequest struct {
	Type           string     `json:"type" validate:"required,oneof=IMMEDIATE ONE_TIME RECURRING"`
	CronExpression string     `json:"cron_expression,omitempty"`
	Timezone       string     `json:"timezone,omitempty"`
	StartAt        *time.Time `json:"start_at,omitempty"`
	EndAt          *time.Time `json:"end_at,omitempty"`
}
