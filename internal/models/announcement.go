package models

import "time"

// AnnouncementStatus captures the announcement lifecycle state machine.
type AnnouncementStatus string

const (
	AnnouncementStatusDraft           AnnouncementStatus = "DRAFT"
	AnnouncementStatusPendingApproval AnnouncementStatus = "PENDING_APPROVAL"
	AnnouncementStatusActive          AnnouncementStatus = "ACTIVE"
	AnnouncementStatusRejected        AnnouncementStatus = "REJECTED"
	AnnouncementStatusScheduled       AnnouncementStatus = "SCHEDULED"
	AnnouncementStatusInactive        AnnouncementStatus = "INACTIVE"
)

// allowed forward transitions; INACTIVE is reachable from any non-terminal state.
var announcementTransitions = map[AnnouncementStatus][]AnnouncementStatus{
	AnnouncementStatusDraft:           {AnnouncementStatusPendingApproval, AnnouncementStatusScheduled, AnnouncementStatusActive, AnnouncementStatusInactive},
	AnnouncementStatusPendingApproval: {AnnouncementStatusActive, AnnouncementStatusRejected, AnnouncementStatusInactive},
	AnnouncementStatusActive:          {AnnouncementStatusScheduled, AnnouncementStatusInactive},
	AnnouncementStatusScheduled:       {AnnouncementStatusActive, AnnouncementStatusInactive},
}

// CanTransition reports whether moving from the current status to the target is legal.
func (s AnnouncementStatus) CanTransition(to AnnouncementStatus) bool {
	for _, next := range announcementTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s AnnouncementStatus) IsTerminal() bool {
	return s == AnnouncementStatusRejected || s == AnnouncementStatusInactive
}

// Announcement represents a persisted announcement row. Content itself lives in
// the content store and is referenced by ContentID.
type Announcement struct {
	ID          string             `db:"id" json:"id"`
	Title       string             `db:"title" json:"title"`
	ContentID   string             `db:"content_id" json:"content_id"`
	InstituteID string             `db:"institute_id" json:"institute_id"`
	CreatedBy   string             `db:"created_by" json:"created_by"`
	CreatorRole string             `db:"creator_role" json:"creator_role"`
	Status      AnnouncementStatus `db:"status" json:"status"`
	Timezone    string             `db:"timezone" json:"timezone"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `db:"updated_at" json:"updated_at"`
}

// Pagination metadata returned alongside list payloads.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
