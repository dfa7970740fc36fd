package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
	appErrors "github.com/vacademy-io/notify-delivery-api/pkg/errors"
)

// AnnouncementRepository provides persistence for announcements.
type AnnouncementRepository struct {
	db *sqlx.DB
}

// NewAnnouncementRepository creates the repository.
func NewAnnouncementRepository(db *sqlx.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

const announcementColumns = `id, title, content_id, institute_id, created_by, creator_role, status, timezone, created_at, updated_at`

// GetByID returns one announcement row.
func (r *AnnouncementRepository) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	query := fmt.Sprintf(`SELECT %s FROM announcements WHERE id = $1`, announcementColumns)
	var ann models.Announcement
	if err := r.db.GetContext(ctx, &ann, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("get announcement: %w", err)
	}
	return &ann, nil
}

// GetByIDTx reads an announcement inside a transaction with a row lock, so two
// concurrent delivery requests serialize on the status gate.
func (r *AnnouncementRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Announcement, error) {
	query := fmt.Sprintf(`SELECT %s FROM announcements WHERE id = $1 FOR UPDATE`, announcementColumns)
	var ann models.Announcement
	if err := tx.GetContext(ctx, &ann, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("get announcement for update: %w", err)
	}
	return &ann, nil
}

// UpdateStatus moves an announcement to a new lifecycle status.
func (r *AnnouncementRepository) UpdateStatus(ctx context.Context, id string, status models.AnnouncementStatus) error {
	const query = `UPDATE announcements SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update announcement status: %w", err)
	}
	return nil
}

// UpdateStatusTx is UpdateStatus inside an open transaction.
func (r *AnnouncementRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.AnnouncementStatus) error {
	const query = `UPDATE announcements SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, query, status, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update announcement status: %w", err)
	}
	return nil
}
