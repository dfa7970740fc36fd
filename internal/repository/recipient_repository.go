package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
)

// RecipientRepository reads the targeting rules attached to announcements.
type RecipientRepository struct {
	db *sqlx.DB
}

// NewRecipientRepository creates the repository.
func NewRecipientRepository(db *sqlx.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// ListByAnnouncement returns every recipient spec attached to an announcement,
// inclusions and exclusions alike, in insertion order.
func (r *RecipientRepository) ListByAnnouncement(ctx context.Context, announcementID string) ([]models.RecipientSpec, error) {
	const query = `SELECT id, announcement_id, kind, params, is_exclusion, exclusions, created_at
FROM announcement_recipients WHERE announcement_id = $1 ORDER BY created_at ASC`
	var specs []models.RecipientSpec
	if err := r.db.SelectContext(ctx, &specs, query, announcementID); err != nil {
		return nil, fmt.Errorf("list recipient specs: %w", err)
	}
	return specs, nil
}
