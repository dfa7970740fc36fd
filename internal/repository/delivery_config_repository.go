package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
)

// DeliveryConfigRepository reads the per-announcement mode and medium
// configuration rows.
type DeliveryConfigRepository struct {
	db *sqlx.DB
}

// NewDeliveryConfigRepository creates the repository.
func NewDeliveryConfigRepository(db *sqlx.DB) *DeliveryConfigRepository {
	return &DeliveryConfigRepository{db: db}
}

// ActiveModes returns the active mode rows for an announcement.
func (r *DeliveryConfigRepository) ActiveModes(ctx context.Context, announcementID string) ([]models.ModeConfig, error) {
	const query = `SELECT id, announcement_id, mode, settings, active, created_at
FROM announcement_mode_configs WHERE announcement_id = $1 AND active = TRUE ORDER BY mode`
	var modes []models.ModeConfig
	if err := r.db.SelectContext(ctx, &modes, query, announcementID); err != nil {
		return nil, fmt.Errorf("list active modes: %w", err)
	}
	return modes, nil
}

// ActiveMediums returns the active medium rows for an announcement.
func (r *DeliveryConfigRepository) ActiveMediums(ctx context.Context, announcementID string) ([]models.MediumConfig, error) {
	const query = `SELECT id, announcement_id, medium, config, active, created_at
FROM announcement_medium_configs WHERE announcement_id = $1 AND active = TRUE ORDER BY medium`
	var mediums []models.MediumConfig
	if err := r.db.SelectContext(ctx, &mediums, query, announcementID); err != nil {
		return nil, fmt.Errorf("list active mediums: %w", err)
	}
	return mediums, nil
}

// MediumConfig returns the active config row for one medium of an announcement,
// or nil when none exists.
func (r *DeliveryConfigRepository) MediumConfig(ctx context.Context, announcementID string, medium models.MediumType) (*models.MediumConfig, error) {
	const query = `SELECT id, announcement_id, medium, config, active, created_at
FROM announcement_medium_configs WHERE announcement_id = $1 AND medium = $2 AND active = TRUE`
	var configs []models.MediumConfig
	if err := r.db.SelectContext(ctx, &configs, query, announcementID, medium); err != nil {
		return nil, fmt.Errorf("get medium config: %w", err)
	}
	if len(configs) == 0 {
		return nil, nil
	}
	return &configs[0], nil
}
