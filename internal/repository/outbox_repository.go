package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
)

// OutboxRepository persists dispatch-pending markers. Rows are written inside
// the orchestration transaction and drained by the relay after commit.
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository creates the repository.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertTx writes one dispatch marker inside an open transaction.
func (r *OutboxRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, announcementID string, medium models.MediumType) error {
	const query = `INSERT INTO dispatch_outbox (announcement_id, medium, status, created_at)
VALUES ($1, $2, 'PENDING', $3)`
	if _, err := tx.ExecContext(ctx, query, announcementID, medium, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert outbox row: %w", err)
	}
	return nil
}

// ListPending returns unpublished markers, oldest first.
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]models.DispatchOutbox, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, announcement_id, medium, status, created_at, published_at
FROM dispatch_outbox WHERE status = 'PENDING' ORDER BY created_at ASC LIMIT $1`
	var rows []models.DispatchOutbox
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("list pending outbox rows: %w", err)
	}
	return rows, nil
}

// MarkPublished stamps a marker as handed to the dispatch queue.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id int64) error {
	const query = `UPDATE dispatch_outbox SET status = 'PUBLISHED', published_at = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark outbox row published: %w", err)
	}
	return nil
}
