package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
)

// TicketRepository persists delivery tickets and their interactions.
type TicketRepository struct {
	db *sqlx.DB
}

// NewTicketRepository creates the repository.
func NewTicketRepository(db *sqlx.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

const ticketColumns = `id, announcement_id, user_id, mode, medium, status, sent_at, delivered_at, error_message, created_at, updated_at`

// ExistingKeysTx loads the identity tuples of every ticket already created for
// an announcement, so re-delivery can skip them without per-row lookups.
func (r *TicketRepository) ExistingKeysTx(ctx context.Context, tx *sqlx.Tx, announcementID string) (map[models.TicketKey]struct{}, error) {
	const query = `SELECT id, announcement_id, user_id, mode, medium, status, sent_at, delivered_at, error_message, created_at, updated_at
FROM delivery_tickets WHERE announcement_id = $1`
	var tickets []models.DeliveryTicket
	if err := tx.SelectContext(ctx, &tickets, query, announcementID); err != nil {
		return nil, fmt.Errorf("load existing ticket keys: %w", err)
	}
	keys := make(map[models.TicketKey]struct{}, len(tickets))
	for _, t := range tickets {
		keys[t.Key()] = struct{}{}
	}
	return keys, nil
}

// InsertPendingTx creates a PENDING ticket inside the orchestration
// transaction. The unique index on the identity tuple makes concurrent inserts
// collapse to a single row.
func (r *TicketRepository) InsertPendingTx(ctx context.Context, tx *sqlx.Tx, key models.TicketKey) error {
	const query = `INSERT INTO delivery_tickets (id, announcement_id, user_id, mode, medium, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (announcement_id, user_id, mode, medium) DO NOTHING`
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, query, uuid.NewString(), key.AnnouncementID, key.UserID, key.Mode, key.Medium, models.TicketStatusPending, now); err != nil {
		return fmt.Errorf("insert pending ticket: %w", err)
	}
	return nil
}

// ListPending returns PENDING tickets for one announcement and medium,
// oldest first.
func (r *TicketRepository) ListPending(ctx context.Context, announcementID string, medium models.MediumType, limit int) ([]models.DeliveryTicket, error) {
	if limit <= 0 {
		limit = 200
	}
	query := fmt.Sprintf(`SELECT %s FROM delivery_tickets
WHERE announcement_id = $1 AND medium = $2 AND status = 'PENDING'
ORDER BY created_at ASC LIMIT $3`, ticketColumns)
	var tickets []models.DeliveryTicket
	if err := r.db.SelectContext(ctx, &tickets, query, announcementID, medium, limit); err != nil {
		return nil, fmt.Errorf("list pending tickets: %w", err)
	}
	return tickets, nil
}

// MarkSent advances a PENDING ticket to SENT. Returns false when the ticket was
// not in PENDING, which means another worker claimed it.
func (r *TicketRepository) MarkSent(ctx context.Context, ticketID string) (bool, error) {
	const query = `UPDATE delivery_tickets SET status = 'SENT', sent_at = $1, updated_at = $1
WHERE id = $2 AND status = 'PENDING'`
	res, err := r.db.ExecContext(ctx, query, time.Now().UTC(), ticketID)
	if err != nil {
		return false, fmt.Errorf("mark ticket sent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark ticket sent: %w", err)
	}
	return affected == 1, nil
}

// MarkDelivered advances a SENT ticket to DELIVERED.
func (r *TicketRepository) MarkDelivered(ctx context.Context, ticketID string) error {
	const query = `UPDATE delivery_tickets SET status = 'DELIVERED', delivered_at = $1, error_message = NULL, updated_at = $1
WHERE id = $2 AND status = 'SENT'`
	if _, err := r.db.ExecContext(ctx, query, time.Now().UTC(), ticketID); err != nil {
		return fmt.Errorf("mark ticket delivered: %w", err)
	}
	return nil
}

// MarkFailed advances a SENT ticket to FAILED, recording the transport error.
func (r *TicketRepository) MarkFailed(ctx context.Context, ticketID string, errMsg string) error {
	const query = `UPDATE delivery_tickets SET status = 'FAILED', error_message = $1, updated_at = $2
WHERE id = $3 AND status = 'SENT'`
	if _, err := r.db.ExecContext(ctx, query, errMsg, time.Now().UTC(), ticketID); err != nil {
		return fmt.Errorf("mark ticket failed: %w", err)
	}
	return nil
}

// ResetStuck moves SENT tickets whose send started before the cutoff back to
// PENDING and returns how many were reset.
func (r *TicketRepository) ResetStuck(ctx context.Context, announcementID string, before time.Time, reason string) (int64, error) {
	const query = `UPDATE delivery_tickets
SET status = 'PENDING', sent_at = NULL, error_message = $1, updated_at = $2
WHERE announcement_id = $3 AND status = 'SENT' AND sent_at < $4`
	res, err := r.db.ExecContext(ctx, query, reason, time.Now().UTC(), announcementID, before)
	if err != nil {
		return 0, fmt.Errorf("reset stuck tickets: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset stuck tickets: %w", err)
	}
	return affected, nil
}

// CountPending counts tickets still awaiting dispatch for an announcement.
func (r *TicketRepository) CountPending(ctx context.Context, announcementID string) (int, error) {
	const query = `SELECT COUNT(*) FROM delivery_tickets WHERE announcement_id = $1 AND status = 'PENDING'`
	var count int
	if err := r.db.GetContext(ctx, &count, query, announcementID); err != nil {
		return 0, fmt.Errorf("count pending tickets: %w", err)
	}
	return count, nil
}

// PendingMediums lists the distinct mediums that still have PENDING tickets
// for an announcement.
func (r *TicketRepository) PendingMediums(ctx context.Context, announcementID string) ([]models.MediumType, error) {
	const query = `SELECT DISTINCT medium FROM delivery_tickets WHERE announcement_id = $1 AND status = 'PENDING' ORDER BY medium`
	var mediums []models.MediumType
	if err := r.db.SelectContext(ctx, &mediums, query, announcementID); err != nil {
		return nil, fmt.Errorf("list pending mediums: %w", err)
	}
	return mediums, nil
}

// Stats aggregates ticket counts per medium plus the READ interaction count.
func (r *TicketRepository) Stats(ctx context.Context, announcementID string) (*models.TicketStats, error) {
	const query = `SELECT medium,
COUNT(*) FILTER (WHERE status = 'PENDING') AS pending,
COUNT(*) FILTER (WHERE status = 'SENT') AS sent,
COUNT(*) FILTER (WHERE status = 'DELIVERED') AS delivered,
COUNT(*) FILTER (WHERE status = 'FAILED') AS failed
FROM delivery_tickets WHERE announcement_id = $1 GROUP BY medium ORDER BY medium`
	var perMedium []models.MediumStats
	if err := r.db.SelectContext(ctx, &perMedium, query, announcementID); err != nil {
		return nil, fmt.Errorf("ticket stats: %w", err)
	}

	stats := &models.TicketStats{PerMedium: perMedium}
	for _, m := range perMedium {
		stats.Pending += m.Pending
		stats.Sent += m.Sent
		stats.Delivered += m.Delivered
		stats.Failed += m.Failed
	}

	const readQuery = `SELECT COUNT(DISTINCT user_id) FROM ticket_interactions
WHERE announcement_id = $1 AND interaction = 'READ'`
	if err := r.db.GetContext(ctx, &stats.Read, readQuery, announcementID); err != nil {
		return nil, fmt.Errorf("ticket read count: %w", err)
	}
	return stats, nil
}

// AnnouncementsNeedingRecovery returns the IDs of ACTIVE announcements with
// recent ticket activity that still carry PENDING tickets or SENT tickets
// older than the stuck cutoff. The window is applied to the tickets, not the
// announcement, so a long-lived recurring announcement whose latest occurrence
// crashed is still swept.
func (r *TicketRepository) AnnouncementsNeedingRecovery(ctx context.Context, since, stuckBefore time.Time) ([]string, error) {
	const query = `SELECT DISTINCT t.announcement_id FROM delivery_tickets t
JOIN announcements a ON a.id = t.announcement_id
WHERE a.status = 'ACTIVE' AND (t.created_at >= $1 OR t.sent_at >= $1)
AND (t.status = 'PENDING' OR (t.status = 'SENT' AND t.sent_at < $2))
ORDER BY t.announcement_id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, since, stuckBefore); err != nil {
		return nil, fmt.Errorf("list announcements needing recovery: %w", err)
	}
	return ids, nil
}

// HasTicket reports whether any ticket exists for the user on the announcement.
// The fan-out hub uses this as its recipient check when the cache is cold.
func (r *TicketRepository) HasTicket(ctx context.Context, announcementID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM delivery_tickets WHERE announcement_id = $1 AND user_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, announcementID, userID); err != nil {
		return false, fmt.Errorf("check ticket exists: %w", err)
	}
	return exists, nil
}

// MarkRead records a READ interaction for the user. Reads are tracked in a
// separate table so the ticket rows keep their delivery-only lifecycle.
func (r *TicketRepository) MarkRead(ctx context.Context, announcementID, userID string) error {
	const query = `INSERT INTO ticket_interactions (id, announcement_id, user_id, interaction, created_at)
VALUES ($1, $2, $3, 'READ', $4)
ON CONFLICT (announcement_id, user_id, interaction) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), announcementID, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark announcement read: %w", err)
	}
	return nil
}
