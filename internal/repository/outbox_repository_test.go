package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
)

func TestOutboxRepositoryInsertTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewOutboxRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dispatch_outbox")).
		WithArgs("ann-1", models.MediumPush, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)
	require.NoError(t, repo.InsertTx(context.Background(), tx, "ann-1", models.MediumPush))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepositoryListAndPublish(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewOutboxRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "announcement_id", "medium", "status", "created_at", "published_at"}).
		AddRow(int64(7), "ann-1", "EMAIL", "PENDING", now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM dispatch_outbox")).
		WithArgs(50).
		WillReturnRows(rows)

	pending, err := repo.ListPending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, models.OutboxStatusPending, pending[0].Status)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE dispatch_outbox SET status = 'PUBLISHED'")).
		WithArgs(sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkPublished(context.Background(), 7))
	require.NoError(t, mock.ExpectationsWereMet())
}
