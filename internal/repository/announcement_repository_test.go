package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
	appErrors "github.com/vacademy-io/notify-delivery-api/pkg/errors"
)

func TestAnnouncementRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAnnouncementRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "title", "content_id", "institute_id", "created_by", "creator_role", "status", "timezone", "created_at", "updated_at"}).
		AddRow("ann-1", "Exam timetable", "content-1", "inst-1", "admin-1", "ADMIN", "DRAFT", "UTC", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM announcements")).
		WithArgs("ann-1").
		WillReturnRows(rows)

	ann, err := repo.GetByID(context.Background(), "ann-1")
	require.NoError(t, err)
	require.Equal(t, models.AnnouncementStatusDraft, ann.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAnnouncementRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM announcements")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAnnouncementRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE announcements SET status")).
		WithArgs(models.AnnouncementStatusActive, sqlmock.AnyArg(), "ann-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), "ann-1", models.AnnouncementStatusActive))
	require.NoError(t, mock.ExpectationsWereMet())
}
