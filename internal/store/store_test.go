package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"course-billing/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var subscriptionCols = []string{
	"id", "user_id", "course_session_id", "amount", "status", "payment_method",
	"payment_reference", "transaction_id", "reason", "created_at", "updated_at",
}

var sessionCols = []string{
	"id", "course_id", "title", "description", "cost", "image", "link",
	"enrollment_deadline", "start_date", "end_date", "created_at", "updated_at",
}

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	// postgres bind type so Rebind produces $n placeholders
	s := NewWithDB(sqlx.NewDb(db, "postgres"))
	return s, mock, func() { db.Close() }
}

func TestWithinTx_Commit(t *testing.T) {
	s, mock, closeFn := setupMockStore(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_subscriptions")).
		WithArgs(models.SubscriptionStatusSuccess, int64(77), "Approved", "ref-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	var affected int64
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		affected, err = tx.FinalizePendingByReference(ctx, "ref-1", models.SubscriptionOutcome{
			Status:        models.SubscriptionStatusSuccess,
			TransactionID: 77,
			Reason:        "Approved",
		})
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_RollbackOnError(t *testing.T) {
	s, mock, closeFn := setupMockStore(t)
	defer closeFn()

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCourseSessionsForShare(t *testing.T) {
	s, mock, closeFn := setupMockStore(t)
	defer closeFn()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM course_sessions WHERE id IN ($1, $2) ORDER BY id FOR SHARE")).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow(1, 10, "Go Basics", "intro", 2000, "", "https://meet/1", nil, nil, nil, now, now).
			AddRow(2, 10, "Go Advanced", "deep", 3000, "", "https://meet/2", nil, nil, nil, now, now))
	mock.ExpectCommit()

	var sessions []models.CourseSession
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		sessions, err = tx.GetCourseSessionsForShare(ctx, []int64{1, 2})
		return err
	})

	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, int64(2000), sessions[0].Cost)
	assert.Equal(t, int64(3000), sessions[1].Cost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSubscription(t *testing.T) {
	s, mock, closeFn := setupMockStore(t)
	defer closeFn()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO course_subscriptions")).
		WithArgs(int64(5), int64(1), int64(2000), "pending", "paystack", "ref-1", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(42, now, now))
	mock.ExpectCommit()

	sub := &models.CourseSubscription{
		UserID:           5,
		CourseSessionID:  1,
		Amount:           2000,
		Status:           models.SubscriptionStatusPending,
		PaymentMethod:    models.PaymentMethodPaystack,
		PaymentReference: "ref-1",
	}
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		return tx.InsertSubscription(ctx, sub)
	})

	require.NoError(t, err)
	assert.Equal(t, int64(42), sub.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockSubscriptionsByReference(t *testing.T) {
	s, mock, closeFn := setupMockStore(t)
	defer closeFn()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE payment_reference = $1 ORDER BY id FOR UPDATE")).
		WithArgs("ref-1").
		WillReturnRows(sqlmock.NewRows(subscriptionCols).
			AddRow(1, 5, 1, 2000, "pending", "paystack", "ref-1", nil, "", now, now).
			AddRow(2, 5, 2, 3000, "pending", "paystack", "ref-1", nil, "", now, now))
	mock.ExpectCommit()

	var subs []models.CourseSubscription
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		subs, err = tx.LockSubscriptionsByReference(ctx, "ref-1")
		return err
	})

	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Nil(t, subs[0].TransactionID)
	assert.Equal(t, int64(3000), subs[1].Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSuccessfulSubscription_NotFound(t *testing.T) {
	s, mock, closeFn := setupMockStore(t)
	defer closeFn()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND course_session_id = $2 AND status = 'success'")).
		WithArgs(int64(5), int64(9)).
		WillReturnError(sql.ErrNoRows)

	sub, err := s.GetSuccessfulSubscription(context.Background(), 5, 9)
	assert.Nil(t, sub)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStalePendingReferences(t *testing.T) {
	s, mock, closeFn := setupMockStore(t)
	defer closeFn()

	cutoff := time.Now().Add(-30 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY payment_reference")).
		WithArgs(cutoff, 50).
		WillReturnRows(sqlmock.NewRows([]string{"payment_reference"}).AddRow("ref-a").AddRow("ref-b"))

	refs, err := s.ListStalePendingReferences(context.Background(), cutoff, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"ref-a", "ref-b"}, refs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCoursesByIDs_AttachesForum(t *testing.T) {
	s, mock, closeFn := setupMockStore(t)
	defer closeFn()

	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN forums f ON f.id = c.forum_id")).
		WithArgs(int64(10), int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "title", "description", "slug", "image", "forum_id", "forum_title", "forum_description",
		}).
			AddRow(10, "Go", "Go course", "go", "", 3, "Go forum", "talk").
			AddRow(11, "Rust", "Rust course", "rust", "", nil, nil, nil))

	courses, err := s.GetCoursesByIDs(context.Background(), []int64{10, 11})
	require.NoError(t, err)
	require.Len(t, courses, 2)
	require.NotNil(t, courses[10].Forum)
	assert.Equal(t, "Go forum", courses[10].Forum.Title)
	assert.Nil(t, courses[11].Forum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCourseSessionsByIDs_Empty(t *testing.T) {
	s, mock, closeFn := setupMockStore(t)
	defer closeFn()

	sessions, err := s.GetCourseSessionsByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.NoError(t, mock.ExpectationsWereMet())
}
