package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"course-billing/internal/models"

	"github.com/jmoiron/sqlx"
)

const subscriptionColumns = `id, user_id, course_session_id, amount, status, payment_method,
	payment_reference, transaction_id, reason, created_at, updated_at`

// ListSuccessfulSubscriptionsByUser returns the user's paid subscriptions, newest first
func (s *Store) ListSuccessfulSubscriptionsByUser(ctx context.Context, userID int64) ([]models.CourseSubscription, error) {
	subs := []models.CourseSubscription{}
	err := s.db.SelectContext(ctx, &subs,
		"SELECT "+subscriptionColumns+" FROM course_subscriptions WHERE user_id = $1 AND status = 'success' ORDER BY created_at DESC",
		userID)
	return subs, err
}

// GetSuccessfulSubscription returns the paid subscription for a user and session
func (s *Store) GetSuccessfulSubscription(ctx context.Context, userID, courseSessionID int64) (*models.CourseSubscription, error) {
	var sub models.CourseSubscription
	err := s.db.GetContext(ctx, &sub,
		"SELECT "+subscriptionColumns+" FROM course_subscriptions WHERE user_id = $1 AND course_session_id = $2 AND status = 'success' ORDER BY id LIMIT 1",
		userID, courseSessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscription user=%d session=%d: %w", userID, courseSessionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptionsByReference returns every row created by one checkout
func (s *Store) ListSubscriptionsByReference(ctx context.Context, reference string) ([]models.CourseSubscription, error) {
	subs := []models.CourseSubscription{}
	err := s.db.SelectContext(ctx, &subs,
		"SELECT "+subscriptionColumns+" FROM course_subscriptions WHERE payment_reference = $1 ORDER BY id",
		reference)
	return subs, err
}

// ListStalePendingReferences returns references that still have pending rows
// created before olderThan, oldest first
func (s *Store) ListStalePendingReferences(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}

	refs := []string{}
	err := s.db.SelectContext(ctx, &refs, `
		SELECT payment_reference
		FROM course_subscriptions
		WHERE status = 'pending'
		  AND payment_reference <> ''
		  AND created_at < $1
		GROUP BY payment_reference
		ORDER BY MIN(created_at)
		LIMIT $2`, olderThan, limit)
	return refs, err
}

// Tx is a Repository transaction
type Tx struct {
	tx *sqlx.Tx
}

// GetCourseSessionsForShare reads sessions and holds a share lock on them
// until the transaction ends, so they cannot be deleted underneath an order
func (t *Tx) GetCourseSessionsForShare(ctx context.Context, ids []int64) ([]models.CourseSession, error) {
	if len(ids) == 0 {
		return []models.CourseSession{}, nil
	}

	query, args, err := sqlx.In("SELECT "+sessionColumns+" FROM course_sessions WHERE id IN (?) ORDER BY id FOR SHARE", ids)
	if err != nil {
		return nil, err
	}
	query = t.tx.Rebind(query)

	var sessions []models.CourseSession
	err = t.tx.SelectContext(ctx, &sessions, query, args...)
	return sessions, err
}

// InsertSubscription creates a subscription row
func (t *Tx) InsertSubscription(ctx context.Context, sub *models.CourseSubscription) error {
	query := `
		INSERT INTO course_subscriptions (user_id, course_session_id, amount, status, payment_method, payment_reference, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return t.tx.QueryRowxContext(ctx, query,
		sub.UserID, sub.CourseSessionID, sub.Amount, sub.Status, sub.PaymentMethod, sub.PaymentReference, sub.Reason,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
}

// LockSubscriptionsByReference reads every row of a reference FOR UPDATE
func (t *Tx) LockSubscriptionsByReference(ctx context.Context, reference string) ([]models.CourseSubscription, error) {
	subs := []models.CourseSubscription{}
	err := t.tx.SelectContext(ctx, &subs,
		"SELECT "+subscriptionColumns+" FROM course_subscriptions WHERE payment_reference = $1 ORDER BY id FOR UPDATE",
		reference)
	if err != nil {
		return nil, fmt.Errorf("failed to lock subscriptions: %w", err)
	}
	return subs, nil
}

// FinalizePendingByReference applies the terminal outcome to rows that are
// still pending and returns how many changed
func (t *Tx) FinalizePendingByReference(ctx context.Context, reference string, outcome models.SubscriptionOutcome) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE course_subscriptions
		SET status = $1, transaction_id = $2, reason = $3, updated_at = NOW()
		WHERE payment_reference = $4 AND status = 'pending'`,
		outcome.Status, outcome.TransactionID, outcome.Reason, reference)
	if err != nil {
		return 0, fmt.Errorf("failed to finalize subscriptions: %w", err)
	}
	return res.RowsAffected()
}
