package store

import (
	"context"
	"time"

	"course-billing/internal/models"
)

// Repository is the read/transaction surface the billing services depend on
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error

	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetCourseSessionByID(ctx context.Context, id int64) (*models.CourseSession, error)
	GetCourseSessionsByIDs(ctx context.Context, ids []int64) ([]models.CourseSession, error)
	GetCourseResourceByID(ctx context.Context, id int64) (*models.CourseResource, error)
	GetLecturersBySessionIDs(ctx context.Context, ids []int64) (map[int64][]models.User, error)
	GetResourcesBySessionIDs(ctx context.Context, ids []int64) (map[int64][]models.CourseResource, error)
	GetCoursesByIDs(ctx context.Context, ids []int64) (map[int64]*models.Course, error)

	ListSuccessfulSubscriptionsByUser(ctx context.Context, userID int64) ([]models.CourseSubscription, error)
	GetSuccessfulSubscription(ctx context.Context, userID, courseSessionID int64) (*models.CourseSubscription, error)
	ListSubscriptionsByReference(ctx context.Context, reference string) ([]models.CourseSubscription, error)
	ListStalePendingReferences(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

// TxRepository is the set of statements that must run inside one transaction
type TxRepository interface {
	GetCourseSessionsForShare(ctx context.Context, ids []int64) ([]models.CourseSession, error)
	InsertSubscription(ctx context.Context, sub *models.CourseSubscription) error
	LockSubscriptionsByReference(ctx context.Context, reference string) ([]models.CourseSubscription, error)
	FinalizePendingByReference(ctx context.Context, reference string, outcome models.SubscriptionOutcome) (int64, error)
}

var (
	_ Repository   = (*Store)(nil)
	_ TxRepository = (*Tx)(nil)
)
