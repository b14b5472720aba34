package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"course-billing/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrNotFound is returned by single-row lookups that match nothing
var ErrNotFound = errors.New("record not found")

const sessionColumns = `id, course_id, title, description, cost, image, link,
	enrollment_deadline, start_date, end_date, created_at, updated_at`

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, used by readiness probes
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx runs fn in a transaction at the server default isolation level
// (read committed). fn's error rolls back; a nil return commits.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user,
		"SELECT id, email, first_name, last_name, profile_image, about FROM users WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetCourseSessionByID retrieves a course session by ID
func (s *Store) GetCourseSessionByID(ctx context.Context, id int64) (*models.CourseSession, error) {
	var session models.CourseSession
	err := s.db.GetContext(ctx, &session,
		"SELECT "+sessionColumns+" FROM course_sessions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("course session %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetCourseSessionsByIDs retrieves multiple course sessions by IDs
func (s *Store) GetCourseSessionsByIDs(ctx context.Context, ids []int64) ([]models.CourseSession, error) {
	if len(ids) == 0 {
		return []models.CourseSession{}, nil
	}

	query, args, err := sqlx.In("SELECT "+sessionColumns+" FROM course_sessions WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var sessions []models.CourseSession
	err = s.db.SelectContext(ctx, &sessions, query, args...)
	return sessions, err
}

// GetCourseResourceByID retrieves a course resource by ID
func (s *Store) GetCourseResourceByID(ctx context.Context, id int64) (*models.CourseResource, error) {
	var resource models.CourseResource
	err := s.db.GetContext(ctx, &resource, `
		SELECT id, course_session_id, title, description, resource_type, url, created_at
		FROM course_resources WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("course resource %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &resource, nil
}

type lecturerRow struct {
	CourseSessionID int64 `db:"course_session_id"`
	models.User
}

// GetLecturersBySessionIDs returns lecturers keyed by course session
func (s *Store) GetLecturersBySessionIDs(ctx context.Context, ids []int64) (map[int64][]models.User, error) {
	out := make(map[int64][]models.User)
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`
		SELECT l.course_session_id, u.id, u.email, u.first_name, u.last_name, u.profile_image, u.about
		FROM lecturers l
		JOIN users u ON u.id = l.lecturer_id
		WHERE l.course_session_id IN (?)
		ORDER BY u.id`, ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var rows []lecturerRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		r.User.Email = ""
		out[r.CourseSessionID] = append(out[r.CourseSessionID], r.User)
	}
	return out, nil
}

// GetResourcesBySessionIDs returns course resources keyed by course session,
// without their gated URLs
func (s *Store) GetResourcesBySessionIDs(ctx context.Context, ids []int64) (map[int64][]models.CourseResource, error) {
	out := make(map[int64][]models.CourseResource)
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`
		SELECT id, course_session_id, title, description, resource_type, created_at
		FROM course_resources
		WHERE course_session_id IN (?)
		ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var rows []models.CourseResource
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.CourseSessionID] = append(out[r.CourseSessionID], r)
	}
	return out, nil
}

type courseRow struct {
	models.Course
	ForumTitle       sql.NullString `db:"forum_title"`
	ForumDescription sql.NullString `db:"forum_description"`
}

// GetCoursesByIDs returns courses with their forum, keyed by course ID
func (s *Store) GetCoursesByIDs(ctx context.Context, ids []int64) (map[int64]*models.Course, error) {
	out := make(map[int64]*models.Course)
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`
		SELECT c.id, c.title, c.description, c.slug, c.image, c.forum_id,
		       f.title AS forum_title, f.description AS forum_description
		FROM courses c
		LEFT JOIN forums f ON f.id = c.forum_id
		WHERE c.id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var rows []courseRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	for i := range rows {
		course := rows[i].Course
		if course.ForumID != nil {
			course.Forum = &models.Forum{
				ID:          *course.ForumID,
				Title:       rows[i].ForumTitle.String,
				Description: rows[i].ForumDescription.String,
			}
		}
		out[course.ID] = &course
	}
	return out, nil
}
