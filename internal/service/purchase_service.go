package service

import (
	"context"
	"errors"
	"fmt"

	"course-billing/internal/models"
	"course-billing/internal/store"
	"course-billing/internal/util"

	"go.uber.org/zap"
)

// PurchaseService answers "what has this user bought" and gates links on it
type PurchaseService struct {
	repo   store.Repository
	logger *zap.Logger
}

// NewPurchaseService creates a new purchase service
func NewPurchaseService(repo store.Repository) *PurchaseService {
	return &PurchaseService{
		repo:   repo,
		logger: util.GetLogger(),
	}
}

// ListPurchasedSessions returns the user's successful purchases with session,
// lecturers, course, forum and resources attached. Links and resource URLs
// are withheld; they are revealed through the view operations.
func (s *PurchaseService) ListPurchasedSessions(ctx context.Context, userID int64) ([]models.Purchase, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseService.ListPurchasedSessions")
	defer span.End()

	subs, err := s.repo.ListSuccessfulSubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return []models.Purchase{}, nil
	}

	ids := make([]int64, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.CourseSessionID)
	}
	sessions, err := s.loadSessions(ctx, dedupeIDs(ids))
	if err != nil {
		return nil, err
	}

	purchases := make([]models.Purchase, 0, len(subs))
	for _, sub := range subs {
		session := sessions[sub.CourseSessionID]
		if session != nil {
			session.Link = ""
		}
		purchases = append(purchases, models.Purchase{
			ID:            sub.ID,
			CreatedAt:     sub.CreatedAt,
			CourseSession: session,
		})
	}
	return purchases, nil
}

// loadSessions reads sessions and attaches lecturers, resources and course
func (s *PurchaseService) loadSessions(ctx context.Context, ids []int64) (map[int64]*models.CourseSession, error) {
	rows, err := s.repo.GetCourseSessionsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load course sessions: %w", err)
	}
	lecturers, err := s.repo.GetLecturersBySessionIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load lecturers: %w", err)
	}
	resources, err := s.repo.GetResourcesBySessionIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load resources: %w", err)
	}

	courseIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		courseIDs = append(courseIDs, row.CourseID)
	}
	courses, err := s.repo.GetCoursesByIDs(ctx, dedupeIDs(courseIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load courses: %w", err)
	}

	out := make(map[int64]*models.CourseSession, len(rows))
	for i := range rows {
		session := rows[i]
		session.Lecturers = lecturers[session.ID]
		session.Resources = resources[session.ID]
		session.Course = courses[session.CourseID]
		out[session.ID] = &session
	}
	return out, nil
}

// RequirePurchase returns the user's successful subscription to a session or
// ErrNotPurchased
func (s *PurchaseService) RequirePurchase(ctx context.Context, userID, courseSessionID int64) (*models.CourseSubscription, error) {
	sub, err := s.repo.GetSuccessfulSubscription(ctx, userID, courseSessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotPurchased
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check purchase: %w", err)
	}
	return sub, nil
}

// GetCourseSession returns a session with lecturers, resources and course.
// The meeting link is only included for admins and lecturers.
func (s *PurchaseService) GetCourseSession(ctx context.Context, caller *Caller, sessionID int64) (*models.CourseSession, error) {
	sessions, err := s.loadSessions(ctx, []int64{sessionID})
	if err != nil {
		return nil, err
	}
	session, ok := sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("course session %d: %w", sessionID, ErrSessionNotFound)
	}
	if !caller.Privileged() {
		session.Link = ""
	}
	return session, nil
}

// ViewCourseSessionLink reveals a session's link to buyers, admins and lecturers
func (s *PurchaseService) ViewCourseSessionLink(ctx context.Context, caller *Caller, sessionID int64) (string, error) {
	session, err := s.repo.GetCourseSessionByID(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("course session %d: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return "", err
	}

	if !caller.Privileged() {
		if _, err := s.RequirePurchase(ctx, caller.UserID, sessionID); err != nil {
			return "", err
		}
	}
	return session.Link, nil
}

// ViewCourseResourceLink reveals a resource URL when its session was bought
func (s *PurchaseService) ViewCourseResourceLink(ctx context.Context, caller *Caller, resourceID int64) (string, error) {
	resource, err := s.repo.GetCourseResourceByID(ctx, resourceID)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("course resource %d: %w", resourceID, ErrResourceNotFound)
	}
	if err != nil {
		return "", err
	}

	if !caller.Privileged() {
		if _, err := s.RequirePurchase(ctx, caller.UserID, resource.CourseSessionID); err != nil {
			return "", err
		}
	}
	return resource.URL, nil
}

// ListSubscriptionsByReference returns every row of one checkout
func (s *PurchaseService) ListSubscriptionsByReference(ctx context.Context, reference string) ([]models.CourseSubscription, error) {
	subs, err := s.repo.ListSubscriptionsByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%s: %w", reference, ErrReferenceNotFound)
	}
	return subs, nil
}
