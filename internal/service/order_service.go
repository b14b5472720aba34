package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"course-billing/internal/models"
	"course-billing/internal/paystack"
	"course-billing/internal/store"
	"course-billing/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderService turns a cart of course sessions into pending subscriptions
// and a hosted-payment redirect
type OrderService struct {
	repo           store.Repository
	gateway        PaymentGateway
	cache          CheckoutCache
	eventPublisher EventPublisher
	idempotencyTTL time.Duration
	initTimeout    time.Duration
	logger         *zap.Logger
}

// DefaultInitializeTimeout bounds the initialize call made while the
// checkout transaction holds its share locks
const DefaultInitializeTimeout = 8 * time.Second

// NewOrderService creates a new order service. cache may be nil, which
// disables Idempotency-Key replays.
func NewOrderService(
	repo store.Repository,
	gateway PaymentGateway,
	cache CheckoutCache,
	eventPublisher EventPublisher,
	idempotencyTTL time.Duration,
) *OrderService {
	return &OrderService{
		repo:           repo,
		gateway:        gateway,
		cache:          cache,
		eventPublisher: eventPublisher,
		idempotencyTTL: idempotencyTTL,
		initTimeout:    DefaultInitializeTimeout,
		logger:         util.GetLogger(),
	}
}

// WithInitializeTimeout overrides how long checkout waits on the gateway's
// initialize call. Zero leaves only the caller's deadline.
func (s *OrderService) WithInitializeTimeout(d time.Duration) *OrderService {
	if d < 0 {
		d = 0
	}
	s.initTimeout = d
	return s
}

// OrderRequest is the checkout body
type OrderRequest struct {
	Course        []int64 `json:"course" binding:"omitempty,unique,dive,gt=0"`
	PaymentMethod string  `json:"paymentMethod" binding:"required,oneof=paystack bank"`
}

// OrderResult describes what a checkout produced
type OrderResult struct {
	AuthorizationURL  string                      `json:"authorization_url"`
	PaymentReference  string                      `json:"payment_reference,omitempty"`
	PaymentMethod     string                      `json:"payment_method,omitempty"`
	TotalCourseAmount int64                       `json:"total_course_amount"`
	Subscriptions     []models.CourseSubscription `json:"-"`
	Replayed          bool                        `json:"-"`
}

// HandleOrder validates the cart, initializes payment and stages one pending
// subscription per session. Validation, the gateway call and the inserts
// share one transaction: any failure leaves no rows behind.
func (s *OrderService) HandleOrder(ctx context.Context, userID int64, req *OrderRequest, idempotencyKey string) (*OrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.HandleOrder")
	defer span.End()

	if req.PaymentMethod != models.PaymentMethodPaystack && req.PaymentMethod != models.PaymentMethodBank {
		util.OrdersRejectedTotal.WithLabelValues("invalid_payment_method").Inc()
		return nil, fmt.Errorf("%q: %w", req.PaymentMethod, ErrInvalidPaymentMethod)
	}

	ids := req.Course
	if id, dup := firstDuplicate(ids); dup {
		util.OrdersRejectedTotal.WithLabelValues("duplicate_session").Inc()
		return nil, fmt.Errorf("course session %d: %w", id, ErrDuplicateSession)
	}
	if len(ids) == 0 {
		return &OrderResult{PaymentMethod: req.PaymentMethod, Subscriptions: []models.CourseSubscription{}}, nil
	}
	span.SetAttributes(attribute.Int("sessions", len(ids)))

	if idempotencyKey != "" && s.cache != nil {
		url, found, err := s.cache.GetCheckoutURL(ctx, userID, idempotencyKey)
		if err != nil {
			s.logger.Warn("Idempotency lookup failed", zap.String("idempotency_key", idempotencyKey), zap.Error(err))
		} else if found {
			s.logger.Info("Duplicate order request detected",
				zap.Int64("user_id", userID),
				zap.String("idempotency_key", idempotencyKey))
			return &OrderResult{AuthorizationURL: url, PaymentMethod: req.PaymentMethod, Replayed: true}, nil
		}
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	result := &OrderResult{PaymentMethod: req.PaymentMethod}
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx store.TxRepository) error {
		sessions, err := tx.GetCourseSessionsForShare(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to load course sessions: %w", err)
		}
		staged, total, err := stageSubscriptions(ids, sessions, userID, req.PaymentMethod)
		if err != nil {
			return err
		}
		result.TotalCourseAmount = total
		result.Subscriptions = staged

		if req.PaymentMethod != models.PaymentMethodPaystack {
			return nil
		}

		initCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.initTimeout > 0 {
			initCtx, cancel = context.WithTimeout(ctx, s.initTimeout)
		}
		payment, err := s.gateway.InitializeTransaction(initCtx, total*100, user.Email)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to initialize payment: %w", err)
		}

		for i := range staged {
			staged[i].PaymentReference = payment.Reference
			if err := tx.InsertSubscription(ctx, &staged[i]); err != nil {
				return fmt.Errorf("failed to create subscription: %w", err)
			}
		}
		result.AuthorizationURL = payment.AuthorizationURL
		result.PaymentReference = payment.Reference
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrCourseNotFound):
			util.OrdersRejectedTotal.WithLabelValues("course_not_found").Inc()
		case errors.Is(err, paystack.ErrProviderUnavailable):
			util.OrdersRejectedTotal.WithLabelValues("gateway_unavailable").Inc()
		default:
			util.OrdersRejectedTotal.WithLabelValues("error").Inc()
		}
		util.FailSpan(span, err)
		return nil, err
	}

	if req.PaymentMethod != models.PaymentMethodPaystack {
		s.logger.Info("Bank order validated, nothing persisted",
			zap.Int64("user_id", userID),
			zap.Int64("total", result.TotalCourseAmount))
		return result, nil
	}

	util.OrdersCreatedTotal.WithLabelValues(req.PaymentMethod).Inc()
	s.logger.Info("Order created",
		zap.Int64("user_id", userID),
		zap.String("reference", result.PaymentReference),
		zap.Int64("total", result.TotalCourseAmount),
		zap.Int("subscriptions", len(result.Subscriptions)))

	if idempotencyKey != "" && s.cache != nil {
		if err := s.cache.SetCheckoutURL(ctx, userID, idempotencyKey, result.AuthorizationURL, s.idempotencyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key", zap.String("idempotency_key", idempotencyKey), zap.Error(err))
		}
	}

	event := &models.SubscriptionsCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSubscriptionsCreated,
			Timestamp: time.Now(),
		},
		UserID:           userID,
		PaymentReference: result.PaymentReference,
		PaymentMethod:    req.PaymentMethod,
		TotalAmount:      result.TotalCourseAmount,
		CourseSessionIDs: ids,
	}
	if err := s.eventPublisher.PublishSubscriptionsCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish SubscriptionsCreated event", zap.Error(err))
	}

	return result, nil
}

// stageSubscriptions builds one pending row per requested id, in request
// order, snapshotting each session's cost. Every id must have a session.
func stageSubscriptions(ids []int64, sessions []models.CourseSession, userID int64, method string) ([]models.CourseSubscription, int64, error) {
	byID := make(map[int64]*models.CourseSession, len(sessions))
	for i := range sessions {
		byID[sessions[i].ID] = &sessions[i]
	}

	staged := make([]models.CourseSubscription, 0, len(ids))
	var total int64
	for _, id := range ids {
		session, ok := byID[id]
		if !ok {
			return nil, 0, fmt.Errorf("course session %d: %w", id, ErrCourseNotFound)
		}
		staged = append(staged, models.CourseSubscription{
			UserID:          userID,
			CourseSessionID: session.ID,
			Amount:          session.Cost,
			Status:          models.SubscriptionStatusPending,
			PaymentMethod:   method,
		})
		total += session.Cost
	}
	return staged, total, nil
}

// firstDuplicate reports the first id that appears more than once
func firstDuplicate(ids []int64) (int64, bool) {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id, true
		}
		seen[id] = struct{}{}
	}
	return 0, false
}

// dedupeIDs drops repeated ids, keeping the first occurrence
func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
