package service

import (
	"context"
	"time"

	"course-billing/internal/models"
	"course-billing/internal/paystack"
)

// PaymentGateway is the subset of the Paystack client the services call
type PaymentGateway interface {
	InitializeTransaction(ctx context.Context, amount int64, email string) (*paystack.InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystack.Verification, error)
}

// CheckoutCache remembers authorization URLs by client idempotency key
type CheckoutCache interface {
	GetCheckoutURL(ctx context.Context, userID int64, key string) (string, bool, error)
	SetCheckoutURL(ctx context.Context, userID int64, key, url string, ttl time.Duration) error
}

// Locker is a distributed mutex keyed by name
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, name, token string) error
}

// EventPublisher publishes billing domain events
type EventPublisher interface {
	PublishSubscriptionsCreated(ctx context.Context, event *models.SubscriptionsCreatedEvent) error
	PublishPaymentReconciled(ctx context.Context, event *models.PaymentReconciledEvent) error
	PublishReconciliationAnomaly(ctx context.Context, event *models.ReconciliationAnomalyEvent) error
}

// Caller identifies who is asking for gated data
type Caller struct {
	UserID int64
	Roles  []string
}

// Privileged reports whether the caller bypasses purchase gates
func (c *Caller) Privileged() bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if r == models.RoleAdmin || r == models.RoleLecturer {
			return true
		}
	}
	return false
}
