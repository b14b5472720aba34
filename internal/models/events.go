package models

import "time"

// Event types
const (
	EventTypeSubscriptionsCreated  = "SUBSCRIPTIONS_CREATED"
	EventTypePaymentReconciled     = "PAYMENT_RECONCILED"
	EventTypeReconciliationAnomaly = "RECONCILIATION_ANOMALY"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SubscriptionsCreatedEvent published when an order's pending rows are committed
type SubscriptionsCreatedEvent struct {
	BaseEvent
	UserID           int64   `json:"user_id"`
	PaymentReference string  `json:"payment_reference"`
	PaymentMethod    string  `json:"payment_method"`
	TotalAmount      int64   `json:"total_amount"`
	CourseSessionIDs []int64 `json:"course_session_ids"`
}

// PaymentReconciledEvent published when a reference reaches a terminal status
type PaymentReconciledEvent struct {
	BaseEvent
	UserID           int64    `json:"user_id"`
	Email            string   `json:"email"`
	FirstName        string   `json:"first_name"`
	PaymentReference string   `json:"payment_reference"`
	Status           string   `json:"status"`
	Reason           string   `json:"reason"`
	Amount           int64    `json:"amount"`
	TransactionID    int64    `json:"transaction_id"`
	SessionTitles    []string `json:"session_titles"`
}

// ReconciliationAnomalyEvent published when a callback disagrees with an
// already-terminal reference
type ReconciliationAnomalyEvent struct {
	BaseEvent
	PaymentReference string `json:"payment_reference"`
	StoredStatus     string `json:"stored_status"`
	ReportedStatus   string `json:"reported_status"`
	StoredTxID       int64  `json:"stored_tx_id"`
	ReportedTxID     int64  `json:"reported_tx_id"`
}
