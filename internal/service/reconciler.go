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

// Reconciler finalizes subscriptions against the gateway's verified outcome
type Reconciler struct {
	repo           store.Repository
	gateway        PaymentGateway
	locker         Locker
	eventPublisher EventPublisher
	lockTTL        time.Duration
	abandonAfter   time.Duration
	logger         *zap.Logger
}

// DefaultAbandonAfter is how long an abandoned checkout stays pending before
// it is finalized as failed.
const DefaultAbandonAfter = 24 * time.Hour

// NewReconciler creates a reconciler. locker may be nil; the row lock taken
// inside the transaction is what guarantees a single terminal write.
func NewReconciler(
	repo store.Repository,
	gateway PaymentGateway,
	locker Locker,
	eventPublisher EventPublisher,
	lockTTL time.Duration,
) *Reconciler {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Reconciler{
		repo:           repo,
		gateway:        gateway,
		locker:         locker,
		eventPublisher: eventPublisher,
		lockTTL:        lockTTL,
		abandonAfter:   DefaultAbandonAfter,
		logger:         util.GetLogger(),
	}
}

// WithAbandonAfter sets how old an abandoned reference must be before it is
// finalized as failed. Zero keeps abandoned references pending indefinitely.
func (r *Reconciler) WithAbandonAfter(d time.Duration) *Reconciler {
	if d < 0 {
		d = 0
	}
	r.abandonAfter = d
	return r
}

// ReconcileResult is the state of a reference after reconciliation. Status
// stays pending while the gateway has not settled the charge.
type ReconcileResult struct {
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	TransactionID int64  `json:"transaction_id"`
	Reason        string `json:"reason"`
	Expected      int64  `json:"expected_amount"`
	Reported      int64  `json:"reported_amount"`
	// Changed is false when every row was already terminal.
	Changed bool `json:"changed"`
	// Anomaly is set when the gateway now disagrees with the stored outcome.
	Anomaly bool `json:"anomaly"`
}

// Reconcile verifies reference with the gateway and moves all of its pending
// rows to one terminal status. A mismatched amount or a failed or reversed
// charge is committed as failed and then reported as ErrAmountMismatch or
// ErrPaymentFailed. A charge the gateway still treats as in flight leaves the
// rows pending and returns ErrPaymentInconclusive, as do gateway errors.
func (r *Reconciler) Reconcile(ctx context.Context, reference string) (*ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("reference", reference))

	if reference == "" {
		return nil, ErrReferenceNotFound
	}

	if r.locker != nil {
		lockName := "reconcile:" + reference
		token, ok, err := r.locker.AcquireLock(ctx, lockName, r.lockTTL)
		switch {
		case err != nil:
			r.logger.Warn("Reconcile lock unavailable, relying on row lock",
				zap.String("reference", reference), zap.Error(err))
		case !ok:
			return nil, fmt.Errorf("%s: %w", reference, ErrReconcileInProgress)
		default:
			defer func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := r.locker.ReleaseLock(releaseCtx, lockName, token); err != nil {
					r.logger.Warn("Failed to release reconcile lock", zap.String("reference", reference), zap.Error(err))
				}
			}()
		}
	}

	existing, err := r.repo.ListSubscriptionsByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions: %w", err)
	}
	if len(existing) == 0 {
		return nil, fmt.Errorf("%s: %w", reference, ErrReferenceNotFound)
	}

	verification, err := r.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		util.FailSpan(span, err)
		r.logger.Warn("Payment verification failed, leaving reference pending",
			zap.String("reference", reference), zap.Error(err))
		return nil, fmt.Errorf("failed to verify payment: %w", err)
	}

	result := &ReconcileResult{Reference: reference, Reported: verification.Amount}
	var rows []models.CourseSubscription
	err = r.repo.WithinTx(ctx, func(ctx context.Context, tx store.TxRepository) error {
		locked, err := tx.LockSubscriptionsByReference(ctx, reference)
		if err != nil {
			return err
		}
		rows = locked
		if len(rows) == 0 {
			return fmt.Errorf("%s: %w", reference, ErrReferenceNotFound)
		}

		var pending int
		oldest := rows[0].CreatedAt
		for _, row := range rows {
			result.Expected += row.Amount
			if !models.IsTerminal(row.Status) {
				pending++
			}
			if row.CreatedAt.Before(oldest) {
				oldest = row.CreatedAt
			}
		}

		outcome, conclusive := decideOutcome(result.Expected, verification, time.Since(oldest), r.abandonAfter)
		if pending == 0 {
			applyStored(result, rows[0])
			result.Anomaly = conclusive && differs(rows[0], outcome)
			return nil
		}
		if !conclusive {
			result.Status = models.SubscriptionStatusPending
			result.TransactionID = verification.ID
			result.Reason = MsgPaymentPending
			return nil
		}

		affected, err := tx.FinalizePendingByReference(ctx, reference, outcome)
		if err != nil {
			return err
		}
		result.Status = outcome.Status
		result.TransactionID = outcome.TransactionID
		result.Reason = outcome.Reason
		result.Changed = affected > 0
		if result.Changed {
			util.SubscriptionsReconciledTotal.WithLabelValues(outcome.Status).Add(float64(affected))
		}
		return nil
	})
	if err != nil {
		util.FailSpan(span, err)
		return nil, err
	}

	if result.Expected*100 != result.Reported && result.Changed {
		util.AmountMismatchTotal.Inc()
	}

	if result.Status == models.SubscriptionStatusPending {
		util.ReconciliationInconclusiveTotal.WithLabelValues(verification.Status).Inc()
		r.logger.Info("Payment not yet completed, leaving reference pending",
			zap.String("reference", reference),
			zap.String("gateway_status", verification.Status))
		return result, fmt.Errorf("%s: gateway status %q: %w", reference, verification.Status, ErrPaymentInconclusive)
	}

	switch {
	case result.Changed:
		r.logger.Info("Payment reconciled",
			zap.String("reference", reference),
			zap.String("status", result.Status),
			zap.Int64("transaction_id", result.TransactionID),
			zap.Int64("expected", result.Expected),
			zap.Int64("reported_subunits", result.Reported))
		r.publishReconciled(ctx, result, rows)
	case result.Anomaly:
		util.ReconciliationAnomaliesTotal.Inc()
		r.logger.Warn("Gateway outcome disagrees with finalized reference",
			zap.String("reference", reference),
			zap.String("stored_status", result.Status),
			zap.String("reported_status", verification.Status),
			zap.Int64("stored_transaction_id", result.TransactionID),
			zap.Int64("reported_transaction_id", verification.ID),
			zap.Int64("reported_subunits", verification.Amount))
		r.publishAnomaly(ctx, result, verification)
	default:
		util.ReconciliationNoopTotal.Inc()
		r.logger.Info("Reference already finalized", zap.String("reference", reference), zap.String("status", result.Status))
	}

	return result, outcomeError(result)
}

// decideOutcome maps a verification onto a terminal outcome. It returns false
// while the charge can still change: any status other than success, failed or
// reversed, and abandoned until the reference is older than abandonAfter.
// Expected whole units are compared with the reported subunits by
// multiplying the expected side, which keeps the comparison exact.
func decideOutcome(expected int64, v *paystack.Verification, age, abandonAfter time.Duration) (models.SubscriptionOutcome, bool) {
	switch v.Status {
	case paystack.StatusSuccess, paystack.StatusFailed, paystack.StatusReversed:
	case paystack.StatusAbandoned:
		if abandonAfter <= 0 || age < abandonAfter {
			return models.SubscriptionOutcome{}, false
		}
	default:
		return models.SubscriptionOutcome{}, false
	}

	if expected*100 != v.Amount {
		return models.SubscriptionOutcome{
			Status:        models.SubscriptionStatusFailed,
			TransactionID: v.ID,
			Reason:        MsgAmountMismatch,
		}, true
	}

	status := models.SubscriptionStatusFailed
	if v.Status == paystack.StatusSuccess {
		status = models.SubscriptionStatusSuccess
	}
	return models.SubscriptionOutcome{
		Status:        status,
		TransactionID: v.ID,
		Reason:        v.Message,
	}, true
}

func applyStored(result *ReconcileResult, row models.CourseSubscription) {
	result.Status = row.Status
	result.Reason = row.Reason
	if row.TransactionID != nil {
		result.TransactionID = *row.TransactionID
	}
}

func differs(row models.CourseSubscription, outcome models.SubscriptionOutcome) bool {
	if row.Status != outcome.Status {
		return true
	}
	return row.TransactionID == nil || *row.TransactionID != outcome.TransactionID
}

func outcomeError(result *ReconcileResult) error {
	if result.Status == models.SubscriptionStatusSuccess {
		return nil
	}
	if result.Reason == MsgAmountMismatch {
		return fmt.Errorf("%s: %w", result.Reference, ErrAmountMismatch)
	}
	return fmt.Errorf("%s: %w", result.Reference, ErrPaymentFailed)
}

func (r *Reconciler) publishReconciled(ctx context.Context, result *ReconcileResult, rows []models.CourseSubscription) {
	userID := rows[0].UserID
	event := &models.PaymentReconciledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentReconciled,
			Timestamp: time.Now(),
		},
		UserID:           userID,
		PaymentReference: result.Reference,
		Status:           result.Status,
		Reason:           result.Reason,
		Amount:           result.Expected,
		TransactionID:    result.TransactionID,
	}

	if user, err := r.repo.GetUserByID(ctx, userID); err != nil {
		r.logger.Warn("Failed to load user for notification", zap.Int64("user_id", userID), zap.Error(err))
	} else {
		event.Email = user.Email
		event.FirstName = user.FirstName
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.CourseSessionID)
	}
	if sessions, err := r.repo.GetCourseSessionsByIDs(ctx, ids); err != nil {
		r.logger.Warn("Failed to load session titles", zap.String("reference", result.Reference), zap.Error(err))
	} else {
		for _, s := range sessions {
			event.SessionTitles = append(event.SessionTitles, s.Title)
		}
	}

	if err := r.eventPublisher.PublishPaymentReconciled(ctx, event); err != nil {
		r.logger.Error("Failed to publish PaymentReconciled event", zap.Error(err))
	}
}

func (r *Reconciler) publishAnomaly(ctx context.Context, result *ReconcileResult, v *paystack.Verification) {
	event := &models.ReconciliationAnomalyEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeReconciliationAnomaly,
			Timestamp: time.Now(),
		},
		PaymentReference: result.Reference,
		StoredStatus:     result.Status,
		ReportedStatus:   v.Status,
		StoredTxID:       result.TransactionID,
		ReportedTxID:     v.ID,
	}
	if err := r.eventPublisher.PublishReconciliationAnomaly(ctx, event); err != nil {
		r.logger.Error("Failed to publish ReconciliationAnomaly event", zap.Error(err))
	}
}

// SweepReport counts what one sweep did, keyed by result
type SweepReport struct {
	Candidates int
	Results    map[string]int
}

// SweepStalePending re-runs reconciliation for references still pending
// after minAge. Gateway outages and in-flight charges leave rows pending for
// the next sweep.
func (r *Reconciler) SweepStalePending(ctx context.Context, minAge time.Duration, batch int) (*SweepReport, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.SweepStalePending")
	defer span.End()

	refs, err := r.repo.ListStalePendingReferences(ctx, time.Now().Add(-minAge), batch)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale references: %w", err)
	}

	report := &SweepReport{Candidates: len(refs), Results: make(map[string]int)}
	for _, ref := range refs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		_, err := r.Reconcile(ctx, ref)
		label := sweepLabel(err)
		report.Results[label]++
		util.SweeperReferencesTotal.WithLabelValues(label).Inc()

		if label == "error" || label == "rejected" {
			r.logger.Warn("Sweep could not reconcile reference", zap.String("reference", ref), zap.Error(err))
		}
	}

	return report, nil
}

func sweepLabel(err error) string {
	switch {
	case err == nil, errors.Is(err, ErrAmountMismatch), errors.Is(err, ErrPaymentFailed):
		return "finalized"
	case errors.Is(err, paystack.ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, paystack.ErrRequestRejected):
		return "rejected"
	case errors.Is(err, ErrPaymentInconclusive):
		return "pending"
	case errors.Is(err, ErrReconcileInProgress):
		return "skipped"
	default:
		return "error"
	}
}
