package worker

import (
	"context"
	"errors"

	"course-billing/internal/broker"
	"course-billing/internal/models"
	"course-billing/internal/notification"
	"course-billing/internal/util"

	"go.uber.org/zap"
)

// PaymentNotifier sends the outcome of a reconciled payment to the user
type PaymentNotifier interface {
	NotifyPaymentReconciled(ctx context.Context, event *models.PaymentReconciledEvent) error
}

// NotificationWorker emails users when their payment reference is finalized
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	notifier     PaymentNotifier
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, notifier PaymentNotifier) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		notifier:     notifier,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnPaymentReconciled(w.HandlePaymentReconciled)
	w.eventHandler.OnReconciliationAnomaly(w.HandleReconciliationAnomaly)
	return w
}

// HandlePaymentReconciled sends the outcome email. Send failures are returned
// so the message stays uncommitted and is retried; events without a
// recipient are dropped.
func (w *NotificationWorker) HandlePaymentReconciled(ctx context.Context, event *models.PaymentReconciledEvent) error {
	err := w.notifier.NotifyPaymentReconciled(ctx, event)
	switch {
	case err == nil:
		util.NotificationsSentTotal.WithLabelValues("sent").Inc()
		return nil
	case errors.Is(err, notification.ErrNoRecipient):
		util.NotificationsSentTotal.WithLabelValues("skipped").Inc()
		w.logger.Warn("Dropping payment notification without recipient",
			zap.String("reference", event.PaymentReference),
			zap.Int64("user_id", event.UserID))
		return nil
	default:
		util.NotificationsSentTotal.WithLabelValues("failed").Inc()
		w.logger.Error("Failed to send payment notification",
			zap.String("reference", event.PaymentReference),
			zap.Error(err))
		return err
	}
}

// HandleReconciliationAnomaly records anomalies for operators
func (w *NotificationWorker) HandleReconciliationAnomaly(ctx context.Context, event *models.ReconciliationAnomalyEvent) error {
	w.logger.Warn("Reconciliation anomaly reported",
		zap.String("reference", event.PaymentReference),
		zap.String("stored_status", event.StoredStatus),
		zap.String("reported_status", event.ReportedStatus),
		zap.Int64("stored_tx_id", event.StoredTxID),
		zap.Int64("reported_tx_id", event.ReportedTxID))
	return nil
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}
