package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"course-billing/internal/models"
	"course-billing/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing billing events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// referenceKey keys every event of one checkout to the same partition
func referenceKey(reference string) string {
	return fmt.Sprintf("payment-%s", reference)
}

// PublishSubscriptionsCreated publishes SubscriptionsCreated event
func (ep *EventPublisher) PublishSubscriptionsCreated(ctx context.Context, event *models.SubscriptionsCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, referenceKey(event.PaymentReference), event)
}

// PublishPaymentReconciled publishes PaymentReconciled event
func (ep *EventPublisher) PublishPaymentReconciled(ctx context.Context, event *models.PaymentReconciledEvent) error {
	return ep.producer.PublishEvent(ctx, referenceKey(event.PaymentReference), event)
}

// PublishReconciliationAnomaly publishes ReconciliationAnomaly event
func (ep *EventPublisher) PublishReconciliationAnomaly(ctx context.Context, event *models.ReconciliationAnomalyEvent) error {
	return ep.producer.PublishEvent(ctx, referenceKey(event.PaymentReference), event)
}

// EventHandler routes incoming billing events
type EventHandler struct {
	onPaymentReconciled     func(context.Context, *models.PaymentReconciledEvent) error
	onReconciliationAnomaly func(context.Context, *models.ReconciliationAnomalyEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPaymentReconciled registers a handler for PaymentReconciled events
func (eh *EventHandler) OnPaymentReconciled(handler func(context.Context, *models.PaymentReconciledEvent) error) {
	eh.onPaymentReconciled = handler
}

// OnReconciliationAnomaly registers a handler for ReconciliationAnomaly events
func (eh *EventHandler) OnReconciliationAnomaly(handler func(context.Context, *models.ReconciliationAnomalyEvent) error) {
	eh.onReconciliationAnomaly = handler
}

// HandleMessage routes messages to the registered handlers. Event types
// without a handler are acknowledged and skipped.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	util.GetLogger().Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentReconciled:
		if eh.onPaymentReconciled != nil {
			var event models.PaymentReconciledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentReconciled event: %w", err)
			}
			return eh.onPaymentReconciled(ctx, &event)
		}

	case models.EventTypeReconciliationAnomaly:
		if eh.onReconciliationAnomaly != nil {
			var event models.ReconciliationAnomalyEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ReconciliationAnomaly event: %w", err)
			}
			return eh.onReconciliationAnomaly(ctx, &event)
		}
	}

	return nil
}
