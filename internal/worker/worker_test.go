package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"course-billing/internal/models"
	"course-billing/internal/notification"
	"course-billing/internal/service"
	"course-billing/internal/util"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNotifier struct {
	err  error
	sent []*models.PaymentReconciledEvent
}

func (n *stubNotifier) NotifyPaymentReconciled(ctx context.Context, event *models.PaymentReconciledEvent) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, event)
	return nil
}

func TestHandlePaymentReconciled(t *testing.T) {
	n := &stubNotifier{}
	w := NewNotificationWorker(nil, n)
	before := testutil.ToFloat64(util.NotificationsSentTotal.WithLabelValues("sent"))

	err := w.HandlePaymentReconciled(context.Background(), &models.PaymentReconciledEvent{Email: "ada@example.com"})

	require.NoError(t, err)
	assert.Len(t, n.sent, 1)
	assert.Equal(t, before+1, testutil.ToFloat64(util.NotificationsSentTotal.WithLabelValues("sent")))
}

func TestHandlePaymentReconciled_SendFailureIsRetried(t *testing.T) {
	n := &stubNotifier{err: errors.New("smtp down")}
	w := NewNotificationWorker(nil, n)
	before := testutil.ToFloat64(util.NotificationsSentTotal.WithLabelValues("failed"))

	err := w.HandlePaymentReconciled(context.Background(), &models.PaymentReconciledEvent{Email: "ada@example.com"})

	assert.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(util.NotificationsSentTotal.WithLabelValues("failed")))
}

func TestHandlePaymentReconciled_NoRecipientDropped(t *testing.T) {
	n := &stubNotifier{err: fmt.Errorf("wrap: %w", notification.ErrNoRecipient)}
	w := NewNotificationWorker(nil, n)

	err := w.HandlePaymentReconciled(context.Background(), &models.PaymentReconciledEvent{})

	assert.NoError(t, err)
}

type stubSweeper struct {
	mu     sync.Mutex
	calls  int
	minAge time.Duration
	batch  int
	err    error
}

func (s *stubSweeper) SweepStalePending(ctx context.Context, minAge time.Duration, batch int) (*service.SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.minAge = minAge
	s.batch = batch
	if s.err != nil {
		return nil, s.err
	}
	return &service.SweepReport{Candidates: 1, Results: map[string]int{"finalized": 1}}, nil
}

func TestSweeperRunOnce(t *testing.T) {
	stub := &stubSweeper{}
	s := NewSweeper(stub, "@every 10m", 30*time.Minute, 50)

	s.RunOnce()

	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, 30*time.Minute, stub.minAge)
	assert.Equal(t, 50, stub.batch)
}

func TestSweeperRunOnce_Error(t *testing.T) {
	stub := &stubSweeper{err: errors.New("db down")}
	s := NewSweeper(stub, "@every 10m", time.Minute, 10)

	assert.NotPanics(t, s.RunOnce)
	assert.Equal(t, 1, stub.calls)
}

func TestSweeperStartRejectsBadSchedule(t *testing.T) {
	s := NewSweeper(&stubSweeper{}, "not a schedule", time.Minute, 10)
	assert.Error(t, s.Start())
}

func TestSweeperStartStop(t *testing.T) {
	s := NewSweeper(&stubSweeper{}, "@every 1h", time.Minute, 10)
	require.NoError(t, s.Start())
	s.Stop()
}
