package notification

import (
	"context"
	"net/smtp"
	"testing"

	"course-billing/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_Success(t *testing.T) {
	subject, body, err := Render(&models.PaymentReconciledEvent{
		FirstName:        "Ada",
		PaymentReference: "ref-1",
		Status:           models.SubscriptionStatusSuccess,
		Amount:           5000,
		SessionTitles:    []string{"Go Basics", "Go Advanced"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Payment confirmed - ref-1", subject)
	assert.Contains(t, body, "Hi Ada,")
	assert.Contains(t, body, "Amount: 5000")
	assert.Contains(t, body, "  - Go Basics")
	assert.Contains(t, body, "  - Go Advanced")
}

func TestRender_Failed(t *testing.T) {
	subject, body, err := Render(&models.PaymentReconciledEvent{
		PaymentReference: "ref-2",
		Status:           models.SubscriptionStatusFailed,
		Reason:           "Amount received does not match amount expected",
	})

	require.NoError(t, err)
	assert.Equal(t, "Payment failed - ref-2", subject)
	assert.Contains(t, body, "Hi there,")
	assert.Contains(t, body, "Reason: Amount received does not match amount expected")
}

func TestNotifyPaymentReconciled(t *testing.T) {
	n := NewNotifier("noreply@learnhub.local", "LearnHub", "smtp.test", "1025", "", "")

	var gotAddr string
	var gotTo []string
	var gotMsg string
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotTo = to
		gotMsg = string(msg)
		assert.Nil(t, a)
		return nil
	}

	err := n.NotifyPaymentReconciled(context.Background(), &models.PaymentReconciledEvent{
		Email:            "ada@example.com",
		PaymentReference: "ref-1",
		Status:           models.SubscriptionStatusSuccess,
	})

	require.NoError(t, err)
	assert.Equal(t, "smtp.test:1025", gotAddr)
	assert.Equal(t, []string{"ada@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Payment confirmed - ref-1\r\n")
	assert.Contains(t, gotMsg, "From: LearnHub <noreply@learnhub.local>\r\n")
}

func TestNotifyPaymentReconciled_Errors(t *testing.T) {
	n := NewNotifier("noreply@learnhub.local", "LearnHub", "smtp.test", "1025", "", "")
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return assert.AnError
	}

	err := n.NotifyPaymentReconciled(context.Background(), &models.PaymentReconciledEvent{})
	assert.ErrorIs(t, err, ErrNoRecipient)

	err = n.NotifyPaymentReconciled(context.Background(), &models.PaymentReconciledEvent{Email: "ada@example.com"})
	assert.ErrorIs(t, err, assert.AnError)
}
