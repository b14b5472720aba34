package service

import "errors"

// Messages surfaced to API callers
const (
	MsgCourseNotFound  = "Course not found"
	MsgNotPurchased    = "You have not purchased this resource"
	MsgAmountMismatch  = "Amount received does not match amount expected"
	MsgPaymentFailed   = "Payment failed"
	MsgPaymentSuccess  = "Payment successful"
	MsgPaymentPending  = "Payment is still being processed"
	MsgBankUnavailable = "Bank transfer is not yet available; no payment was initiated"
)

var (
	ErrCourseNotFound       = errors.New(MsgCourseNotFound)
	ErrSessionNotFound      = errors.New("course session not found")
	ErrResourceNotFound     = errors.New("course resource not found")
	ErrReferenceNotFound    = errors.New("payment reference not found")
	ErrNotPurchased         = errors.New(MsgNotPurchased)
	ErrAmountMismatch       = errors.New(MsgAmountMismatch)
	ErrPaymentFailed        = errors.New(MsgPaymentFailed)
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrReconcileInProgress  = errors.New("payment reconciliation already in progress")
	ErrPaymentInconclusive  = errors.New("payment not yet completed")
	ErrDuplicateSession     = errors.New("course session listed more than once")
)
