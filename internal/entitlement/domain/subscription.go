// Package domain holds the subscription entitlement model and the status
// state machine derived from the billing authority's purchase fields.
package domain

import "time"

// Status is the derived subscription state gating paid features.
type Status string

const (
	StatusNone      Status = "none"
	StatusActive    Status = "active"
	StatusGrace     Status = "grace"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// PaymentStatePending is the billing authority's payment-pending marker.
const PaymentStatePending = 0

// GraceDays is the number of days after the billed period end during which
// access is not yet revoked, pending payment retry.
const GraceDays = 7

// SubscriptionRecord is the persisted outcome of one successful verification.
// There is one record per user (upsert key UserID) and at most one
// PurchaseToken-to-UserID binding system-wide.
type SubscriptionRecord struct {
	UserID         string
	Status         Status
	PurchaseToken  string
	OrderID        string
	ProductID      string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	GraceEnd       time.Time
	LastVerifiedAt time.Time
}

// DetermineStatus derives the subscription status from the billing authority's
// payment state, optional cancel reason, and billed period end. Pure function;
// nil pointers mean the field was absent from the authority's response.
func DetermineStatus(paymentState, cancelReason *int, periodEnd, now time.Time) Status {
	if paymentState != nil && *paymentState == PaymentStatePending {
		return StatusGrace
	}
	if cancelReason != nil {
		if periodEnd.After(now) {
			return StatusCancelled
		}
		return StatusExpired
	}
	if periodEnd.Before(now) {
		return StatusExpired
	}
	return StatusActive
}

// GraceEnd is always periodEnd + GraceDays, independent of status, so clients
// can show a grace countdown even while the subscription is active.
func GraceEnd(periodEnd time.Time) time.Time {
	return periodEnd.Add(GraceDays * 24 * time.Hour)
}
