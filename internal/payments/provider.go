// Package payments abstracts the hosted payment processor behind a narrow
// provider interface so services never touch processor SDK types directly.
package payments

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidSignature is returned by ParseWebhookEvent when the payload
// signature does not verify against the endpoint secret.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// SessionItem is a single purchasable line presented on the hosted payment
// page. Amount is the unit price in minor currency units.
type SessionItem struct {
	Name        string
	Description string
	SKU         string
	Amount      int64
	Quantity    int64
}

// CheckoutSessionRequest describes the hosted session to create for an
// order that was just placed.
type CheckoutSessionRequest struct {
	OrderID        string
	OrderNumber    string
	CustomerEmail  string
	Currency       string
	Items          []SessionItem
	DiscountAmount int64
	ShippingCost   int64
	SuccessURL     string
	CancelURL      string
	ExpiresIn      time.Duration
	Metadata       map[string]string
	IdempotencyKey string
}

// CheckoutSession is the provider's handle for a created hosted session.
type CheckoutSession struct {
	ID          string
	IntentID    string
	RedirectURL string
	ExpiresAt   time.Time
}

// RefundRequest asks the processor to return funds captured for an intent.
// A nil Amount refunds the full captured amount.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Reason         string
	Metadata       map[string]string
	IdempotencyKey string
}

// Refund reports the processor's view of an issued refund.
type Refund struct {
	ID       string
	IntentID string
	Amount   int64
	Status   string
}

// EventKind classifies an incoming processor notification after signature
// verification.
type EventKind string

const (
	// EventPaymentSucceeded covers both synchronous and delayed capture
	// confirmations.
	EventPaymentSucceeded EventKind = "payment_succeeded"
	// EventSessionExpired fires when the customer abandoned the hosted page.
	EventSessionExpired EventKind = "session_expired"
	// EventPaymentFailed fires when a delayed payment method was declined.
	EventPaymentFailed EventKind = "payment_failed"
	// EventIgnored marks event types this system does not act on.
	EventIgnored EventKind = "ignored"
)

// WebhookEvent is the normalized form of a verified processor notification.
type WebhookEvent struct {
	ID          string
	Kind        EventKind
	Type        string
	SessionID   string
	IntentID    string
	AmountTotal int64
	Currency    string
	Metadata    map[string]string
}

// Provider is the payment processor contract the checkout core depends on.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	Refund(ctx context.Context, req RefundRequest) (Refund, error)
	// ParseWebhookEvent verifies the payload signature before any decoding
	// and returns ErrInvalidSignature when verification fails.
	ParseWebhookEvent(payload []byte, signatureHeader string) (WebhookEvent, error)
}
