// Package services contains the checkout and fulfillment core: stock
// reservation, coupon validation, order state transitions, payment event
// reconciliation and the cancellation and return workflows.
package services

import (
	"context"
	"time"

	domain "github.com/linenloft/api/internal/domain"
)

// CheckoutItem is one requested line in a checkout command.
type CheckoutItem struct {
	VariantID string
	Quantity  int
}

// CheckoutCommand carries everything needed to place an order and open a
// hosted payment session.
type CheckoutCommand struct {
	Customer        domain.CustomerContact
	ShippingAddress domain.Address
	Items           []CheckoutItem
	CouponCode      string
	SuccessURL      string
	CancelURL       string
}

// CheckoutResult is returned on successful checkout. RedirectURL points the
// customer at the hosted payment page.
type CheckoutResult struct {
	OrderID     string
	OrderNumber string
	RedirectURL string
	Total       int64
}

// CheckoutService places orders: it validates input, reserves stock,
// applies coupons, prices the order and opens the payment session.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// InventoryService wraps the stock ledger with input validation and error
// translation.
type InventoryService interface {
	Reserve(ctx context.Context, variantID string, qty int) error
	Restore(ctx context.Context, variantID string, qty int) error
	Availability(ctx context.Context, variantID string) (domain.Variant, error)
}

// CouponService validates coupon codes against an order amount and customer.
type CouponService interface {
	// Validate checks eligibility and computes the discount for the given
	// pre-discount amount. It never mutates usage counts; redemption is
	// recorded when payment confirms.
	Validate(ctx context.Context, code, customerEmail string, amount int64) (domain.CouponApplication, error)
}

// OrderService exposes the fulfillment transitions and the order read
// surface.
type OrderService interface {
	Get(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, query OrderListQuery) ([]domain.Order, error)
	MarkShipped(ctx context.Context, orderID string) (domain.Order, error)
	MarkDelivered(ctx context.Context, orderID string) (domain.Order, error)
	// RequestInvoice emits an invoice notification for a paid or later
	// order without changing its state.
	RequestInvoice(ctx context.Context, orderID string) error
}

// OrderListQuery filters the admin order listing.
type OrderListQuery struct {
	Status []domain.OrderStatus
	Email  string
	Limit  int
}

// PaymentEventService reconciles processor webhook deliveries with local
// order state.
type PaymentEventService interface {
	// HandleWebhook verifies and applies one raw webhook delivery. A nil
	// error means the delivery is consumed and must be acknowledged;
	// ErrWebhookInvalidSignature means the payload was rejected unread.
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (WebhookOutcome, error)
}

// WebhookOutcome reports what a webhook delivery did, mostly for logging
// and metrics.
type WebhookOutcome struct {
	EventID   string
	EventType string
	OrderID   string
	Applied   bool
	Outcome   string
}

// CancelCommand asks to cancel a paid order before shipment.
type CancelCommand struct {
	OrderID string
	Reason  string
}

// ReturnRequestItem selects an order line and quantity for return.
type ReturnRequestItem struct {
	OrderLineID string
	Quantity    int
	Reason      string
}

// ReturnRequestCommand opens a return for a delivered order.
type ReturnRequestCommand struct {
	OrderID string
	Items   []ReturnRequestItem
	Reason  string
}

// ReturnCompleteItem controls per-item restocking when a received return is
// completed. Items not listed keep their requested restock flag.
type ReturnCompleteItem struct {
	OrderLineID string
	Restock     bool
}

// ReturnService owns cancellation and the post-delivery return workflow.
type ReturnService interface {
	Cancel(ctx context.Context, cmd CancelCommand) (domain.Order, error)
	RequestReturn(ctx context.Context, cmd ReturnRequestCommand) (domain.Return, error)
	ApproveReturn(ctx context.Context, returnID string) (domain.Return, error)
	RejectReturn(ctx context.Context, returnID, reason string) (domain.Return, error)
	MarkReturnReceived(ctx context.Context, returnID string) (domain.Return, error)
	CompleteReturn(ctx context.Context, returnID string, items []ReturnCompleteItem) (domain.Return, error)
	GetReturn(ctx context.Context, returnID string) (domain.Return, error)
	ListReturns(ctx context.Context, orderID string) ([]domain.Return, error)
}

// Notification is an outbound customer or operator message. Delivery is
// fire-and-forget: a failed send never fails the state change that caused
// it.
type Notification struct {
	Kind       string
	OrderID    string
	ReturnID   string
	Email      string
	OccurredAt time.Time
	Fields     map[string]string
}

// Notifier publishes notifications to the delivery channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NopNotifier drops all notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) {}
