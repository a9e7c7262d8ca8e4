package domain

import (
	"time"
)

// Variant identifies one purchasable size/SKU of a product and is the unit
// of stock tracking.
type Variant struct {
	ID          string
	ProductID   string
	ProductName string
	SKU         string
	Size        string
	// UnitPrice is the current catalog price in minor currency units. Orders
	// freeze it onto their lines at checkout.
	UnitPrice  int64
	StockCount int
	UpdatedAt  time.Time
}

// OrderStatus describes lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates stock is reserved and payment is outstanding.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates the processor confirmed the charge.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped indicates fulfillment handed the parcel to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the parcel reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled and compensated.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusCancelledRefundPending indicates cancellation succeeded but the
	// refund request failed and needs operator attention.
	OrderStatusCancelledRefundPending OrderStatus = "cancelled_refund_pending"
	// OrderStatusPaymentFailed indicates the payment session failed or expired
	// without a charge.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	// OrderStatusReturnRequested indicates the customer opened a return.
	OrderStatusReturnRequested OrderStatus = "return_requested"
	// OrderStatusReturnApproved indicates an operator accepted the return.
	OrderStatusReturnApproved OrderStatus = "return_approved"
	// OrderStatusReturnRejected indicates an operator declined the return.
	OrderStatusReturnRejected OrderStatus = "return_rejected"
	// OrderStatusReturnReceived indicates the goods arrived back at the warehouse.
	OrderStatusReturnReceived OrderStatus = "return_received"
	// OrderStatusReturnCompleted indicates the refund was issued for the return.
	OrderStatusReturnCompleted OrderStatus = "return_completed"
)

// CustomerContact carries the customer-facing identity attached to an order.
type CustomerContact struct {
	Name  string
	Email string
	Phone string
}

// Address is a shipping destination snapshot frozen onto the order.
type Address struct {
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
}

// OrderLine is one reserved unit-group within an order. The unit price is
// frozen at order creation and never recalculated from the catalog.
type OrderLine struct {
	ID          string
	OrderID     string
	VariantID   string
	ProductID   string
	ProductName string
	SKU         string
	Size        string
	Quantity    int
	UnitPrice   int64
}

// Order is the aggregate root of a purchase. Amounts are minor units.
// The invariant Total = Subtotal - DiscountAmount + ShippingCost holds for
// every persisted order, and Total is never negative.
type Order struct {
	ID                string
	Number            string
	Status            OrderStatus
	Customer          CustomerContact
	ShippingAddress   Address
	Lines             []OrderLine
	Subtotal          int64
	DiscountAmount    int64
	ShippingCost      int64
	Total             int64
	Currency          string
	CouponID          *string
	CouponCode        *string
	PaymentSessionRef *string
	PaymentIntentRef  *string
	CancelReason      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PaidAt            *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
}

// DiscountType enumerates supported coupon discount shapes.
type DiscountType string

const (
	// DiscountTypePercentage applies a percentage of the cart total.
	DiscountTypePercentage DiscountType = "percentage"
	// DiscountTypeFixed applies a fixed amount in minor units.
	DiscountTypeFixed DiscountType = "fixed"
)

// Coupon is a discount code definition with validity and usage bounds.
type Coupon struct {
	ID            string
	Code          string
	DiscountType  DiscountType
	DiscountValue int64
	MinimumAmount int64
	UsageLimit    int
	UsedCount     int
	StartsAt      time.Time
	EndsAt        time.Time
	Active        bool
}

// CouponApplication is the advisory result of validating a coupon against a
// cart. DiscountAmount is clamped so it never exceeds the cart total.
type CouponApplication struct {
	CouponID       string
	Code           string
	DiscountType   DiscountType
	DiscountValue  int64
	DiscountAmount int64
}

// CouponUsage records a redeemed coupon for one customer and order. The
// (CouponID, CustomerEmail, OrderID) tuple is unique so redelivered payment
// events cannot double-count usage.
type CouponUsage struct {
	CouponID      string
	CustomerEmail string
	OrderID       string
	UsedAt        time.Time
}

// ReturnStatus describes lifecycle states for return requests.
type ReturnStatus string

const (
	// ReturnStatusRequested indicates the customer opened the return.
	ReturnStatusRequested ReturnStatus = "requested"
	// ReturnStatusApproved indicates an operator accepted the return.
	ReturnStatusApproved ReturnStatus = "approved"
	// ReturnStatusRejected indicates an operator declined the return.
	ReturnStatusRejected ReturnStatus = "rejected"
	// ReturnStatusReceived indicates the goods are physically back in hand.
	ReturnStatusReceived ReturnStatus = "received"
	// ReturnStatusCompleted indicates the refund was issued; the record is
	// immutable from here on.
	ReturnStatusCompleted ReturnStatus = "completed"
)

// ReturnItem is one order line (or part of it) included in a return request.
// Restock is a per-item operator decision; defective items stay written off.
type ReturnItem struct {
	OrderLineID string
	VariantID   string
	Quantity    int
	Reason      string
	UnitPrice   int64
	Restock     bool
}

// Return is a post-delivery request to send back one or more order lines.
// RefundAmount is computed from the approved items' frozen purchase prices,
// never entered freely.
type Return struct {
	ID           string
	OrderID      string
	Status       ReturnStatus
	Items        []ReturnItem
	Reason       string
	RejectReason *string
	RefundAmount int64
	RequestedAt  time.Time
	ApprovedAt   *time.Time
	RejectedAt   *time.Time
	ReceivedAt   *time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// Open reports whether the return still blocks a new return request on the
// same order.
func (r Return) Open() bool {
	switch r.Status {
	case ReturnStatusRequested, ReturnStatusApproved, ReturnStatusReceived:
		return true
	}
	return false
}
