package repositories

import (
	"context"
	"time"

	domain "github.com/linenloft/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for
// dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Variants() VariantRepository
	Orders() OrderRepository
	Coupons() CouponRepository
	Returns() ReturnRepository
	Counters() CounterRepository
	UnitOfWork
}

// UnitOfWork groups repository operations into a transactional boundary when
// the backing store supports it.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// VariantRepository manages per-variant stock counts. Reserve and Restore
// are atomic single-statement mutations at the store; the stock count can
// never be observed negative.
type VariantRepository interface {
	// Reserve decrements stock only when at least qty units remain. It
	// returns a KindInsufficientStock error, without side effects, when the
	// conditional decrement matches no row for an existing variant.
	Reserve(ctx context.Context, variantID string, qty int) error
	// Restore increments stock. Idempotency is the caller's concern; the
	// order status tracks whether a restore already happened.
	Restore(ctx context.Context, variantID string, qty int) error
	Get(ctx context.Context, variantID string) (domain.Variant, error)
	Upsert(ctx context.Context, variant domain.Variant) error
}

// StatusTransition is a conditional order status update. The store applies
// it as a single compare-and-set; Applied is false when the order was not in
// any of the From statuses, which callers treat as "already handled".
type StatusTransition struct {
	OrderID      string
	From         []domain.OrderStatus
	To           domain.OrderStatus
	Now          time.Time
	Total        *int64
	CancelReason *string
}

// OrderRepository persists order headers and lines.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindBySessionRef(ctx context.Context, sessionRef string) (domain.Order, error)
	// TransitionStatus performs the atomic check-and-set described on
	// StatusTransition and reports whether a row was updated.
	TransitionStatus(ctx context.Context, tr StatusTransition) (bool, error)
	SetPaymentSession(ctx context.Context, orderID, sessionRef, intentRef string, now time.Time) error
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
}

// OrderListFilter bounds admin order listings.
type OrderListFilter struct {
	Status []domain.OrderStatus
	Email  string
	Limit  int
}

// CouponRepository stores coupon definitions and binding usage records.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	CustomerHasUsed(ctx context.Context, couponID, customerEmail string) (bool, error)
	// RecordUsage inserts the usage tuple and bumps the coupon's used count.
	// A duplicate (coupon, email, order) tuple reports false with no error so
	// redelivered payment events stay idempotent.
	RecordUsage(ctx context.Context, usage domain.CouponUsage) (bool, error)
}

// ReturnStatusTransition is the compare-and-set analogue for returns.
type ReturnStatusTransition struct {
	ReturnID     string
	From         []domain.ReturnStatus
	To           domain.ReturnStatus
	Now          time.Time
	RefundAmount *int64
	RejectReason *string
}

// ReturnRepository persists return requests and their items.
type ReturnRepository interface {
	Insert(ctx context.Context, ret domain.Return) error
	FindByID(ctx context.Context, returnID string) (domain.Return, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Return, error)
	// TransitionStatus performs an atomic check-and-set and reports whether a
	// row was updated.
	TransitionStatus(ctx context.Context, tr ReturnStatusTransition) (bool, error)
}

// CounterRepository provides transaction-safe sequence numbers for
// human-facing order numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string) (int64, error)
}
