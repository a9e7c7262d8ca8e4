package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid input parameters.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the requested transition is not allowed
	// from the order's current status.
	ErrOrderInvalidState = errors.New("order: invalid state transition")
	// ErrOrderUnavailable indicates order storage is currently unreachable.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// orderStateTransitions enumerates the allowed forward edges of the order
// lifecycle. Self-transitions are treated as no-ops by canTransition.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {
		domain.OrderStatusPaid,
		domain.OrderStatusPaymentFailed,
		// Session expiry cancels an unpaid order.
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusPaid: {
		domain.OrderStatusShipped,
		domain.OrderStatusCancelled,
		domain.OrderStatusCancelledRefundPending,
	},
	domain.OrderStatusShipped: {
		domain.OrderStatusDelivered,
	},
	domain.OrderStatusDelivered: {
		domain.OrderStatusReturnRequested,
	},
	domain.OrderStatusReturnRequested: {
		domain.OrderStatusReturnApproved,
		domain.OrderStatusReturnRejected,
	},
	// A rejected return leaves the order eligible for another request
	// while the window is open.
	domain.OrderStatusReturnRejected: {
		domain.OrderStatusReturnRequested,
	},
	domain.OrderStatusReturnApproved: {
		domain.OrderStatusReturnReceived,
	},
	domain.OrderStatusReturnReceived: {
		domain.OrderStatusReturnCompleted,
	},
	domain.OrderStatusCancelledRefundPending: {
		domain.OrderStatusCancelled,
	},
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

// notifiable statuses an invoice can be requested for.
var invoiceEligibleStatuses = []domain.OrderStatus{
	domain.OrderStatusPaid,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
	domain.OrderStatusReturnRequested,
	domain.OrderStatusReturnApproved,
	domain.OrderStatusReturnRejected,
	domain.OrderStatusReturnReceived,
	domain.OrderStatusReturnCompleted,
}

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
	Notifier Notifier
}

type orderService struct {
	orders   repositories.OrderRepository
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	notifier Notifier
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &orderService{
		orders: deps.Orders,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:   logger,
		notifier: notifier,
	}, nil
}

func (s *orderService) Get(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, translateOrderError(err)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, query OrderListQuery) ([]domain.Order, error) {
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status: query.Status,
		Email:  strings.ToLower(strings.TrimSpace(query.Email)),
		Limit:  query.Limit,
	})
	if err != nil {
		return nil, translateOrderError(err)
	}
	return orders, nil
}

// MarkShipped moves a paid order to shipped.
func (s *orderService) MarkShipped(ctx context.Context, orderID string) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusPaid, domain.OrderStatusShipped, "order.shipped")
}

// MarkDelivered moves a shipped order to delivered and starts the return
// window.
func (s *orderService) MarkDelivered(ctx context.Context, orderID string) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusShipped, domain.OrderStatusDelivered, "order.delivered")
}

func (s *orderService) transition(ctx context.Context, orderID string, from, to domain.OrderStatus, event string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, translateOrderError(err)
	}
	if order.Status == to {
		// Repeated admin action; report current state without re-applying.
		return order, nil
	}
	if !canTransition(order.Status, to) || order.Status != from {
		return domain.Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, to)
	}

	applied, err := s.orders.TransitionStatus(ctx, repositories.StatusTransition{
		OrderID: orderID,
		From:    []domain.OrderStatus{from},
		To:      to,
		Now:     s.now(),
	})
	if err != nil {
		return domain.Order{}, translateOrderError(err)
	}
	if !applied {
		return domain.Order{}, fmt.Errorf("%w: concurrent update on %s", ErrOrderInvalidState, orderID)
	}

	updated, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, translateOrderError(err)
	}

	s.logger(ctx, event, map[string]any{
		"orderId": updated.ID,
		"status":  string(updated.Status),
	})
	s.notifier.Notify(ctx, Notification{
		Kind:       event,
		OrderID:    updated.ID,
		Email:      updated.Customer.Email,
		OccurredAt: s.now(),
		Fields: map[string]string{
			"order_number": updated.Number,
			"status":       string(updated.Status),
		},
	})
	return updated, nil
}

// RequestInvoice emits an invoice notification for an order that has been
// paid at some point. State is untouched.
func (s *orderService) RequestInvoice(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return translateOrderError(err)
	}
	if !slices.Contains(invoiceEligibleStatuses, order.Status) {
		return fmt.Errorf("%w: invoice unavailable for %s order", ErrOrderInvalidState, order.Status)
	}

	s.notifier.Notify(ctx, Notification{
		Kind:       "order.invoice_requested",
		OrderID:    order.ID,
		Email:      order.Customer.Email,
		OccurredAt: s.now(),
		Fields: map[string]string{
			"order_number": order.Number,
			"total":        fmt.Sprintf("%d", order.Total),
			"currency":     order.Currency,
		},
	})
	return nil
}

func translateOrderError(err error) error {
	if repoErr, ok := repositories.AsRepositoryError(err); ok {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderInvalidState
		}
	}
	return ErrOrderUnavailable
}
