package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/payments"
	"github.com/linenloft/api/internal/repositories"
)

const (
	returnIDPrefix      = "ret_"
	defaultReturnWindow = 14 * 24 * time.Hour
)

var (
	// ErrReturnInvalidInput indicates the caller supplied invalid input parameters.
	ErrReturnInvalidInput = errors.New("return: invalid input")
	// ErrReturnOrderNotFound indicates the order does not exist.
	ErrReturnOrderNotFound = errors.New("return: order not found")
	// ErrReturnNotFound indicates the return record does not exist.
	ErrReturnNotFound = errors.New("return: not found")
	// ErrReturnInvalidState indicates the order or return is not in a state
	// that allows the requested action.
	ErrReturnInvalidState = errors.New("return: invalid state")
	// ErrReturnWindowClosed indicates the delivery happened too long ago.
	ErrReturnWindowClosed = errors.New("return: window closed")
	// ErrReturnAlreadyOpen indicates the order already has an unresolved return.
	ErrReturnAlreadyOpen = errors.New("return: already open for order")
	// ErrReturnQuantityExceeded indicates a requested quantity exceeds the
	// ordered quantity for that line.
	ErrReturnQuantityExceeded = errors.New("return: quantity exceeds ordered amount")
	// ErrReturnUnavailable indicates a dependency is currently unreachable.
	ErrReturnUnavailable = errors.New("return: unavailable")
)

// RefundMetrics is the instrumentation hook for issued refunds.
type RefundMetrics interface {
	ObserveRefund(outcome string)
}

type nopRefundMetrics struct{}

func (nopRefundMetrics) ObserveRefund(string) {}

// ReturnServiceDeps wires the dependencies required by the return service.
type ReturnServiceDeps struct {
	Orders       repositories.OrderRepository
	Returns      repositories.ReturnRepository
	Variants     repositories.VariantRepository
	Payments     payments.Provider
	ReturnWindow time.Duration
	Clock        func() time.Time
	IDGen        func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
	Notifier     Notifier
	Metrics      RefundMetrics
}

type returnService struct {
	orders       repositories.OrderRepository
	returns      repositories.ReturnRepository
	variants     repositories.VariantRepository
	payments     payments.Provider
	returnWindow time.Duration
	now          func() time.Time
	idGen        func() string
	logger       func(ctx context.Context, event string, fields map[string]any)
	notifier     Notifier
	metrics      RefundMetrics
}

// NewReturnService constructs a ReturnService validating required dependencies.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Orders == nil {
		return nil, errors.New("return service: order repository is required")
	}
	if deps.Returns == nil {
		return nil, errors.New("return service: return repository is required")
	}
	if deps.Variants == nil {
		return nil, errors.New("return service: variant repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("return service: payment provider is required")
	}
	window := deps.ReturnWindow
	if window <= 0 {
		window = defaultReturnWindow
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopRefundMetrics{}
	}
	return &returnService{
		orders:       deps.Orders,
		returns:      deps.Returns,
		variants:     deps.Variants,
		payments:     deps.Payments,
		returnWindow: window,
		now: func() time.Time {
			return clock().UTC()
		},
		idGen:    idGen,
		logger:   logger,
		notifier: notifier,
		metrics:  metrics,
	}, nil
}

// Cancel aborts a paid order before shipment. The status claim runs first:
// only the request that wins the CAS performs compensation, so concurrent
// cancels and a racing shipment cannot both act.
func (s *returnService) Cancel(ctx context.Context, cmd CancelCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, ErrReturnInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.translateOrder(err)
	}
	if order.Status != domain.OrderStatusPaid {
		return domain.Order{}, fmt.Errorf("%w: cannot cancel %s order", ErrReturnInvalidState, order.Status)
	}

	now := s.now()
	reason := strings.TrimSpace(cmd.Reason)
	claim := repositories.StatusTransition{
		OrderID: orderID,
		From:    []domain.OrderStatus{domain.OrderStatusPaid},
		To:      domain.OrderStatusCancelled,
		Now:     now,
	}
	if reason != "" {
		claim.CancelReason = &reason
	}
	applied, err := s.orders.TransitionStatus(ctx, claim)
	if err != nil {
		return domain.Order{}, ErrReturnUnavailable
	}
	if !applied {
		return domain.Order{}, fmt.Errorf("%w: order no longer cancellable", ErrReturnInvalidState)
	}

	for _, line := range order.Lines {
		if err := s.variants.Restore(ctx, line.VariantID, line.Quantity); err != nil {
			s.logger(ctx, "cancel.restore_failed", map[string]any{
				"orderId":   orderID,
				"variantId": line.VariantID,
				"error":     err.Error(),
			})
		}
	}

	if err := s.refundOrder(ctx, order, nil, "requested_by_customer", "cancel_"+order.ID); err != nil {
		// Funds are still with us; surface the order for operator retry.
		if _, trErr := s.orders.TransitionStatus(ctx, repositories.StatusTransition{
			OrderID: orderID,
			From:    []domain.OrderStatus{domain.OrderStatusCancelled},
			To:      domain.OrderStatusCancelledRefundPending,
			Now:     s.now(),
		}); trErr != nil {
			s.logger(ctx, "cancel.refund_pending_mark_failed", map[string]any{
				"orderId": orderID,
				"error":   trErr.Error(),
			})
		}
		s.notifier.Notify(ctx, Notification{
			Kind:       "operator.refund_pending",
			OrderID:    orderID,
			OccurredAt: s.now(),
			Fields:     map[string]string{"order_number": order.Number},
		})
	} else {
		s.notifier.Notify(ctx, Notification{
			Kind:       "order.cancelled",
			OrderID:    orderID,
			Email:      order.Customer.Email,
			OccurredAt: s.now(),
			Fields:     map[string]string{"order_number": order.Number},
		})
	}

	updated, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.translateOrder(err)
	}
	return updated, nil
}

// RequestReturn opens a return for a delivered order inside the return
// window. Quantities are bounded by the ordered lines and only one return
// can be open per order.
func (s *returnService) RequestReturn(ctx context.Context, cmd ReturnRequestCommand) (domain.Return, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" || len(cmd.Items) == 0 {
		return domain.Return{}, ErrReturnInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Return{}, s.translateOrder(err)
	}
	switch order.Status {
	case domain.OrderStatusDelivered, domain.OrderStatusReturnRejected:
	case domain.OrderStatusReturnRequested, domain.OrderStatusReturnApproved, domain.OrderStatusReturnReceived:
		return domain.Return{}, ErrReturnAlreadyOpen
	default:
		return domain.Return{}, fmt.Errorf("%w: cannot return %s order", ErrReturnInvalidState, order.Status)
	}
	if order.DeliveredAt == nil {
		return domain.Return{}, fmt.Errorf("%w: delivery timestamp missing", ErrReturnInvalidState)
	}

	now := s.now()
	if now.After(order.DeliveredAt.Add(s.returnWindow)) {
		return domain.Return{}, ErrReturnWindowClosed
	}

	existing, err := s.returns.ListByOrder(ctx, orderID)
	if err != nil {
		return domain.Return{}, ErrReturnUnavailable
	}
	for _, ret := range existing {
		if ret.Open() {
			return domain.Return{}, ErrReturnAlreadyOpen
		}
	}

	linesByID := make(map[string]domain.OrderLine, len(order.Lines))
	for _, line := range order.Lines {
		linesByID[line.ID] = line
	}

	items := make([]domain.ReturnItem, 0, len(cmd.Items))
	seen := make(map[string]struct{}, len(cmd.Items))
	for _, item := range cmd.Items {
		lineID := strings.TrimSpace(item.OrderLineID)
		line, ok := linesByID[lineID]
		if lineID == "" || !ok || item.Quantity <= 0 {
			return domain.Return{}, ErrReturnInvalidInput
		}
		if _, dup := seen[lineID]; dup {
			return domain.Return{}, ErrReturnInvalidInput
		}
		seen[lineID] = struct{}{}
		if item.Quantity > line.Quantity {
			return domain.Return{}, fmt.Errorf("%w: line %s", ErrReturnQuantityExceeded, lineID)
		}
		items = append(items, domain.ReturnItem{
			OrderLineID: lineID,
			VariantID:   line.VariantID,
			Quantity:    item.Quantity,
			Reason:      strings.TrimSpace(item.Reason),
			UnitPrice:   line.UnitPrice,
			Restock:     true,
		})
	}

	ret := domain.Return{
		ID:          returnIDPrefix + s.idGen(),
		OrderID:     orderID,
		Status:      domain.ReturnStatusRequested,
		Items:       items,
		Reason:      strings.TrimSpace(cmd.Reason),
		RequestedAt: now,
		UpdatedAt:   now,
	}
	if err := s.returns.Insert(ctx, ret); err != nil {
		return domain.Return{}, ErrReturnUnavailable
	}

	if _, err := s.orders.TransitionStatus(ctx, repositories.StatusTransition{
		OrderID: orderID,
		From:    []domain.OrderStatus{domain.OrderStatusDelivered, domain.OrderStatusReturnRejected},
		To:      domain.OrderStatusReturnRequested,
		Now:     now,
	}); err != nil {
		s.logger(ctx, "return.order_mark_failed", map[string]any{
			"orderId":  orderID,
			"returnId": ret.ID,
			"error":    err.Error(),
		})
	}

	s.notifier.Notify(ctx, Notification{
		Kind:       "return.requested",
		OrderID:    orderID,
		ReturnID:   ret.ID,
		Email:      order.Customer.Email,
		OccurredAt: now,
		Fields:     map[string]string{"order_number": order.Number},
	})
	return ret, nil
}

// ApproveReturn accepts a requested return and freezes the refund amount
// from the prices recorded at checkout.
func (s *returnService) ApproveReturn(ctx context.Context, returnID string) (domain.Return, error) {
	ret, err := s.getReturn(ctx, returnID)
	if err != nil {
		return domain.Return{}, err
	}

	refund := int64(0)
	for _, item := range ret.Items {
		refund += item.UnitPrice * int64(item.Quantity)
	}

	now := s.now()
	applied, err := s.returns.TransitionStatus(ctx, repositories.ReturnStatusTransition{
		ReturnID:     ret.ID,
		From:         []domain.ReturnStatus{domain.ReturnStatusRequested},
		To:           domain.ReturnStatusApproved,
		Now:          now,
		RefundAmount: &refund,
	})
	if err != nil {
		return domain.Return{}, ErrReturnUnavailable
	}
	if !applied {
		return domain.Return{}, fmt.Errorf("%w: return is %s", ErrReturnInvalidState, ret.Status)
	}

	s.markOrderForReturn(ctx, ret.OrderID, domain.OrderStatusReturnRequested, domain.OrderStatusReturnApproved, now)
	s.notifyReturn(ctx, ret, "return.approved", now)
	return s.getReturn(ctx, returnID)
}

// RejectReturn declines a requested return with a mandatory reason.
func (s *returnService) RejectReturn(ctx context.Context, returnID, reason string) (domain.Return, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Return{}, ErrReturnInvalidInput
	}
	ret, err := s.getReturn(ctx, returnID)
	if err != nil {
		return domain.Return{}, err
	}

	now := s.now()
	applied, err := s.returns.TransitionStatus(ctx, repositories.ReturnStatusTransition{
		ReturnID:     ret.ID,
		From:         []domain.ReturnStatus{domain.ReturnStatusRequested},
		To:           domain.ReturnStatusRejected,
		Now:          now,
		RejectReason: &reason,
	})
	if err != nil {
		return domain.Return{}, ErrReturnUnavailable
	}
	if !applied {
		return domain.Return{}, fmt.Errorf("%w: return is %s", ErrReturnInvalidState, ret.Status)
	}

	s.markOrderForReturn(ctx, ret.OrderID, domain.OrderStatusReturnRequested, domain.OrderStatusReturnRejected, now)
	s.notifyReturn(ctx, ret, "return.rejected", now)
	return s.getReturn(ctx, returnID)
}

// MarkReturnReceived records that the goods arrived back at the warehouse.
func (s *returnService) MarkReturnReceived(ctx context.Context, returnID string) (domain.Return, error) {
	ret, err := s.getReturn(ctx, returnID)
	if err != nil {
		return domain.Return{}, err
	}

	now := s.now()
	applied, err := s.returns.TransitionStatus(ctx, repositories.ReturnStatusTransition{
		ReturnID: ret.ID,
		From:     []domain.ReturnStatus{domain.ReturnStatusApproved},
		To:       domain.ReturnStatusReceived,
		Now:      now,
	})
	if err != nil {
		return domain.Return{}, ErrReturnUnavailable
	}
	if !applied {
		return domain.Return{}, fmt.Errorf("%w: return is %s", ErrReturnInvalidState, ret.Status)
	}

	s.markOrderForReturn(ctx, ret.OrderID, domain.OrderStatusReturnApproved, domain.OrderStatusReturnReceived, now)
	s.notifyReturn(ctx, ret, "return.received", now)
	return s.getReturn(ctx, returnID)
}

// CompleteReturn issues the refund and, once the refund is confirmed,
// restocks sellable items. The status claim runs before the refund call so
// a double invocation can never refund twice.
func (s *returnService) CompleteReturn(ctx context.Context, returnID string, items []ReturnCompleteItem) (domain.Return, error) {
	ret, err := s.getReturn(ctx, returnID)
	if err != nil {
		return domain.Return{}, err
	}
	if ret.Status != domain.ReturnStatusReceived {
		return domain.Return{}, fmt.Errorf("%w: return is %s", ErrReturnInvalidState, ret.Status)
	}

	restockByLine := make(map[string]bool, len(items))
	for _, item := range items {
		restockByLine[strings.TrimSpace(item.OrderLineID)] = item.Restock
	}

	order, err := s.orders.FindByID(ctx, ret.OrderID)
	if err != nil {
		return domain.Return{}, s.translateOrder(err)
	}

	now := s.now()
	applied, err := s.returns.TransitionStatus(ctx, repositories.ReturnStatusTransition{
		ReturnID: ret.ID,
		From:     []domain.ReturnStatus{domain.ReturnStatusReceived},
		To:       domain.ReturnStatusCompleted,
		Now:      now,
	})
	if err != nil {
		return domain.Return{}, ErrReturnUnavailable
	}
	if !applied {
		return domain.Return{}, fmt.Errorf("%w: return already completed", ErrReturnInvalidState)
	}

	refund := ret.RefundAmount
	if err := s.refundOrder(ctx, order, &refund, "requested_by_customer", "return_"+ret.ID); err != nil {
		// The completion stands; the refund and the restock move to operator
		// follow-up so unrefunded goods never go back on sale.
		s.notifier.Notify(ctx, Notification{
			Kind:       "operator.refund_pending",
			OrderID:    order.ID,
			ReturnID:   ret.ID,
			OccurredAt: now,
			Fields:     map[string]string{"order_number": order.Number},
		})
	} else {
		for _, item := range ret.Items {
			restock := item.Restock
			if override, ok := restockByLine[item.OrderLineID]; ok {
				restock = override
			}
			if !restock {
				continue
			}
			if err := s.variants.Restore(ctx, item.VariantID, item.Quantity); err != nil {
				s.logger(ctx, "return.restock_failed", map[string]any{
					"returnId":  ret.ID,
					"variantId": item.VariantID,
					"error":     err.Error(),
				})
			}
		}
	}

	s.markOrderForReturn(ctx, ret.OrderID, domain.OrderStatusReturnReceived, domain.OrderStatusReturnCompleted, now)
	s.notifyReturn(ctx, ret, "return.completed", now)
	return s.getReturn(ctx, returnID)
}

func (s *returnService) GetReturn(ctx context.Context, returnID string) (domain.Return, error) {
	return s.getReturn(ctx, returnID)
}

func (s *returnService) ListReturns(ctx context.Context, orderID string) ([]domain.Return, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, ErrReturnInvalidInput
	}
	rets, err := s.returns.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, ErrReturnUnavailable
	}
	return rets, nil
}

func (s *returnService) getReturn(ctx context.Context, returnID string) (domain.Return, error) {
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return domain.Return{}, ErrReturnInvalidInput
	}
	ret, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		if repoErr, ok := repositories.AsRepositoryError(err); ok && repoErr.IsNotFound() {
			return domain.Return{}, ErrReturnNotFound
		}
		return domain.Return{}, ErrReturnUnavailable
	}
	return ret, nil
}

func (s *returnService) refundOrder(ctx context.Context, order domain.Order, amount *int64, reason, idempotencyKey string) error {
	if order.PaymentIntentRef == nil || strings.TrimSpace(*order.PaymentIntentRef) == "" {
		s.metrics.ObserveRefund("missing_intent")
		return fmt.Errorf("order %s has no payment intent reference", order.ID)
	}
	_, err := s.payments.Refund(ctx, payments.RefundRequest{
		IntentID:       *order.PaymentIntentRef,
		Amount:         amount,
		Reason:         reason,
		Metadata:       map[string]string{"order_id": order.ID},
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		s.metrics.ObserveRefund("failed")
		s.logger(ctx, "refund.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return err
	}
	s.metrics.ObserveRefund("issued")
	s.logger(ctx, "refund.issued", map[string]any{
		"orderId": order.ID,
	})
	return nil
}

func (s *returnService) markOrderForReturn(ctx context.Context, orderID string, from, to domain.OrderStatus, now time.Time) {
	if _, err := s.orders.TransitionStatus(ctx, repositories.StatusTransition{
		OrderID: orderID,
		From:    []domain.OrderStatus{from},
		To:      to,
		Now:     now,
	}); err != nil {
		s.logger(ctx, "return.order_mark_failed", map[string]any{
			"orderId": orderID,
			"status":  string(to),
			"error":   err.Error(),
		})
	}
}

func (s *returnService) notifyReturn(ctx context.Context, ret domain.Return, kind string, now time.Time) {
	s.notifier.Notify(ctx, Notification{
		Kind:       kind,
		OrderID:    ret.OrderID,
		ReturnID:   ret.ID,
		OccurredAt: now,
	})
}

func (s *returnService) translateOrder(err error) error {
	if repoErr, ok := repositories.AsRepositoryError(err); ok && repoErr.IsNotFound() {
		return ErrReturnOrderNotFound
	}
	return ErrReturnUnavailable
}

var _ ReturnService = (*returnService)(nil)
