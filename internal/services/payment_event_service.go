package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/payments"
	"github.com/linenloft/api/internal/repositories"
)

var (
	// ErrWebhookInvalidSignature indicates the delivery failed signature
	// verification and must be rejected without acknowledgement.
	ErrWebhookInvalidSignature = errors.New("payment events: invalid signature")
	// ErrWebhookUnavailable indicates a dependency failed while applying the
	// event; the processor should redeliver.
	ErrWebhookUnavailable = errors.New("payment events: unavailable")
)

// Webhook outcome labels, also used as metric label values.
const (
	OutcomeApplied      = "applied"
	OutcomeAlreadyDone  = "already_handled"
	OutcomeIgnored      = "ignored"
	OutcomeOrderMissing = "order_missing"
)

// PaymentEventMetrics is the slice of instrumentation the reconciler feeds.
type PaymentEventMetrics interface {
	ObserveWebhook(eventType, outcome string)
}

type nopPaymentEventMetrics struct{}

func (nopPaymentEventMetrics) ObserveWebhook(string, string) {}

// PaymentEventServiceDeps wires the dependencies required by the reconciler.
type PaymentEventServiceDeps struct {
	Orders   repositories.OrderRepository
	Variants repositories.VariantRepository
	Coupons  repositories.CouponRepository
	Payments payments.Provider
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
	Notifier Notifier
	Metrics  PaymentEventMetrics
}

type paymentEventService struct {
	orders   repositories.OrderRepository
	variants repositories.VariantRepository
	coupons  repositories.CouponRepository
	payments payments.Provider
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	notifier Notifier
	metrics  PaymentEventMetrics
}

// NewPaymentEventService constructs a PaymentEventService validating required dependencies.
func NewPaymentEventService(deps PaymentEventServiceDeps) (PaymentEventService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment event service: order repository is required")
	}
	if deps.Variants == nil {
		return nil, errors.New("payment event service: variant repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("payment event service: coupon repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment event service: payment provider is required")
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
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopPaymentEventMetrics{}
	}
	return &paymentEventService{
		orders:   deps.Orders,
		variants: deps.Variants,
		coupons:  deps.Coupons,
		payments: deps.Payments,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:   logger,
		notifier: notifier,
		metrics:  metrics,
	}, nil
}

// HandleWebhook verifies the delivery signature before anything else, then
// applies the event through a status compare-and-set. Redeliveries and
// out-of-order events lose the CAS and are acknowledged as no-ops.
func (s *paymentEventService) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (WebhookOutcome, error) {
	event, err := s.payments.ParseWebhookEvent(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			s.logger(ctx, "payment_events.invalid_signature", map[string]any{
				"error": err.Error(),
			})
			return WebhookOutcome{}, ErrWebhookInvalidSignature
		}
		return WebhookOutcome{}, ErrWebhookUnavailable
	}

	outcome := WebhookOutcome{EventID: event.ID, EventType: event.Type}
	if event.Kind == payments.EventIgnored {
		outcome.Outcome = OutcomeIgnored
		s.metrics.ObserveWebhook(event.Type, OutcomeIgnored)
		return outcome, nil
	}

	order, err := s.resolveOrder(ctx, event)
	if err != nil {
		if repoErr, ok := repositories.AsRepositoryError(err); ok && repoErr.IsNotFound() {
			// An event for an unknown order is logged and acknowledged so
			// the processor stops redelivering it.
			s.logger(ctx, "payment_events.order_missing", map[string]any{
				"eventId":   event.ID,
				"sessionId": event.SessionID,
			})
			outcome.Outcome = OutcomeOrderMissing
			s.metrics.ObserveWebhook(event.Type, OutcomeOrderMissing)
			return outcome, nil
		}
		return WebhookOutcome{}, ErrWebhookUnavailable
	}
	outcome.OrderID = order.ID

	switch event.Kind {
	case payments.EventPaymentSucceeded:
		outcome.Applied, err = s.applyPaymentSucceeded(ctx, order, event)
	case payments.EventSessionExpired:
		outcome.Applied, err = s.applySessionExpired(ctx, order, event)
	case payments.EventPaymentFailed:
		outcome.Applied, err = s.applyPaymentFailed(ctx, order, event)
	default:
		outcome.Outcome = OutcomeIgnored
		s.metrics.ObserveWebhook(event.Type, OutcomeIgnored)
		return outcome, nil
	}
	if err != nil {
		return WebhookOutcome{}, err
	}

	if outcome.Applied {
		outcome.Outcome = OutcomeApplied
	} else {
		outcome.Outcome = OutcomeAlreadyDone
	}
	s.metrics.ObserveWebhook(event.Type, outcome.Outcome)
	return outcome, nil
}

func (s *paymentEventService) resolveOrder(ctx context.Context, event payments.WebhookEvent) (domain.Order, error) {
	if orderID := strings.TrimSpace(event.Metadata["order_id"]); orderID != "" {
		order, err := s.orders.FindByID(ctx, orderID)
		if err == nil {
			return order, nil
		}
		if repoErr, ok := repositories.AsRepositoryError(err); !ok || !repoErr.IsNotFound() {
			return domain.Order{}, err
		}
	}
	return s.orders.FindBySessionRef(ctx, event.SessionID)
}

// applyPaymentSucceeded confirms the order. The processor's charged amount
// is authoritative and overwrites the local total when present.
func (s *paymentEventService) applyPaymentSucceeded(ctx context.Context, order domain.Order, event payments.WebhookEvent) (bool, error) {
	now := s.now()
	tr := repositories.StatusTransition{
		OrderID: order.ID,
		From:    []domain.OrderStatus{domain.OrderStatusPending},
		To:      domain.OrderStatusPaid,
		Now:     now,
	}
	if event.AmountTotal > 0 {
		amount := event.AmountTotal
		tr.Total = &amount
	}

	applied, err := s.orders.TransitionStatus(ctx, tr)
	if err != nil {
		return false, ErrWebhookUnavailable
	}
	if !applied {
		// Redelivery, or the session expired locally first. Either way the
		// effects already ran or must not run.
		return false, nil
	}

	if event.AmountTotal > 0 && event.AmountTotal != order.Total {
		s.logger(ctx, "payment_events.amount_reconciled", map[string]any{
			"orderId":   order.ID,
			"local":     order.Total,
			"processor": event.AmountTotal,
		})
	}

	if order.CouponID != nil {
		recorded, err := s.coupons.RecordUsage(ctx, domain.CouponUsage{
			CouponID:      *order.CouponID,
			CustomerEmail: order.Customer.Email,
			OrderID:       order.ID,
			UsedAt:        now,
		})
		if err != nil {
			// The order is paid; usage recording must not bounce the event.
			s.logger(ctx, "payment_events.coupon_usage_failed", map[string]any{
				"orderId":  order.ID,
				"couponId": *order.CouponID,
				"error":    err.Error(),
			})
		} else if !recorded {
			s.logger(ctx, "payment_events.coupon_usage_duplicate", map[string]any{
				"orderId":  order.ID,
				"couponId": *order.CouponID,
			})
		}
	}

	if event.IntentID != "" {
		if err := s.orders.SetPaymentSession(ctx, order.ID, event.SessionID, event.IntentID, now); err != nil {
			s.logger(ctx, "payment_events.intent_ref_persist_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}

	s.logger(ctx, "payment_events.order_paid", map[string]any{
		"orderId": order.ID,
		"eventId": event.ID,
	})
	s.notifier.Notify(ctx, Notification{
		Kind:       "order.confirmed",
		OrderID:    order.ID,
		Email:      order.Customer.Email,
		OccurredAt: now,
		Fields: map[string]string{
			"order_number": order.Number,
		},
	})
	s.notifier.Notify(ctx, Notification{
		Kind:       "operator.order_paid",
		OrderID:    order.ID,
		OccurredAt: now,
		Fields: map[string]string{
			"order_number": order.Number,
		},
	})
	return true, nil
}

// applySessionExpired cancels a still-pending order whose hosted session ran
// out and puts the reserved stock back. An already-paid order is left
// untouched.
func (s *paymentEventService) applySessionExpired(ctx context.Context, order domain.Order, event payments.WebhookEvent) (bool, error) {
	now := s.now()
	applied, err := s.orders.TransitionStatus(ctx, repositories.StatusTransition{
		OrderID: order.ID,
		From:    []domain.OrderStatus{domain.OrderStatusPending},
		To:      domain.OrderStatusCancelled,
		Now:     now,
	})
	if err != nil {
		return false, ErrWebhookUnavailable
	}
	if !applied {
		return false, nil
	}

	s.restoreLines(ctx, order)

	s.logger(ctx, "payment_events.session_expired", map[string]any{
		"orderId": order.ID,
		"eventId": event.ID,
	})
	s.notifier.Notify(ctx, Notification{
		Kind:       "order.expired",
		OrderID:    order.ID,
		Email:      order.Customer.Email,
		OccurredAt: now,
		Fields: map[string]string{
			"order_number": order.Number,
		},
	})
	return true, nil
}

// applyPaymentFailed parks a still-pending order in payment_failed and puts
// the reserved stock back. An already-paid order is left untouched.
func (s *paymentEventService) applyPaymentFailed(ctx context.Context, order domain.Order, event payments.WebhookEvent) (bool, error) {
	now := s.now()
	applied, err := s.orders.TransitionStatus(ctx, repositories.StatusTransition{
		OrderID: order.ID,
		From:    []domain.OrderStatus{domain.OrderStatusPending},
		To:      domain.OrderStatusPaymentFailed,
		Now:     now,
	})
	if err != nil {
		return false, ErrWebhookUnavailable
	}
	if !applied {
		return false, nil
	}

	s.restoreLines(ctx, order)

	s.logger(ctx, "payment_events.order_payment_failed", map[string]any{
		"orderId":   order.ID,
		"eventId":   event.ID,
		"eventType": event.Type,
	})
	s.notifier.Notify(ctx, Notification{
		Kind:       "order.payment_failed",
		OrderID:    order.ID,
		Email:      order.Customer.Email,
		OccurredAt: now,
		Fields: map[string]string{
			"order_number": order.Number,
			"event_type":   event.Type,
		},
	})
	return true, nil
}

func (s *paymentEventService) restoreLines(ctx context.Context, order domain.Order) {
	for _, line := range order.Lines {
		if err := s.variants.Restore(ctx, line.VariantID, line.Quantity); err != nil {
			s.logger(ctx, "payment_events.restore_failed", map[string]any{
				"orderId":   order.ID,
				"variantId": line.VariantID,
				"quantity":  line.Quantity,
				"error":     err.Error(),
			})
		}
	}
}
