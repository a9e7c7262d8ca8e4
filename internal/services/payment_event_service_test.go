package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/payments"
	"github.com/linenloft/api/internal/repositories/memory"
)

type recordingNotifier struct {
	kinds []string
}

func (n *recordingNotifier) Notify(ctx context.Context, notification Notification) {
	n.kinds = append(n.kinds, notification.Kind)
}

func (n *recordingNotifier) has(kind string) bool {
	for _, k := range n.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// placePendingOrder runs a real checkout so the reconciler tests start from
// the state the webhook would actually observe.
func placePendingOrder(t *testing.T, reg *memory.Registry, provider *stubProvider, couponCode string) domain.Order {
	t.Helper()
	svc := newCheckoutFixture(t, reg, provider, nil)

	cmd := validCommand()
	cmd.CouponCode = couponCode
	result, err := svc.Checkout(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	order, err := reg.Orders().FindByID(context.Background(), result.OrderID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	return order
}

func newReconcilerFixture(t *testing.T, reg *memory.Registry, provider *stubProvider, notifier Notifier) PaymentEventService {
	t.Helper()
	svc, err := NewPaymentEventService(PaymentEventServiceDeps{
		Orders:   reg.Orders(),
		Variants: reg.Variants(),
		Coupons:  reg.Coupons(),
		Payments: provider,
		Clock:    fixedClock(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)),
		Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("NewPaymentEventService: %v", err)
	}
	return svc
}

func succeededEvent(order domain.Order, amount int64) payments.WebhookEvent {
	return payments.WebhookEvent{
		ID:          "evt_1",
		Kind:        payments.EventPaymentSucceeded,
		Type:        "checkout.session.completed",
		SessionID:   "cs_1",
		IntentID:    "pi_1",
		AmountTotal: amount,
		Metadata:    map[string]string{"order_id": order.ID},
	}
}

func TestHandleWebhookPaymentSucceeded(t *testing.T) {
	reg := seededRegistry()
	provider := &stubProvider{session: payments.CheckoutSession{ID: "cs_1"}}
	order := placePendingOrder(t, reg, provider, "")

	notifier := &recordingNotifier{}
	svc := newReconcilerFixture(t, reg, provider, notifier)
	provider.event = succeededEvent(order, order.Total)

	outcome, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if !outcome.Applied || outcome.Outcome != OutcomeApplied {
		t.Fatalf("outcome = %+v", outcome)
	}

	updated, _ := reg.Orders().FindByID(context.Background(), order.ID)
	if updated.Status != domain.OrderStatusPaid {
		t.Fatalf("status = %q", updated.Status)
	}
	if updated.PaidAt == nil {
		t.Fatal("paid timestamp not set")
	}
	if updated.PaymentIntentRef == nil || *updated.PaymentIntentRef != "pi_1" {
		t.Fatalf("intent ref not persisted: %+v", updated.PaymentIntentRef)
	}
	if !notifier.has("order.confirmed") || !notifier.has("operator.order_paid") {
		t.Fatalf("notifications missing: %v", notifier.kinds)
	}
}

func TestHandleWebhookRedeliveryIsNoOp(t *testing.T) {
	reg := seededRegistry()
	provider := &stubProvider{session: payments.CheckoutSession{ID: "cs_1"}}
	order := placePendingOrder(t, reg, provider, "")

	notifier := &recordingNotifier{}
	svc := newReconcilerFixture(t, reg, provider, notifier)
	provider.event = succeededEvent(order, order.Total)

	if _, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig"); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	first := len(notifier.kinds)

	outcome, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if outcome.Applied || outcome.Outcome != OutcomeAlreadyDone {
		t.Fatalf("redelivery applied effects: %+v", outcome)
	}
	if len(notifier.kinds) != first {
		t.Fatalf("redelivery produced notifications: %v", notifier.kinds)
	}
}

func TestHandleWebhookProcessorAmountOverwritesTotal(t *testing.T) {
	reg := seededRegistry()
	provider := &stubProvider{session: payments.CheckoutSession{ID: "cs_1"}}
	order := placePendingOrder(t, reg, provider, "")

	svc := newReconcilerFixture(t, reg, provider, &recordingNotifier{})
	provider.event = succeededEvent(order, order.Total+250)

	if _, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig"); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	updated, _ := reg.Orders().FindByID(context.Background(), order.ID)
	if updated.Total != order.Total+250 {
		t.Fatalf("total = %d, want processor amount %d", updated.Total, order.Total+250)
	}
}

func TestHandleWebhookRecordsCouponUsageOnce(t *testing.T) {
	reg := seededRegistry()
	reg.SeedCoupon(domain.Coupon{
		ID: "cpn_1", Code: "SPRING10", DiscountType: domain.DiscountTypePercentage,
		DiscountValue: 10, StartsAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndsAt: time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), Active: true,
	})
	provider := &stubProvider{session: payments.CheckoutSession{ID: "cs_1"}}
	order := placePendingOrder(t, reg, provider, "SPRING10")

	svc := newReconcilerFixture(t, reg, provider, &recordingNotifier{})
	provider.event = succeededEvent(order, order.Total)

	for i := 0; i < 2; i++ {
		if _, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig"); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	coupon, _ := reg.Coupons().FindByCode(context.Background(), "SPRING10")
	if coupon.UsedCount != 1 {
		t.Fatalf("used count = %d, want 1", coupon.UsedCount)
	}
}

func TestHandleWebhookExpiryCancelsAndRestoresStock(t *testing.T) {
	reg := seededRegistry()
	provider := &stubProvider{session: payments.CheckoutSession{ID: "cs_1"}}
	order := placePendingOrder(t, reg, provider, "")

	notifier := &recordingNotifier{}
	svc := newReconcilerFixture(t, reg, provider, notifier)
	provider.event = payments.WebhookEvent{
		ID:        "evt_2",
		Kind:      payments.EventSessionExpired,
		Type:      "checkout.session.expired",
		SessionID: "cs_1",
		Metadata:  map[string]string{"order_id": order.ID},
	}

	outcome, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if !outcome.Applied {
		t.Fatalf("outcome = %+v", outcome)
	}

	updated, _ := reg.Orders().FindByID(context.Background(), order.ID)
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %q, want cancelled", updated.Status)
	}
	v, _ := reg.Variants().Get(context.Background(), "var_shirt_m")
	if v.StockCount != 10 {
		t.Fatalf("stock = %d, want restored 10", v.StockCount)
	}
	if !notifier.has("order.expired") {
		t.Fatalf("notifications: %v", notifier.kinds)
	}
	if notifier.has("order.payment_failed") {
		t.Fatalf("expiry must not be reported as a payment failure: %v", notifier.kinds)
	}
}

func TestHandleWebhookAsyncPaymentFailed(t *testing.T) {
	reg := seededRegistry()
	provider := &stubProvider{session: payments.CheckoutSession{ID: "cs_1"}}
	order := placePendingOrder(t, reg, provider, "")

	notifier := &recordingNotifier{}
	svc := newReconcilerFixture(t, reg, provider, notifier)
	provider.event = payments.WebhookEvent{
		ID:        "evt_4",
		Kind:      payments.EventPaymentFailed,
		Type:      "checkout.session.async_payment_failed",
		SessionID: "cs_1",
		Metadata:  map[string]string{"order_id": order.ID},
	}

	outcome, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if !outcome.Applied {
		t.Fatalf("outcome = %+v", outcome)
	}

	updated, _ := reg.Orders().FindByID(context.Background(), order.ID)
	if updated.Status != domain.OrderStatusPaymentFailed {
		t.Fatalf("status = %q, want payment_failed", updated.Status)
	}
	v, _ := reg.Variants().Get(context.Background(), "var_shirt_m")
	if v.StockCount != 10 {
		t.Fatalf("stock = %d, want restored 10", v.StockCount)
	}
	if !notifier.has("order.payment_failed") {
		t.Fatalf("notifications: %v", notifier.kinds)
	}
}

func TestHandleWebhookExpiryAfterPaidDoesNothing(t *testing.T) {
	reg := seededRegistry()
	provider := &stubProvider{session: payments.CheckoutSession{ID: "cs_1"}}
	order := placePendingOrder(t, reg, provider, "")

	svc := newReconcilerFixture(t, reg, provider, &recordingNotifier{})

	provider.event = succeededEvent(order, order.Total)
	if _, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig"); err != nil {
		t.Fatalf("paid delivery: %v", err)
	}

	provider.event = payments.WebhookEvent{
		ID:        "evt_2",
		Kind:      payments.EventSessionExpired,
		Type:      "checkout.session.expired",
		SessionID: "cs_1",
		Metadata:  map[string]string{"order_id": order.ID},
	}
	outcome, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("expiry delivery: %v", err)
	}
	if outcome.Applied {
		t.Fatal("expiry after paid must not apply")
	}

	updated, _ := reg.Orders().FindByID(context.Background(), order.ID)
	if updated.Status != domain.OrderStatusPaid {
		t.Fatalf("status = %q, want paid", updated.Status)
	}
	v, _ := reg.Variants().Get(context.Background(), "var_shirt_m")
	if v.StockCount != 8 {
		t.Fatalf("stock = %d, paid order stock must stay reserved", v.StockCount)
	}
}

func TestHandleWebhookInvalidSignature(t *testing.T) {
	reg := seededRegistry()
	provider := &stubProvider{parseErr: fmt.Errorf("%w: mismatch", payments.ErrInvalidSignature)}
	svc := newReconcilerFixture(t, reg, provider, &recordingNotifier{})

	if _, err := svc.HandleWebhook(context.Background(), []byte("{}"), "bad"); !errors.Is(err, ErrWebhookInvalidSignature) {
		t.Fatalf("expected ErrWebhookInvalidSignature, got %v", err)
	}
}

func TestHandleWebhookUnknownOrderAcknowledged(t *testing.T) {
	reg := seededRegistry()
	provider := &stubProvider{}
	svc := newReconcilerFixture(t, reg, provider, &recordingNotifier{})
	provider.event = payments.WebhookEvent{
		ID:        "evt_9",
		Kind:      payments.EventPaymentSucceeded,
		Type:      "checkout.session.completed",
		SessionID: "cs_unknown",
	}

	outcome, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if outcome.Outcome != OutcomeOrderMissing {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestHandleWebhookIgnoredEvent(t *testing.T) {
	reg := seededRegistry()
	provider := &stubProvider{}
	svc := newReconcilerFixture(t, reg, provider, &recordingNotifier{})
	provider.event = payments.WebhookEvent{ID: "evt_3", Kind: payments.EventIgnored, Type: "invoice.paid"}

	outcome, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if outcome.Outcome != OutcomeIgnored {
		t.Fatalf("outcome = %+v", outcome)
	}
}
