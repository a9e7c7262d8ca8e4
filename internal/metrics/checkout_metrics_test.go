package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewCheckoutMetrics(t *testing.T) {
	metrics := newCheckoutMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics == nil {
		t.Fatal("newCheckoutMetricsWithRegisterer should not return nil")
	}
	if metrics.checkoutAttempts == nil {
		t.Error("checkoutAttempts counter should not be nil")
	}
	if metrics.webhookEvents == nil {
		t.Error("webhookEvents counter should not be nil")
	}
	if metrics.refunds == nil {
		t.Error("refunds counter should not be nil")
	}
}

func TestObserveCheckout(t *testing.T) {
	metrics := newCheckoutMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.ObserveCheckout("placed")
	metrics.ObserveCheckout("placed")
	metrics.ObserveCheckout("insufficient_stock")

	metric := &dto.Metric{}
	if err := metrics.checkoutAttempts.WithLabelValues("placed").Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2.0 {
		t.Errorf("expected counter value 2.0, got %f", metric.Counter.GetValue())
	}
}

func TestObserveWebhook(t *testing.T) {
	metrics := newCheckoutMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.ObserveWebhook("checkout.session.completed", "applied")
	metrics.ObserveWebhook("checkout.session.completed", "already_handled")
	metrics.ObserveWebhook("checkout.session.expired", "applied")

	metric := &dto.Metric{}
	if err := metrics.webhookEvents.WithLabelValues("checkout.session.completed", "applied").Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 1.0 {
		t.Errorf("expected counter value 1.0, got %f", metric.Counter.GetValue())
	}
}

func TestObserveRefund(t *testing.T) {
	metrics := newCheckoutMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.ObserveRefund("issued")
	metrics.ObserveRefund("failed")
	metrics.ObserveRefund("issued")

	metric := &dto.Metric{}
	if err := metrics.refunds.WithLabelValues("issued").Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2.0 {
		t.Errorf("expected counter value 2.0, got %f", metric.Counter.GetValue())
	}
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := newCheckoutMetricsWithRegisterer(reg)
	second := newCheckoutMetricsWithRegisterer(reg)

	first.ObserveRefund("issued")
	second.ObserveRefund("issued")

	metric := &dto.Metric{}
	if err := first.refunds.WithLabelValues("issued").Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2.0 {
		t.Errorf("expected shared counter value 2.0, got %f", metric.Counter.GetValue())
	}
}
