// Package metrics exposes Prometheus instrumentation for the checkout and
// fulfillment core.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics counts checkout attempts, webhook deliveries and refunds.
type CheckoutMetrics struct {
	checkoutAttempts *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	refunds          *prometheus.CounterVec
}

// NewCheckoutMetrics registers the collectors with the default registerer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkoutAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "linenloft_checkout_attempts_total",
			Help: "Total checkout attempts by outcome",
		}, []string{"outcome"}),
		webhookEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "linenloft_webhook_events_total",
			Help: "Total processor webhook deliveries by event type and outcome",
		}, []string{"type", "outcome"}),
		refunds: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "linenloft_refunds_total",
			Help: "Total refund attempts by outcome",
		}, []string{"outcome"}),
	}
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

// ObserveCheckout counts one checkout attempt.
func (m *CheckoutMetrics) ObserveCheckout(outcome string) {
	m.checkoutAttempts.WithLabelValues(outcome).Inc()
}

// ObserveWebhook counts one webhook delivery.
func (m *CheckoutMetrics) ObserveWebhook(eventType, outcome string) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// ObserveRefund counts one refund attempt.
func (m *CheckoutMetrics) ObserveRefund(outcome string) {
	m.refunds.WithLabelValues(outcome).Inc()
}
