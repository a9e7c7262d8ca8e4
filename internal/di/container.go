// Package di assembles repositories, services and supporting infrastructure
// into a runtime container.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/linenloft/api/internal/metrics"
	"github.com/linenloft/api/internal/payments"
	"github.com/linenloft/api/internal/platform/config"
	"github.com/linenloft/api/internal/platform/observability"
	"github.com/linenloft/api/internal/repositories"
	"github.com/linenloft/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Checkout      services.CheckoutService
	Inventory     services.InventoryService
	Coupons       services.CouponService
	Orders        services.OrderService
	PaymentEvents services.PaymentEventService
	Returns       services.ReturnService
}

// Container wires repositories, services, and supporting infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Metrics      *metrics.CheckoutMetrics
}

// Options carries the externally-constructed dependencies the container
// composes. Tests supply in-memory registries and stub providers here.
type Options struct {
	Registry repositories.Registry
	Payments payments.Provider
	Notifier services.Notifier
	Logger   *zap.Logger
	Metrics  *metrics.CheckoutMetrics
	Clock    func() time.Time
}

// NewContainer constructs the runtime dependencies.
func NewContainer(cfg config.Config, opts Options) (*Container, error) {
	if opts.Registry == nil {
		return nil, errors.New("di: repositories registry is required")
	}
	if opts.Payments == nil {
		return nil, errors.New("di: payment provider is required")
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = services.NopNotifier{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	serviceLogger := newServiceLogger(logger)

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	reg := opts.Registry

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   clock,
	})
	if err != nil {
		return nil, fmt.Errorf("build coupon service: %w", err)
	}

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Variants: reg.Variants(),
		Logger:   serviceLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("build inventory service: %w", err)
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:   reg.Orders(),
		Variants: reg.Variants(),
		Counters: reg.Counters(),
		Coupons:  couponSvc,
		Payments: opts.Payments,
		Config: services.CheckoutConfig{
			Currency:              cfg.Checkout.Currency,
			ShippingCost:          cfg.Checkout.ShippingCost,
			FreeShippingThreshold: cfg.Checkout.FreeShippingThreshold,
			SessionTTL:            cfg.Checkout.SessionTTL,
			SuccessURL:            cfg.Checkout.SuccessURL,
			CancelURL:             cfg.Checkout.CancelURL,
		},
		Clock:    clock,
		Logger:   serviceLogger,
		Notifier: notifier,
	})
	if err != nil {
		return nil, fmt.Errorf("build checkout service: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   reg.Orders(),
		Clock:    clock,
		Logger:   serviceLogger,
		Notifier: notifier,
	})
	if err != nil {
		return nil, fmt.Errorf("build order service: %w", err)
	}

	paymentEventSvc, err := services.NewPaymentEventService(services.PaymentEventServiceDeps{
		Orders:   reg.Orders(),
		Variants: reg.Variants(),
		Coupons:  reg.Coupons(),
		Payments: opts.Payments,
		Clock:    clock,
		Logger:   serviceLogger,
		Notifier: notifier,
		Metrics:  paymentEventMetrics(opts.Metrics),
	})
	if err != nil {
		return nil, fmt.Errorf("build payment event service: %w", err)
	}

	returnSvc, err := services.NewReturnService(services.ReturnServiceDeps{
		Orders:       reg.Orders(),
		Returns:      reg.Returns(),
		Variants:     reg.Variants(),
		Payments:     opts.Payments,
		ReturnWindow: cfg.Checkout.ReturnWindow,
		Clock:        clock,
		Logger:       serviceLogger,
		Notifier:     notifier,
		Metrics:      refundMetrics(opts.Metrics),
	})
	if err != nil {
		return nil, fmt.Errorf("build return service: %w", err)
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services: Services{
			Checkout:      checkoutSvc,
			Inventory:     inventorySvc,
			Coupons:       couponSvc,
			Orders:        orderSvc,
			PaymentEvents: paymentEventSvc,
			Returns:       returnSvc,
		},
		Metrics: opts.Metrics,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func newServiceLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			if key == "email" {
				if email, ok := value.(string); ok {
					zapFields = append(zapFields, zap.String(key, observability.SanitizeEmail(email)))
					continue
				}
			}
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}

func paymentEventMetrics(m *metrics.CheckoutMetrics) services.PaymentEventMetrics {
	if m == nil {
		return nil
	}
	return m
}

func refundMetrics(m *metrics.CheckoutMetrics) services.RefundMetrics {
	if m == nil {
		return nil
	}
	return m
}
