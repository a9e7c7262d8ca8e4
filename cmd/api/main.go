package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/linenloft/api/internal/di"
	"github.com/linenloft/api/internal/handlers"
	"github.com/linenloft/api/internal/messaging/kafka"
	"github.com/linenloft/api/internal/metrics"
	"github.com/linenloft/api/internal/payments"
	"github.com/linenloft/api/internal/platform/config"
	"github.com/linenloft/api/internal/platform/observability"
	"github.com/linenloft/api/internal/repositories/postgres"
	"github.com/linenloft/api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	sarama.Logger = observability.NewStdLogAdapter(logger.Named("sarama"))

	store, err := postgres.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("postgres close error", zap.Error(err))
		}
	}()

	schemaCtx, cancelSchema := context.WithTimeout(ctx, 30*time.Second)
	if err := store.EnsureSchema(schemaCtx); err != nil {
		cancelSchema()
		logger.Fatal("failed to ensure database schema", zap.Error(err))
	}
	cancelSchema()

	var notifier services.Notifier = services.NopNotifier{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("kafka"))
		if err != nil {
			logger.Fatal("failed to initialise kafka producer", zap.Error(err))
		}
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Warn("kafka producer close error", zap.Error(err))
			}
		}()
		notifier = producer
	} else {
		logger.Info("kafka brokers not configured; order events disabled")
	}

	paymentsLogger := logger.Named("payments")
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.Stripe.APIKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Logger: func(ctx context.Context, event string, fields map[string]any) {
			zFields := make([]zap.Field, 0, len(fields)+1)
			zFields = append(zFields, zap.String("event", event))
			for k, v := range fields {
				zFields = append(zFields, zap.Any(k, v))
			}
			paymentsLogger.Debug("stripe log", zFields...)
		},
		Clock: time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe provider", zap.Error(err))
	}

	checkoutMetrics := metrics.NewCheckoutMetrics()

	container, err := di.NewContainer(cfg, di.Options{
		Registry: store,
		Payments: stripeProvider,
		Notifier: notifier,
		Logger:   logger,
		Metrics:  checkoutMetrics,
	})
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}

	checkoutHandlers := handlers.NewCheckoutHandlers(container.Services.Checkout, checkoutMetrics)
	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders, container.Services.Returns)
	adminHandlers := handlers.NewAdminHandlers(container.Services.Orders, container.Services.Returns, container.Services.Inventory)
	webhookHandlers := handlers.NewWebhookHandlers(container.Services.PaymentEvents)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithReadinessCheck("postgres", store.Ping),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(promhttp.Handler()),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("linenloft api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
