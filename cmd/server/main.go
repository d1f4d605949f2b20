package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dukerupert/chandlery/internal"
	"github.com/dukerupert/chandlery/internal/bootstrap"
	"github.com/dukerupert/chandlery/internal/handler"
	"github.com/dukerupert/chandlery/internal/handler/api"
	"github.com/dukerupert/chandlery/internal/handler/webhook"
	"github.com/dukerupert/chandlery/internal/jobs"
	"github.com/dukerupert/chandlery/internal/middleware"
	"github.com/dukerupert/chandlery/internal/router"
	"github.com/dukerupert/chandlery/internal/routes"
	"github.com/dukerupert/chandlery/internal/service"
	"github.com/dukerupert/chandlery/internal/telemetry"
	"github.com/dukerupert/chandlery/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel, "chandlery-server")

	// ==========================================================================
	// Observability
	// ==========================================================================

	flushSentry, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer flushSentry()

	shutdownTracing, err := telemetry.InitTracerProvider(ctx, telemetry.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Sentry.Release,
	})
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	telemetry.InitBusinessMetrics("chandlery")
	metrics := middleware.NewMetrics("chandlery", nil)

	// ==========================================================================
	// Storage and integrations
	// ==========================================================================

	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	billingProvider, err := bootstrap.Billing(cfg, logger)
	if err != nil {
		return err
	}

	shippingProvider, err := bootstrap.Shipping(cfg, logger)
	if err != nil {
		return err
	}

	rates, closeRates, err := bootstrap.Rates(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRates()

	broker, err := bootstrap.Broker(cfg, "chandlery-server", logger)
	if err != nil {
		// Jobs fall back to inline execution while NATS is down.
		logger.Error("nats unavailable, jobs run inline", "error", err)
	}
	defer func() {
		if err := broker.Drain(); err != nil {
			logger.Warn("nats drain failed", "error", err)
		}
	}()

	publisher := bootstrap.Publisher(cfg, logger)
	defer publisher.Close()

	// The executor doubles as the inline fallback when the broker is down.
	executor := worker.NewExecutor(bootstrap.Email(cfg, logger), store, logger)
	queue := jobs.NewBrokeredQueue(broker, executor, logger)
	dispatcher := jobs.NewDispatcher(queue, publisher, logger)

	// ==========================================================================
	// Workflows
	// ==========================================================================

	workflow := service.DefaultWorkflowConfig()
	workflow.PlatformFeeRate = decimal.NewFromFloat(cfg.Workflow.PlatformFeeRate)
	workflow.TokenTTL = cfg.Workflow.TokenTTL
	workflow.BaseURL = cfg.Workflow.BaseURL
	workflow.OpsEmail = cfg.Workflow.OpsEmail
	workflow.InvoiceDueDays = cfg.Workflow.InvoiceDueDays

	services, err := service.New(&service.Clients{
		Catalog:   store,
		Users:     store,
		Orders:    store,
		Bookings:  store,
		Invoices:  store,
		Shipments: store,
		Inventory: store,
		Billing:   billingProvider,
		Shipping:  shippingProvider,
		Rates:     rates,
		Logger:    logger,
		Config:    workflow,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	// ==========================================================================
	// Routes
	// ==========================================================================

	apiRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer apiRateLimiter.Stop()
	tokenRateLimiter := middleware.NewRateLimiter(middleware.ConfirmationRateLimiterConfig())
	defer tokenRateLimiter.Stop()

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		metrics.Middleware,
		telemetry.SentryMiddleware(),
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
	)

	routes.RegisterOpsRoutes(r, routes.OpsDeps{
		Metrics: metrics.Handler(),
		Health: func(w http.ResponseWriter, req *http.Request) {
			if err := store.Ping(req.Context()); err != nil {
				handler.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
			handler.JSON(w, http.StatusOK, map[string]string{"status": "ok", "store": store.Kind})
		},
	})

	routes.RegisterAPIRoutes(r, routes.APIDeps{
		OrderHandler:     api.NewOrderHandler(services.Orders, dispatcher, logger),
		BookingHandler:   api.NewBookingHandler(services.Bookings, dispatcher, logger),
		ShipmentHandler:  api.NewShipmentHandler(services.Shipments, dispatcher, logger),
		RateLimiter:      apiRateLimiter,
		TokenRateLimiter: tokenRateLimiter,
	})

	routes.RegisterWebhookRoutes(r, routes.WebhookDeps{
		StripeHandler:   webhook.NewStripeHandler(billingProvider, services.Payments, dispatcher, logger),
		EasyPostHandler: webhook.NewEasyPostHandler(services.Shipments, dispatcher, cfg.EasyPost.WebhookSecret, logger),
	})

	// ==========================================================================
	// Serve
	// ==========================================================================

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           otelhttp.NewHandler(telemetry.WithHTTPRoute(r), "chandlery"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", srv.Addr, "store", store.Kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
