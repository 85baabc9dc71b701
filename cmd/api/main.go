package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vmoreno/curiosa-api/internal/app"
	"github.com/vmoreno/curiosa-api/internal/clock"
	"github.com/vmoreno/curiosa-api/internal/config"
	"github.com/vmoreno/curiosa-api/internal/domain"
	"github.com/vmoreno/curiosa-api/internal/lease"
	"github.com/vmoreno/curiosa-api/internal/metrics"
	"github.com/vmoreno/curiosa-api/internal/notify"
	"github.com/vmoreno/curiosa-api/internal/payment"
	"github.com/vmoreno/curiosa-api/internal/storage/postgres"
	transporthttp "github.com/vmoreno/curiosa-api/internal/transport/http"
	"github.com/vmoreno/curiosa-api/migrations"
)

const shutdownTimeout = 10 * time.Second

const sweepLeaseKey = "curiosa:sweep:lease"

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "curiosa-api").Logger()

	cfg, err := config.Load("")
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to db")
	}
	defer pool.Close()

	if err := pool.Ping(startupCtx); err != nil {
		logger.Fatal().Err(err).Msg("db ping")
	}
	if err := migrations.Apply(startupCtx, pool); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	m := metrics.New()
	clk := clock.NewSystem()

	holdRepo := postgres.NewHoldRepository(pool)
	holdSvc := app.NewHoldService(holdRepo, clk, logger,
		app.WithHoldTTL(time.Duration(cfg.HoldTTLMinutes)*time.Minute))

	orderRepo := postgres.NewOrderRepository(pool)
	orderSvc := app.NewOrderService(orderRepo, clk, logger)

	var notifier app.Notifier
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQPURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect to amqp")
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
	} else {
		logger.Warn().Msg("AMQP_URL not set, shipment notifications will only be logged")
		notifier = notify.LogNotifier{Logger: logger}
	}

	cartRepo := postgres.NewCartRepository(pool)
	checkoutSvc := app.NewCheckoutService(
		cartRepo, holdSvc, orderSvc,
		payment.NewSandbox(), notifier,
		clk, logger, m,
		cfg.TaxRate, cfg.ShippingRates,
	)

	var sweeperOpts []app.SweeperOption
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		sweepInterval := time.Duration(cfg.SweepIntervalMinutes) * time.Minute
		sweeperOpts = append(sweeperOpts,
			app.WithLease(lease.NewRedisLease(rdb, sweepLeaseKey, sweepInterval)))
	}
	sweeper := app.NewSweeper(holdSvc,
		time.Duration(cfg.SweepIntervalMinutes)*time.Minute,
		logger, m, sweeperOpts...)
	sweeper.Start()
	defer sweeper.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", transporthttp.HealthHandler)
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/carts", transporthttp.HandleCreateCart(checkoutSvc, logger))
	mux.Handle("/carts/", transporthttp.HandleCartRoutes(checkoutSvc, logger))
	mux.Handle("/orders/", transporthttp.HandleFulfillment(checkoutSvc, logger))
	mux.Handle("/holds", transporthttp.HandleListHolds(holdSvc, logger))
	mux.Handle("/holds/stats", transporthttp.HandleHoldStats(holdSvc, m, logger))
	mux.Handle("/webhooks/payment", transporthttp.HandlePaymentWebhook(&webhookSink{
		orders:   orderSvc,
		checkout: checkoutSvc,
	}, logger))
	mux.Handle("/", transporthttp.NotFoundHandler())

	handler := transporthttp.RequestLogger(transporthttp.CORS(cfg.CORSOrigins, mux), logger)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	logger.Info().Str("port", cfg.Port).Msg("api listening")

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
		}
	case <-stopCtx.Done():
		logger.Info().Msg("shutdown signal received, stopping server")
	}

	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	logger.Info().Msg("server stopped")
}

// webhookSink adapts the order and checkout services to the webhook handler.
type webhookSink struct {
	orders   *app.OrderService
	checkout *app.CheckoutService
}

func (s *webhookSink) ToPaymentConfirmed(ctx context.Context, orderID, actor string) (domain.Order, error) {
	return s.orders.ToPaymentConfirmed(ctx, orderID, actor)
}

func (s *webhookSink) ToPaymentFailed(ctx context.Context, orderID, reason, actor string) (domain.Order, error) {
	return s.orders.ToPaymentFailed(ctx, orderID, reason, actor)
}

func (s *webhookSink) CompleteCheckout(ctx context.Context, orderID, actor string) error {
	return s.checkout.CompleteCheckout(ctx, orderID, actor)
}
