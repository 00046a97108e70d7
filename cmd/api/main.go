package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tapdine/tapdine-backend/api/routes"
	"github.com/tapdine/tapdine-backend/internal/availability"
	"github.com/tapdine/tapdine-backend/internal/cart"
	"github.com/tapdine/tapdine-backend/internal/commerce"
	"github.com/tapdine/tapdine-backend/internal/fulfillment"
	"github.com/tapdine/tapdine-backend/internal/identity"
	"github.com/tapdine/tapdine-backend/internal/orders"
	"github.com/tapdine/tapdine-backend/internal/payment"
	"github.com/tapdine/tapdine-backend/internal/session"
	"github.com/tapdine/tapdine-backend/pkg/config"
	"github.com/tapdine/tapdine-backend/pkg/db"
	"github.com/tapdine/tapdine-backend/pkg/kv"
	"github.com/tapdine/tapdine-backend/pkg/logger"
	"github.com/tapdine/tapdine-backend/pkg/metrics"
	"github.com/tapdine/tapdine-backend/pkg/migrate"
	"github.com/tapdine/tapdine-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(appCtx, cfg.DB, logg)
	if err != nil {
		logg.Error(appCtx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(appCtx, cfg, logg, dbClient); err != nil {
		logg.Error(appCtx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(appCtx, cfg.Redis)
	if err != nil {
		logg.Error(appCtx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	store, err := kv.NewGormStore(dbClient.DB())
	if err != nil {
		logg.Error(appCtx, "failed to create kv store", err)
		os.Exit(1)
	}

	ident, err := identity.NewProvider(store, logg)
	if err != nil {
		logg.Error(appCtx, "failed to create identity provider", err)
		os.Exit(1)
	}

	sessions, err := session.NewStore(appCtx, store, ident, cfg.JWT, logg)
	if err != nil {
		logg.Error(appCtx, "failed to create session store", err)
		os.Exit(1)
	}

	commerceClient, err := commerce.NewClient(cfg.Commerce, logg)
	if err != nil {
		logg.Error(appCtx, "failed to create commerce client", err)
		os.Exit(1)
	}

	engineMetrics := metrics.NewEngineMetrics(prometheus.DefaultRegisterer)

	guard, err := availability.NewService(commerceClient, cfg.Poller.Interval, engineMetrics, logg)
	if err != nil {
		logg.Error(appCtx, "failed to create availability guard", err)
		os.Exit(1)
	}
	defer guard.StopAll()

	cartService, err := cart.NewService(commerceClient, store, sessions, guard, engineMetrics, logg)
	if err != nil {
		logg.Error(appCtx, "failed to create cart engine", err)
		os.Exit(1)
	}

	var payments *payment.Client
	if cfg.Square.AccessToken != "" {
		payments, err = payment.NewClient(appCtx, cfg.Square, logg)
		if err != nil {
			logg.Error(appCtx, "failed to create payment client", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(appCtx, "square access token missing, payment confirmation disabled")
	}

	ordersRepo, err := orders.NewRepository(dbClient.DB())
	if err != nil {
		logg.Error(appCtx, "failed to create order repository", err)
		os.Exit(1)
	}

	var confirmer interface {
		Confirm(ctx context.Context, paymentID string) (payment.Confirmation, error)
	}
	if payments != nil {
		confirmer = payments
	}
	orderService, err := orders.NewService(cartService, commerceClient, confirmer, ordersRepo, sessions, logg)
	if err != nil {
		logg.Error(appCtx, "failed to create order service", err)
		os.Exit(1)
	}

	tracker, err := fulfillment.NewService(commerceClient, ordersRepo, cfg.Poller.Interval, engineMetrics, logg)
	if err != nil {
		logg.Error(appCtx, "failed to create fulfillment tracker", err)
		os.Exit(1)
	}
	defer tracker.StopAll()

	if err := tracker.ResumeActive(appCtx); err != nil {
		logg.Error(appCtx, "failed to resume order tracking", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(appCtx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Cfg:      cfg,
			Logg:     logg,
			AppCtx:   appCtx,
			DB:       dbClient,
			Redis:    redisClient,
			Sessions: sessions,
			Commerce: commerceClient,
			Carts:    cartService,
			Orders:   orderService,
			Tracker:  tracker,
			Guard:    guard,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-appCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "graceful shutdown failed", err)
		}
		logg.Info(context.Background(), "api server stopped")
	}
}
