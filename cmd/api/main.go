package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/arjunmehta-dev/threadmart-backend/api/routes"
	"github.com/arjunmehta-dev/threadmart-backend/internal/cart"
	"github.com/arjunmehta-dev/threadmart-backend/internal/catalog"
	"github.com/arjunmehta-dev/threadmart-backend/internal/inventory"
	"github.com/arjunmehta-dev/threadmart-backend/internal/notifications"
	"github.com/arjunmehta-dev/threadmart-backend/internal/orders"
	"github.com/arjunmehta-dev/threadmart-backend/internal/payments"
	"github.com/arjunmehta-dev/threadmart-backend/internal/users"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/config"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/migrate"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/razorpay"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/realtime"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/redis"
)

const shutdownGrace = 15 * time.Second

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

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	publisher, err := realtime.NewRedisPublisher(redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create realtime publisher", err)
		os.Exit(1)
	}

	razorpayClient, err := razorpay.NewClient(context.Background(), cfg.Razorpay, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create razorpay client", err)
		os.Exit(1)
	}

	conn := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)

	inventorySvc, err := inventory.NewService(inventory.NewRepository(conn))
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	catalogSvc, err := catalog.NewService(catalog.NewRepository(conn), dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog service", err)
		os.Exit(1)
	}

	cartSvc, err := cart.NewService(cart.NewRepository(conn), dbClient, inventorySvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	usersSvc, err := users.NewService(users.NewRepository(conn), dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create users service", err)
		os.Exit(1)
	}

	notificationsSvc, err := notifications.NewService(notifications.NewRepository(conn), publisher, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(conn)

	paymentsSvc, err := payments.NewService(ordersRepo, dbClient, razorpayClient, outboxSvc, notificationsSvc, publisher, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(
		ordersRepo,
		dbClient,
		inventorySvc,
		cartSvc,
		usersSvc,
		paymentsSvc,
		outboxSvc,
		notificationsSvc,
		publisher,
		cfg.Shipping,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Cfg:           cfg,
			Logg:          logg,
			DBPinger:      dbClient,
			RedisClient:   redisClient,
			Catalog:       catalogSvc,
			Inventory:     inventorySvc,
			Cart:          cartSvc,
			Users:         usersSvc,
			Orders:        ordersSvc,
			Payments:      paymentsSvc,
			Notifications: notificationsSvc,
		}),
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-stopCtx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}

	logg.Info(ctx, "api server stopped")
}
