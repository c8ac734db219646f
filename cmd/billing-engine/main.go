package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AnuragDani/subscription-billing/internal/api"
	"github.com/AnuragDani/subscription-billing/internal/config"
	"github.com/AnuragDani/subscription-billing/internal/customer"
	"github.com/AnuragDani/subscription-billing/internal/database"
	"github.com/AnuragDani/subscription-billing/internal/gateway"
	"github.com/AnuragDani/subscription-billing/internal/lease"
	"github.com/AnuragDani/subscription-billing/internal/lifecycle"
	"github.com/AnuragDani/subscription-billing/internal/logger"
	"github.com/AnuragDani/subscription-billing/internal/metrics"
	"github.com/AnuragDani/subscription-billing/internal/notify"
	"github.com/AnuragDani/subscription-billing/internal/orchestrator"
	"github.com/AnuragDani/subscription-billing/internal/retry"
	"github.com/AnuragDani/subscription-billing/internal/scheduler"
	"github.com/AnuragDani/subscription-billing/internal/store"
	"github.com/AnuragDani/subscription-billing/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("billing-engine").Fatal("failed to load configuration", "error", err)
	}

	log := logger.NewWithLevel("billing-engine", cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Database is needed by the postgres store and the advisory lease
	var db *database.DB
	if cfg.StoreDriver == "postgres" || cfg.LeaseDriver == "postgres" {
		db, err = database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to connect to database", "error", err)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatal("failed to ensure schema", "error", err)
		}
		log.Info("database connection established")
	}

	st := newStore(cfg, db)
	leaser := newLeaser(ctx, cfg, db, log)
	gw := newGateway(cfg)

	hub := websocket.NewHub(log.With("component", "websocket"))
	go hub.Run(ctx)

	dispatchers := notify.Multi{notify.NewLogDispatcher(log.With("component", "notify")), hub}
	if cfg.WebhookURL != "" {
		webhook := notify.NewWebhookDispatcher(cfg.WebhookURL, log)
		defer webhook.Close()
		dispatchers = append(dispatchers, webhook)
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := notify.NewSyncProducer(cfg.KafkaBrokers)
		if err != nil {
			log.Fatal("failed to create kafka producer", "brokers", cfg.KafkaBrokers, "error", err)
		}
		kafka := notify.NewKafkaDispatcher(producer, cfg.KafkaTopic, log)
		defer kafka.Close()
		dispatchers = append(dispatchers, kafka)
	}
	notifier := notify.NewNotifier(dispatchers, log, m)

	gwSync := lifecycle.NewGatewaySync(gw, cfg.Billing.GatewayTimeout, log.With("component", "gateway-sync"), m)
	svcOpts := []lifecycle.Option{
		lifecycle.WithGatewaySync(gwSync),
		lifecycle.WithLeaser(leaser, cfg.Billing.LeaseTTL),
		lifecycle.WithMetrics(m),
	}
	if cfg.CustomerDirURL != "" {
		svcOpts = append(svcOpts, lifecycle.WithCustomerResolver(customer.NewDirectory(cfg.CustomerDirURL, cfg.Billing.GatewayTimeout)))
	}
	svc := lifecycle.NewService(st, notifier, log.With("component", "lifecycle"), svcOpts...)

	orch := orchestrator.New(st, gw, leaser, notifier, log.With("component", "orchestrator"), orchestrator.Config{
		Policy:         retry.NewPolicy(cfg.Billing.MaxFailures, cfg.Billing.RetryDelayDays),
		LeaseTTL:       cfg.Billing.LeaseTTL,
		GatewayTimeout: cfg.Billing.GatewayTimeout,
	}, orchestrator.WithGatewaySync(gwSync), orchestrator.WithMetrics(m))

	sched := scheduler.New(st, orch, notifier, log.With("component", "scheduler"),
		scheduler.ConfigFromBilling(cfg.Billing),
		scheduler.WithLifecycle(svc),
		scheduler.WithMetrics(m))

	var pinger api.Pinger
	if db != nil {
		pinger = db
	}
	handler := api.NewHandler(svc, orch, sched, pinger, log.With("component", "api"))
	router := api.NewRouter(handler, api.RouterOptions{
		Registry:  registry,
		WebSocket: hub.ServeWs,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sched.Start()

	go func() {
		log.Info("billing engine starting",
			"port", cfg.Port,
			"store", cfg.StoreDriver,
			"lease", cfg.LeaseDriver,
			"gateway", cfg.GatewayDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("could not listen", "port", cfg.Port, "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("server is shutting down")

	// Stop scheduler first so no batch is cut off mid-item
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("could not gracefully shutdown the server", "error", err)
	}
	log.Info("server stopped")
}

func newStore(cfg *config.Config, db *database.DB) store.Store {
	if cfg.StoreDriver == "postgres" {
		return store.NewPostgresStore(db)
	}
	return store.NewMemoryStore()
}

func newLeaser(ctx context.Context, cfg *config.Config, db *database.DB, log *logger.Logger) lease.Leaser {
	switch cfg.LeaseDriver {
	case "redis":
		client, err := lease.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("failed to connect to redis", "error", err)
		}
		log.Info("redis lease backend connected")
		return lease.NewRedisLeaser(client)
	case "postgres":
		return lease.NewPGAdvisoryLeaser(db.Conn)
	default:
		return lease.NewMemoryLeaser()
	}
}

func newGateway(cfg *config.Config) gateway.Gateway {
	if cfg.GatewayDriver == "stripe" {
		return gateway.NewStripeGateway(cfg.StripeSecretKey)
	}
	return gateway.NewHTTPGateway("gateway", cfg.GatewayURL, cfg.Billing.GatewayTimeout)
}
