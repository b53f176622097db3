package app

import (
	"context"
	"fmt"
	"log"

	"firebase.google.com/go/v4/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"legalup_payments/internal/config"
	"legalup_payments/internal/services"
)

// App bundles the clients shared by the server, the worker and the CLI
type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Cache      *services.RedisCache
	Gateway    services.PaymentGateway
	Events     services.EventPublisher
	Metrics    *services.PaymentMetrics
	Registry   *prometheus.Registry
	Payments   *services.PaymentService
	Reconciler *services.Reconciler
	Auth       *auth.Client

	closers []func() error
}

// New connects every dependency described by cfg. Redis, Kafka and
// Firebase are optional; missing settings leave them disabled.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	db, err := services.InitDB(cfg.DatabaseURL, !cfg.IsProduction())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db

	if cfg.RedisURL != "" {
		cache, err := services.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: Redis unavailable, caching disabled: %v", err)
		} else {
			a.Cache = cache
			a.closers = append(a.closers, cache.Close)
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher := services.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.Events = publisher
		a.closers = append(a.closers, publisher.Close)
	} else {
		a.Events = services.NoopPublisher{}
	}

	if cfg.FirebaseCredentialsPath != "" {
		authClient, err := services.InitFirebase(ctx, cfg.FirebaseCredentialsPath)
		if err != nil {
			log.Printf("Warning: Firebase initialization failed: %v", err)
			log.Println("Payment listings will be served without token checks")
		} else {
			a.Auth = authClient
		}
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = services.NewPaymentMetrics(a.Registry)

	a.Gateway = NewGateway(cfg)

	success, failure, pending := cfg.RedirectDefaults()
	ledger := services.NewGormLedger(db)
	a.Payments = services.NewPaymentService(ledger, a.Gateway, a.Cache, a.Events, a.Metrics, services.PaymentServiceConfig{
		Currency:       cfg.Payments.Currency,
		PlatformFeeBps: cfg.Payments.PlatformFeeBps,
		DefaultTitle:   cfg.Payments.DefaultTitle,
		RedirectURLs:   services.RedirectURLs{Success: success, Failure: failure, Pending: pending},
		CacheTTL:       cfg.Payments.CacheTTL,
		CheckoutExpiry: cfg.Reconcile.ExpireAfter,
	})
	a.Reconciler = services.NewReconciler(a.Payments, ledger, a.Gateway, services.NewGormCallbackHistory(db), a.Cache, a.Metrics, cfg.Payments.CacheTTL, cfg.Payments.WebhookDedupTTL)

	return a, nil
}

// NewGateway builds the client of the configured payment provider
func NewGateway(cfg *config.Config) services.PaymentGateway {
	if cfg.Gateway.Provider == config.GatewayMidtrans {
		return services.NewMidtransService(cfg.Midtrans, cfg.Gateway.Timeout)
	}
	return services.NewMercadoPagoClient(cfg.MercadoPago, cfg.NotificationURL(), cfg.Gateway.Timeout)
}

// TokenVerifier is nil unless Firebase is configured
func (a *App) TokenVerifier() services.TokenVerifier {
	if a.Auth == nil {
		return nil
	}
	return a.Auth
}

// ReconcileOptions are the worker defaults for a reconciliation pass
func (a *App) ReconcileOptions() services.ReconcileOptions {
	return services.ReconcileOptions{
		StaleAfter:  a.Config.Reconcile.StaleAfter,
		ExpireAfter: a.Config.Reconcile.ExpireAfter,
		BatchSize:   a.Config.Reconcile.BatchSize,
		Workers:     a.Config.Reconcile.Workers,
	}
}

// Close releases the optional clients and the database pool
func (a *App) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
