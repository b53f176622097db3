package handlers

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	authMiddleware "legalup_payments/internal/middleware"
	"legalup_payments/internal/models"
	"legalup_payments/internal/services"
)

type stubGateway struct {
	mu sync.Mutex

	checkoutErr     error
	checkoutCalls   int
	statuses        map[string]models.PaymentStatus
	statusErr       error
	notification    *services.Notification
	notificationErr error
}

func (g *stubGateway) Name() models.PaymentGateway { return models.PaymentGatewayMercadoPago }

func (g *stubGateway) CreateCheckout(ctx context.Context, req services.CheckoutRequest) (*services.Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkoutCalls++
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	return &services.Checkout{
		CheckoutURL: "https://checkout.example.com/pay/" + req.ExternalReference,
		GatewayID:   "pref-" + req.ExternalReference[:8],
	}, nil
}

func (g *stubGateway) FetchStatus(ctx context.Context, externalReference string) (models.PaymentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return "", g.statusErr
	}
	status, ok := g.statuses[externalReference]
	if !ok {
		return "", services.ErrGatewayPaymentNotFound
	}
	return status, nil
}

func (g *stubGateway) ParseNotification(ctx context.Context, req services.NotificationRequest) (*services.Notification, error) {
	if g.notificationErr != nil {
		return nil, g.notificationErr
	}
	n := *g.notification
	return &n, nil
}

type testServer struct {
	echo       *echo.Echo
	db         *gorm.DB
	payments   *services.PaymentService
	reconciler *services.Reconciler
}

type serverOptions struct {
	production bool
	cache      *services.RedisCache
	verifier   services.TokenVerifier
}

func newTestServer(t *testing.T, gateway services.PaymentGateway, opts serverOptions) *testServer {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "handlers.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, services.AutoMigrate(db))

	reg := prometheus.NewRegistry()
	metrics := services.NewPaymentMetrics(reg)
	ledger := services.NewGormLedger(db)

	payments := services.NewPaymentService(ledger, gateway, opts.cache, nil, metrics, services.PaymentServiceConfig{
		Currency:       "CLP",
		PlatformFeeBps: 1500,
		DefaultTitle:   "Legal consultation",
		RedirectURLs: services.RedirectURLs{
			Success: "https://legalup.example/payments/return/success",
			Failure: "https://legalup.example/payments/return/failure",
			Pending: "https://legalup.example/payments/return/pending",
		},
	})
	reconciler := services.NewReconciler(payments, ledger, gateway, services.NewGormCallbackHistory(db), opts.cache, metrics, time.Minute, time.Hour)

	e := echo.New()
	e.HTTPErrorHandler = authMiddleware.CustomErrorHandler
	Routes{
		Payments:      NewPaymentHandler(payments, reconciler, opts.production),
		Webhooks:      NewWebhookHandler(reconciler),
		Public:        NewPublicHandler(reconciler),
		Health:        NewHealthHandler(db, opts.cache),
		TokenVerifier: opts.verifier,
		Metrics:       reg,
	}.Register(e)

	return &testServer{echo: e, db: db, payments: payments, reconciler: reconciler}
}

func (s *testServer) countOrders(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.db.Model(&models.PaymentOrder{}).Count(&n).Error)
	return n
}

func (s *testServer) insertOrder(t *testing.T, order models.PaymentOrder) models.PaymentOrder {
	t.Helper()
	if order.Status == "" {
		order.Status = models.PaymentStatusPending
	}
	order.Currency = "CLP"
	order.TotalAmount, order.LawyerAmount, order.PlatformFee = 10000, 8500, 1500
	if order.ClientUserID == "" {
		order.ClientUserID = "client-1"
	}
	if order.LawyerUserID == "" {
		order.LawyerUserID = "lawyer-1"
	}
	order.AppointmentID = "appt-1"
	require.NoError(t, s.db.Create(&order).Error)
	return order
}

func jsonBody(s string) *strings.Reader {
	return strings.NewReader(s)
}
