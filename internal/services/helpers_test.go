package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"legalup_payments/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "payments.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))
	return db
}

type fakeGateway struct {
	mu sync.Mutex

	checkout      *Checkout
	checkoutErr   error
	checkoutCalls []CheckoutRequest

	statuses    map[string]models.PaymentStatus
	statusErr   error
	statusCalls int

	notification    *Notification
	notificationErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		checkout: &Checkout{CheckoutURL: "https://checkout.example.com/pay/pref-123", GatewayID: "pref-123"},
		statuses: map[string]models.PaymentStatus{},
	}
}

func (g *fakeGateway) Name() models.PaymentGateway {
	return models.PaymentGatewayMercadoPago
}

func (g *fakeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkoutCalls = append(g.checkoutCalls, req)
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	c := *g.checkout
	return &c, nil
}

func (g *fakeGateway) FetchStatus(ctx context.Context, externalReference string) (models.PaymentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	if g.statusErr != nil {
		return "", g.statusErr
	}
	status, ok := g.statuses[externalReference]
	if !ok {
		return "", ErrGatewayPaymentNotFound
	}
	return status, nil
}

func (g *fakeGateway) ParseNotification(ctx context.Context, req NotificationRequest) (*Notification, error) {
	if g.notificationErr != nil {
		return nil, g.notificationErr
	}
	n := *g.notification
	return &n, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.checkoutCalls)
}

// faultyLedger fails selected writes of an otherwise working ledger
type faultyLedger struct {
	OrderLedger
	insertErr        error
	updateErr        error
	failUpdateStatus models.PaymentStatus
}

func (l *faultyLedger) Insert(ctx context.Context, order *models.PaymentOrder) error {
	if l.insertErr != nil {
		return l.insertErr
	}
	return l.OrderLedger.Insert(ctx, order)
}

func (l *faultyLedger) UpdateStatus(ctx context.Context, id string, from, to models.PaymentStatus, ref *string) error {
	if l.updateErr != nil && (l.failUpdateStatus == "" || l.failUpdateStatus == to) {
		return l.updateErr
	}
	return l.OrderLedger.UpdateStatus(ctx, id, from, to, ref)
}

// staleLedger serves a fixed snapshot on reads while writes reach the
// underlying ledger
type staleLedger struct {
	OrderLedger
	snapshot models.PaymentOrder
	reads    int
}

func (l *staleLedger) GetByID(ctx context.Context, id string) (*models.PaymentOrder, error) {
	l.reads++
	order := l.snapshot
	return &order, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) last() OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

func testServiceConfig() PaymentServiceConfig {
	return PaymentServiceConfig{
		Currency:       "CLP",
		PlatformFeeBps: 1500,
		DefaultTitle:   "Legal consultation",
		RedirectURLs: RedirectURLs{
			Success: "https://legalup.example/payments/return/success",
			Failure: "https://legalup.example/payments/return/failure",
			Pending: "https://legalup.example/payments/return/pending",
		},
	}
}

func newTestPaymentService(ledger OrderLedger, gateway PaymentGateway, cache *RedisCache, events EventPublisher) (*PaymentService, *PaymentMetrics) {
	metrics := NewPaymentMetrics(prometheus.NewRegistry())
	return NewPaymentService(ledger, gateway, cache, events, metrics, testServiceConfig()), metrics
}

func insertOrder(t *testing.T, db *gorm.DB, order models.PaymentOrder) models.PaymentOrder {
	t.Helper()
	if order.Currency == "" {
		order.Currency = "CLP"
	}
	if order.Status == "" {
		order.Status = models.PaymentStatusPending
	}
	if order.ClientUserID == "" {
		order.ClientUserID = "u1"
	}
	if order.LawyerUserID == "" {
		order.LawyerUserID = "l1"
	}
	if order.AppointmentID == "" {
		order.AppointmentID = "a1"
	}
	if order.TotalAmount == 0 {
		order.TotalAmount = 10000
		order.LawyerAmount = 8500
		order.PlatformFee = 1500
	}
	require.NoError(t, db.Create(&order).Error)
	return order
}
