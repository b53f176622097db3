package services

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"legalup_payments/internal/models"
)

type reconcilerFixture struct {
	db         *gorm.DB
	ledger     *GormLedger
	gateway    *fakeGateway
	history    *GormCallbackHistory
	metrics    *PaymentMetrics
	events     *recordingPublisher
	reconciler *Reconciler
}

func newReconcilerFixture(t *testing.T, cache *RedisCache) *reconcilerFixture {
	t.Helper()
	db := newTestDB(t)
	f := &reconcilerFixture{
		db:      db,
		ledger:  NewGormLedger(db),
		gateway: newFakeGateway(),
		history: NewGormCallbackHistory(db),
		events:  &recordingPublisher{},
	}
	var payments *PaymentService
	payments, f.metrics = newTestPaymentService(f.ledger, f.gateway, cache, f.events)
	f.reconciler = NewReconciler(payments, f.ledger, f.gateway, f.history, cache, f.metrics, time.Minute, time.Hour)
	return f
}

func strPtr(s string) *string { return &s }

func TestReconcilerLookup(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, nil)

	byID := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000001", PaymentGatewayID: strPtr("pref-77")})
	// Midtrans Snap tokens are UUIDs as well
	byToken := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000002", PaymentGatewayID: strPtr("0f1e2d3c-aaaa-4bbb-8ccc-123456789abc")})

	got, err := f.reconciler.Lookup(ctx, byID.ID)
	require.NoError(t, err)
	assert.Equal(t, byID.ID, got.ID)

	got, err = f.reconciler.Lookup(ctx, "pref-77")
	require.NoError(t, err)
	assert.Equal(t, byID.ID, got.ID)

	got, err = f.reconciler.Lookup(ctx, "0f1e2d3c-aaaa-4bbb-8ccc-123456789abc")
	require.NoError(t, err)
	assert.Equal(t, byToken.ID, got.ID)

	_, err = f.reconciler.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.reconciler.Lookup(ctx, "")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestReconcilerLookupIsCachedUntilTransition(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)
	f := newReconcilerFixture(t, cache)
	order := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000003"})

	got, err := f.reconciler.Lookup(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ClientUserID)

	// writes behind the service's back are not seen while cached
	require.NoError(t, f.db.Model(&models.PaymentOrder{}).Where("id = ?", order.ID).Update("service_description", "edited").Error)
	got, err = f.reconciler.Lookup(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ServiceDescription)

	_, err = f.reconciler.payments.ApplyGatewayStatus(ctx, order.ID, models.PaymentStatusSucceeded)
	require.NoError(t, err)

	got, err = f.reconciler.Lookup(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, got.Status)
	assert.Equal(t, "edited", got.ServiceDescription)
}

func TestReconcilerRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("applies gateway status", func(t *testing.T) {
		f := newReconcilerFixture(t, nil)
		order := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000010", PaymentGatewayID: strPtr("pref-10")})
		f.gateway.statuses[order.ID] = models.PaymentStatusSucceeded

		got, err := f.reconciler.Refresh(ctx, "pref-10")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusSucceeded, got.Status)
		assert.Equal(t, models.PaymentStatusPending, f.events.last().PreviousStatus)
	})

	t.Run("no payment at gateway yet", func(t *testing.T) {
		f := newReconcilerFixture(t, nil)
		order := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000011"})

		got, err := f.reconciler.Refresh(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusPending, got.Status)
		assert.Equal(t, 1, f.gateway.statusCalls)
	})

	t.Run("terminal order skips gateway", func(t *testing.T) {
		f := newReconcilerFixture(t, nil)
		order := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000012", Status: models.PaymentStatusFailed})

		got, err := f.reconciler.Refresh(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusFailed, got.Status)
		assert.Zero(t, f.gateway.statusCalls)
	})

	t.Run("backwards report is ignored", func(t *testing.T) {
		f := newReconcilerFixture(t, nil)
		order := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000013", Status: models.PaymentStatusSucceeded})
		f.gateway.statuses[order.ID] = models.PaymentStatusFailed

		got, err := f.reconciler.Refresh(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusSucceeded, got.Status)
	})

	t.Run("refund reported for pending order", func(t *testing.T) {
		f := newReconcilerFixture(t, nil)
		order := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000015"})
		f.gateway.statuses[order.ID] = models.PaymentStatusRefunded

		got, err := f.reconciler.Refresh(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusRefunded, got.Status)

		stored, err := f.ledger.GetByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusRefunded, stored.Status)
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.StatusTransitionsTotal.WithLabelValues("pending", "succeeded")))
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.StatusTransitionsTotal.WithLabelValues("succeeded", "refunded")))
	})

	t.Run("gateway error", func(t *testing.T) {
		f := newReconcilerFixture(t, nil)
		order := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000014"})
		f.gateway.statusErr = &GatewayError{Gateway: "mercadopago", StatusCode: 503}

		_, err := f.reconciler.Refresh(ctx, order.ID)
		var gwErr *GatewayError
		assert.ErrorAs(t, err, &gwErr)
	})
}

func TestHandleNotificationApplies(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, nil)
	order := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000020"})
	f.gateway.notification = &Notification{EventID: "evt-1", ExternalReference: order.ID, Status: models.PaymentStatusSucceeded, SignatureValid: true}

	result, err := f.reconciler.HandleNotification(ctx, NotificationRequest{Body: []byte(`{"type":"payment"}`)})
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, models.PaymentStatusSucceeded, result.Order.Status)

	entries, err := f.history.ListByReference(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "evt-1", entries[0].EventID)
	assert.True(t, entries[0].SignatureValid)
	assert.Empty(t, entries[0].ProcessingError)
	assert.JSONEq(t, `{"body":{"type":"payment"}}`, string(entries[0].Metadata))

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.NotificationsTotal.WithLabelValues("mercadopago", "applied")))
}

func TestHandleNotificationDeduplicates(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)
	f := newReconcilerFixture(t, cache)
	order := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000021"})
	f.gateway.notification = &Notification{EventID: "evt-2", ExternalReference: order.ID, Status: models.PaymentStatusSucceeded}

	_, err := f.reconciler.HandleNotification(ctx, NotificationRequest{})
	require.NoError(t, err)
	assert.True(t, mr.Exists("legalup:payments:webhook:evt-2"))

	result, err := f.reconciler.HandleNotification(ctx, NotificationRequest{})
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Nil(t, result.Order)
	assert.Len(t, f.events.events, 1)

	entries, err := f.history.ListByReference(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestHandleNotificationFailureReleasesDedupKey(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)
	f := newReconcilerFixture(t, cache)
	f.gateway.notification = &Notification{EventID: "evt-3", ExternalReference: "5d7c3b2a-0000-4000-8000-0000000000ff", Status: models.PaymentStatusSucceeded}

	_, err := f.reconciler.HandleNotification(ctx, NotificationRequest{})
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.False(t, mr.Exists("legalup:payments:webhook:evt-3"))

	entries, err := f.history.ListByReference(ctx, "5d7c3b2a-0000-4000-8000-0000000000ff")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ProcessingError, "not found")
}

func TestHandleNotificationApprovedAfterExpiry(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)
	f := newReconcilerFixture(t, cache)
	order := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000020", CreatedAt: time.Now().Add(-48 * time.Hour)})

	report, err := f.reconciler.ReconcilePending(ctx, ReconcileOptions{StaleAfter: time.Minute, ExpireAfter: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 1, Expired: 1}, report)

	f.gateway.notification = &Notification{EventID: "evt-late", ExternalReference: order.ID, Status: models.PaymentStatusSucceeded, SignatureValid: true}
	result, err := f.reconciler.HandleNotification(ctx, NotificationRequest{})
	assert.ErrorIs(t, err, ErrPaymentAfterFailure)
	require.NotNil(t, result)
	assert.Equal(t, models.PaymentStatusFailed, result.Order.Status)

	stored, err := f.ledger.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, stored.Status)

	entries, err := f.history.ListByReference(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.PaymentStatusSucceeded, entries[0].ReportedStatus)
	assert.Contains(t, entries[0].ProcessingError, ErrPaymentAfterFailure.Error())

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.NotificationsTotal.WithLabelValues("mercadopago", "payment_after_failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.OrderErrorsTotal.WithLabelValues("payment_after_failure")))
	// redelivery cannot settle it, so the event stays claimed
	assert.True(t, mr.Exists("legalup:payments:webhook:evt-late"))
}

func TestHandleNotificationRejectedCalls(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		outcome   string
		wantError bool
	}{
		{name: "invalid signature", err: ErrInvalidSignature, outcome: "invalid_signature", wantError: true},
		{name: "ignored topic", err: ErrNotificationIgnored, outcome: "ignored"},
		{name: "gateway down", err: &GatewayError{Gateway: "mercadopago", StatusCode: 500}, outcome: "error", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newReconcilerFixture(t, nil)
			f.gateway.notificationErr = tt.err

			_, err := f.reconciler.HandleNotification(ctx, NotificationRequest{Body: []byte("topic=payment")})
			assert.ErrorIs(t, err, tt.err)

			var entries []models.PaymentCallbackHistory
			require.NoError(t, f.db.Find(&entries).Error)
			require.Len(t, entries, 1)
			assert.False(t, entries[0].SignatureValid)
			assert.Equal(t, tt.wantError, entries[0].ProcessingError != "")
			assert.JSONEq(t, `{"body":"topic=payment"}`, string(entries[0].Metadata))

			assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.NotificationsTotal.WithLabelValues("mercadopago", tt.outcome)))
		})
	}
}

func TestReconcilePending(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, nil)
	now := time.Now()

	paid := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000030", CreatedAt: now.Add(-time.Hour)})
	abandoned := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000031", CreatedAt: now.Add(-25 * time.Hour)})
	waiting := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000032", CreatedAt: now.Add(-2 * time.Hour)})
	inProcess := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000033", CreatedAt: now.Add(-time.Hour)})
	fresh := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000034", CreatedAt: now})

	f.gateway.statuses[paid.ID] = models.PaymentStatusSucceeded
	f.gateway.statuses[inProcess.ID] = models.PaymentStatusPending
	f.gateway.statuses[fresh.ID] = models.PaymentStatusSucceeded

	report, err := f.reconciler.ReconcilePending(ctx, ReconcileOptions{
		StaleAfter:  10 * time.Minute,
		ExpireAfter: 24 * time.Hour,
		BatchSize:   50,
		Workers:     3,
	})
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 4, Updated: 1, Expired: 1, Unchanged: 2}, report)

	statusOf := func(id string) models.PaymentStatus {
		o, err := f.ledger.GetByID(ctx, id)
		require.NoError(t, err)
		return o.Status
	}
	assert.Equal(t, models.PaymentStatusSucceeded, statusOf(paid.ID))
	assert.Equal(t, models.PaymentStatusFailed, statusOf(abandoned.ID))
	assert.Equal(t, models.PaymentStatusPending, statusOf(waiting.ID))
	assert.Equal(t, models.PaymentStatusPending, statusOf(inProcess.ID))
	assert.Equal(t, models.PaymentStatusPending, statusOf(fresh.ID))
}

func TestReconcilePendingAppliesRefundOfMissedCapture(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, nil)
	order := insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000035", CreatedAt: time.Now().Add(-time.Hour)})
	f.gateway.statuses[order.ID] = models.PaymentStatusRefunded

	opts := ReconcileOptions{StaleAfter: time.Minute, ExpireAfter: 24 * time.Hour}
	report, err := f.reconciler.ReconcilePending(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 1, Updated: 1}, report)

	stored, err := f.ledger.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, stored.Status)

	// nothing left pending for the next pass
	report, err = f.reconciler.ReconcilePending(ctx, opts)
	require.NoError(t, err)
	assert.Zero(t, report)
}

func TestReconcilePendingCountsGatewayFailures(t *testing.T) {
	f := newReconcilerFixture(t, nil)
	insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000040", CreatedAt: time.Now().Add(-time.Hour)})
	insertOrder(t, f.db, models.PaymentOrder{ID: "5d7c3b2a-0000-4000-8000-000000000041", CreatedAt: time.Now().Add(-time.Hour)})
	f.gateway.statusErr = &GatewayError{Gateway: "mercadopago", StatusCode: 502}

	report, err := f.reconciler.ReconcilePending(context.Background(), ReconcileOptions{StaleAfter: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 2, Failed: 2}, report)
}

func TestReconcilePendingNothingToDo(t *testing.T) {
	f := newReconcilerFixture(t, nil)

	report, err := f.reconciler.ReconcilePending(context.Background(), ReconcileOptions{StaleAfter: time.Minute})
	require.NoError(t, err)
	assert.Zero(t, report)
	assert.Zero(t, f.gateway.statusCalls)
}
