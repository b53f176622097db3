package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"legalup_payments/internal/models"
)

// Reconciler keeps ledger statuses in line with what the gateway reports.
// It never writes orders itself; transitions go through PaymentService.
type Reconciler struct {
	payments *PaymentService
	ledger   OrderLedger
	gateway  PaymentGateway
	history  CallbackHistoryStore
	cache    *RedisCache
	metrics  *PaymentMetrics

	cacheTTL time.Duration
	dedupTTL time.Duration
}

func NewReconciler(payments *PaymentService, ledger OrderLedger, gateway PaymentGateway, history CallbackHistoryStore, cache *RedisCache, metrics *PaymentMetrics, cacheTTL, dedupTTL time.Duration) *Reconciler {
	return &Reconciler{
		payments: payments,
		ledger:   ledger,
		gateway:  gateway,
		history:  history,
		cache:    cache,
		metrics:  metrics,
		cacheTTL: cacheTTL,
		dedupTTL: dedupTTL,
	}
}

// Lookup finds an order by its id or by the gateway reference. Results are
// cached for a short time.
func (r *Reconciler) Lookup(ctx context.Context, idOrReference string) (*models.PaymentOrder, error) {
	if idOrReference == "" {
		return nil, ErrOrderNotFound
	}
	return GetOrSet(r.cache, ctx, orderCacheKey(idOrReference), r.cacheTTL, func() (*models.PaymentOrder, error) {
		return r.find(ctx, idOrReference)
	})
}

func (r *Reconciler) find(ctx context.Context, idOrReference string) (*models.PaymentOrder, error) {
	// Order ids are UUIDs. Some gateway references are too.
	if _, err := uuid.Parse(idOrReference); err == nil {
		order, err := r.ledger.GetByID(ctx, idOrReference)
		if !errors.Is(err, ErrOrderNotFound) {
			return order, err
		}
	}
	return r.ledger.GetByGatewayReference(ctx, idOrReference)
}

// ListForUser returns the orders where userID is the client or the lawyer
func (r *Reconciler) ListForUser(ctx context.Context, userID string) ([]models.PaymentOrder, error) {
	return r.ledger.ListByParticipant(ctx, userID)
}

// Refresh asks the gateway for the latest status of an order that can still
// change and applies it
func (r *Reconciler) Refresh(ctx context.Context, idOrReference string) (*models.PaymentOrder, error) {
	order, err := r.find(ctx, idOrReference)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return order, nil
	}

	status, err := r.gateway.FetchStatus(ctx, order.ID)
	if errors.Is(err, ErrGatewayPaymentNotFound) {
		return order, nil
	}
	if err != nil {
		return nil, err
	}
	if status == order.Status {
		return order, nil
	}

	updated, err := r.payments.ApplyGatewayStatus(ctx, order.ID, status)
	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrPaymentAfterFailure) {
		log.Printf("Gateway reported %s for order %s in status %s, not applied: %v", status, order.ID, order.Status, err)
		return r.ledger.GetByID(ctx, order.ID)
	}
	return updated, err
}

// NotificationResult describes what a webhook call did
type NotificationResult struct {
	Notification *Notification
	Order        *models.PaymentOrder
	Duplicate    bool
}

// HandleNotification verifies a gateway webhook, records it and applies the
// reported status. Every received call lands in the callback history.
func (r *Reconciler) HandleNotification(ctx context.Context, req NotificationRequest) (*NotificationResult, error) {
	n, err := r.gateway.ParseNotification(ctx, req)

	entry := &models.PaymentCallbackHistory{
		PaymentGateway: r.gateway.Name(),
		Metadata:       notificationMetadata(req),
	}
	if n != nil {
		entry.EventID = n.EventID
		entry.ExternalReference = n.ExternalReference
		entry.ReportedStatus = n.Status
		entry.SignatureValid = n.SignatureValid
	}

	result, err := r.applyNotification(ctx, n, err)
	if err != nil && !errors.Is(err, ErrNotificationIgnored) {
		entry.ProcessingError = err.Error()
	}
	if recErr := r.history.Record(ctx, entry); recErr != nil {
		log.Printf("Failed to record %s notification: %v", r.gateway.Name(), recErr)
	}

	r.metrics.RecordNotification(r.gateway.Name(), notificationOutcome(result, err))
	return result, err
}

func (r *Reconciler) applyNotification(ctx context.Context, n *Notification, parseErr error) (*NotificationResult, error) {
	if parseErr != nil {
		return nil, parseErr
	}
	result := &NotificationResult{Notification: n}

	dedupKey := "webhook:" + n.EventID
	first, err := r.cache.SetNX(ctx, dedupKey, time.Now().Unix(), r.dedupTTL)
	if err == nil && !first {
		result.Duplicate = true
		return result, nil
	}

	order, err := r.ledger.GetByID(ctx, n.ExternalReference)
	if err != nil {
		_ = r.cache.Delete(ctx, dedupKey)
		return result, err
	}
	result.Order = order

	updated, err := r.payments.ApplyGatewayStatus(ctx, order.ID, n.Status)
	if errors.Is(err, ErrPaymentAfterFailure) {
		// redelivery cannot settle it; the history entry flags it for review
		return result, err
	}
	if err != nil {
		// let the gateway's redelivery try again
		_ = r.cache.Delete(ctx, dedupKey)
		return result, err
	}

	result.Order = updated
	return result, nil
}

func notificationOutcome(result *NotificationResult, err error) string {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrNotificationIgnored):
		return "ignored"
	case errors.Is(err, ErrPaymentAfterFailure):
		return "payment_after_failure"
	case err != nil:
		return "error"
	case result != nil && result.Duplicate:
		return "duplicate"
	}
	return "applied"
}

// ReconcileOptions bounds one reconciliation pass
type ReconcileOptions struct {
	StaleAfter  time.Duration
	ExpireAfter time.Duration
	BatchSize   int
	Workers     int
}

// ReconcileReport summarizes one reconciliation pass
type ReconcileReport struct {
	Checked   int
	Updated   int
	Expired   int
	Failed    int
	Unchanged int
}

// ReconcilePending polls the gateway for pending orders older than
// StaleAfter. Orders the gateway still has no payment for after ExpireAfter
// are marked failed.
func (r *Reconciler) ReconcilePending(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error) {
	var report ReconcileReport

	orders, err := r.ledger.ListStalePending(ctx, opts.StaleAfter, opts.BatchSize)
	if err != nil {
		return report, err
	}
	if len(orders) == 0 {
		log.Println("[Reconciler] No stale pending orders")
		return report, nil
	}
	log.Printf("[Reconciler] Checking %d stale pending orders", len(orders))

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan models.PaymentOrder, len(orders))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for order := range jobs {
				outcome, err := r.reconcileOne(ctx, order, opts.ExpireAfter)
				if err != nil {
					log.Printf("[Reconciler] Worker %d failed on %s: %v", id, order.ID, err)
				}

				mu.Lock()
				report.Checked++
				switch outcome {
				case reconcileUpdated:
					report.Updated++
				case reconcileExpired:
					report.Expired++
				case reconcileFailed:
					report.Failed++
				default:
					report.Unchanged++
				}
				mu.Unlock()
			}
		}(w)
	}

	for _, order := range orders {
		jobs <- order
	}
	close(jobs)
	wg.Wait()

	log.Printf("[Reconciler] Done: %+v", report)
	return report, nil
}

type reconcileOutcome int

const (
	reconcileUnchanged reconcileOutcome = iota
	reconcileUpdated
	reconcileExpired
	reconcileFailed
)

func (r *Reconciler) reconcileOne(ctx context.Context, order models.PaymentOrder, expireAfter time.Duration) (reconcileOutcome, error) {
	status, err := r.gateway.FetchStatus(ctx, order.ID)
	if errors.Is(err, ErrGatewayPaymentNotFound) {
		if expireAfter > 0 && time.Since(order.CreatedAt) >= expireAfter {
			if _, err := r.payments.ApplyGatewayStatus(ctx, order.ID, models.PaymentStatusFailed); err != nil {
				return reconcileFailed, err
			}
			return reconcileExpired, nil
		}
		return reconcileUnchanged, nil
	}
	if err != nil {
		return reconcileFailed, err
	}
	if status == order.Status {
		return reconcileUnchanged, nil
	}

	if _, err := r.payments.ApplyGatewayStatus(ctx, order.ID, status); err != nil {
		return reconcileFailed, err
	}
	return reconcileUpdated, nil
}
