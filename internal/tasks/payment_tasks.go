package tasks

import (
	"context"
	"errors"
	"log"

	"legalup_payments/internal/models"
	"legalup_payments/internal/services"
)

const (
	ReconcilePaymentsTaskID = "reconcile_payments"
	RefreshPaymentTaskID    = "refresh_payment"
)

// ReconcileArgs are the arguments of a reconcile_payments task. Zero values
// fall back to the worker configuration.
type ReconcileArgs struct {
	StaleAfter  string `json:"stale_after,omitempty"`
	ExpireAfter string `json:"expire_after,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
	Workers     int    `json:"workers,omitempty"`
}

// ReconcilePaymentsTaskDef asks the gateway about stale pending orders
type ReconcilePaymentsTaskDef struct {
	reconciler *services.Reconciler
	defaults   services.ReconcileOptions
}

func NewReconcilePaymentsTask(reconciler *services.Reconciler, defaults services.ReconcileOptions) *ReconcilePaymentsTaskDef {
	return &ReconcilePaymentsTaskDef{reconciler: reconciler, defaults: defaults}
}

func (t *ReconcilePaymentsTaskDef) TaskID() string {
	return ReconcilePaymentsTaskID
}

func (t *ReconcilePaymentsTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	opts := services.ReconcileOptions{
		StaleAfter:  argDuration(task.Arguments, "stale_after", t.defaults.StaleAfter),
		ExpireAfter: argDuration(task.Arguments, "expire_after", t.defaults.ExpireAfter),
		BatchSize:   argInt(task.Arguments, "batch_size", t.defaults.BatchSize),
		Workers:     argInt(task.Arguments, "workers", t.defaults.Workers),
	}

	report, err := t.reconciler.ReconcilePending(ctx, opts)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"checked":   report.Checked,
		"updated":   report.Updated,
		"expired":   report.Expired,
		"failed":    report.Failed,
		"unchanged": report.Unchanged,
	}, nil
}

// RefreshPaymentArgs are the arguments of a refresh_payment task
type RefreshPaymentArgs struct {
	PaymentID string `json:"payment_id"`
}

// RefreshPaymentTaskDef re-checks a single order with the gateway
type RefreshPaymentTaskDef struct {
	reconciler *services.Reconciler
}

func NewRefreshPaymentTask(reconciler *services.Reconciler) *RefreshPaymentTaskDef {
	return &RefreshPaymentTaskDef{reconciler: reconciler}
}

func (t *RefreshPaymentTaskDef) TaskID() string {
	return RefreshPaymentTaskID
}

func (t *RefreshPaymentTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	paymentID, _ := task.Arguments["payment_id"].(string)
	if paymentID == "" {
		return nil, errors.New("payment_id argument is required")
	}

	order, err := t.reconciler.Refresh(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	log.Printf("[Task: %s] Payment %s is %s", RefreshPaymentTaskID, order.ID, order.Status)

	return map[string]interface{}{
		"payment_id": order.ID,
		"status":     string(order.Status),
	}, nil
}
