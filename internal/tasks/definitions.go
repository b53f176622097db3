package tasks

import (
	"legalup_payments/internal/services"
)

// DefineTasks registers all available tasks
func DefineTasks(registry *Registry, reconciler *services.Reconciler, defaults services.ReconcileOptions) {
	registry.RegisterTask(NewReconcilePaymentsTask(reconciler, defaults))
	registry.RegisterTask(NewRefreshPaymentTask(reconciler))
}
