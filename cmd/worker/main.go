package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"legalup_payments/internal/app"
	"legalup_payments/internal/config"
	"legalup_payments/internal/models"
	"legalup_payments/internal/services"
	"legalup_payments/internal/tasks"
)

const tickInterval = time.Minute

func main() {
	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	if err := services.RunMigrations(a.DB); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	registry := tasks.NewRegistry()
	tasks.DefineTasks(registry, a.Reconciler, a.ReconcileOptions())
	log.Printf("Registered tasks: %v", registry.Names())

	rule := cfg.Reconcile.Rule
	reconcileTask, err := tasks.BuildScheduledTask(tasks.ReconcilePaymentsTaskID, tasks.ReconcileArgs{}, time.Now(), &rule, models.ScheduledTaskTypeRecurring, cfg.Reconcile.MaxAttempt)
	if err != nil {
		log.Fatalf("Failed to build reconcile task: %v", err)
	}
	created, err := tasks.EnsureRecurring(ctx, a.DB, reconcileTask)
	if err != nil {
		log.Fatalf("Failed to schedule reconcile task: %v", err)
	}
	if created {
		log.Printf("Scheduled %s with rule %s", tasks.ReconcilePaymentsTaskID, rule)
	}

	log.Println("Worker started. Waiting for next tick...")
	tasks.NewRunner(a.DB, registry).Run(ctx, tickInterval)
	log.Println("Shutting down worker...")
}
