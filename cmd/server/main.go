package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"legalup_payments/internal/app"
	"legalup_payments/internal/config"
	"legalup_payments/internal/handlers"
	authMiddleware "legalup_payments/internal/middleware"
	"legalup_payments/internal/services"
)

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

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = authMiddleware.CustomErrorHandler

	requestID, err := authMiddleware.RequestID()
	if err != nil {
		log.Fatalf("Failed to create request id generator: %v", err)
	}
	e.Use(requestID)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	handlers.Routes{
		Payments:      handlers.NewPaymentHandler(a.Payments, a.Reconciler, cfg.IsProduction()),
		Webhooks:      handlers.NewWebhookHandler(a.Reconciler),
		Public:        handlers.NewPublicHandler(a.Reconciler),
		Health:        handlers.NewHealthHandler(a.DB, a.Cache),
		TokenVerifier: a.TokenVerifier(),
		Metrics:       a.Registry,
	}.Register(e)

	go func() {
		log.Printf("Server starting on port %s (gateway: %s)", cfg.Port, a.Gateway.Name())
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
		os.Exit(1)
	}
}
