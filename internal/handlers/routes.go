package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authMiddleware "legalup_payments/internal/middleware"
	"legalup_payments/internal/services"
)

// Routes holds what the HTTP surface needs
type Routes struct {
	Payments      *PaymentHandler
	Webhooks      *WebhookHandler
	Public        *PublicHandler
	Health        *HealthHandler
	TokenVerifier services.TokenVerifier
	Metrics       prometheus.Gatherer
}

// Register mounts every route on e
func (r Routes) Register(e *echo.Echo) {
	e.POST("/create-payment", r.Payments.CreatePayment)
	e.GET("/payments/:id", r.Payments.GetPayment)
	e.GET("/payments/return/:outcome", r.Public.PaymentReturn)
	e.POST("/webhooks/payments", r.Webhooks.PaymentNotification)

	users := e.Group("/users/:user_id")
	users.Use(authMiddleware.RequireIDToken(r.TokenVerifier), authMiddleware.RequireSelf("user_id"))
	users.GET("/payments", r.Payments.ListUserPayments)

	if r.Health != nil {
		e.GET("/healthz", r.Health.Healthz)
	}
	if r.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(r.Metrics, promhttp.HandlerOpts{})))
	}

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"service": "legalup-payments"})
	})
}
