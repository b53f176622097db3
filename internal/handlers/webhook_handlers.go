package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"legalup_payments/internal/services"
)

const maxNotificationBody = 1 << 20

type WebhookHandler struct {
	reconciler *services.Reconciler
}

func NewWebhookHandler(reconciler *services.Reconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// PaymentNotification receives gateway status notifications. Any non-2xx
// answer makes the gateway deliver the notification again.
func (h *WebhookHandler) PaymentNotification(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxNotificationBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read notification body")
	}

	result, err := h.reconciler.HandleNotification(c.Request().Context(), services.NotificationRequest{
		Header: c.Request().Header,
		Query:  c.QueryParams(),
		Body:   body,
	})

	switch {
	case err == nil:
	case errors.Is(err, services.ErrNotificationIgnored):
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	case errors.Is(err, services.ErrInvalidSignature):
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid notification signature")
	case errors.Is(err, services.ErrPaymentAfterFailure):
		// recorded in the callback history; redelivery cannot settle it
		log.Printf("Notification needs review: %v", err)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":     "needs_review",
			"payment_id": result.Order.ID,
			"state":      result.Order.Status,
		})
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrInvalidTransition):
		// redelivery cannot change the outcome
		log.Printf("Notification not applied: %v", err)
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	default:
		var gatewayErr *services.GatewayError
		if errors.As(err, &gatewayErr) {
			return echo.NewHTTPError(http.StatusBadGateway, "Failed to confirm notification with gateway").SetInternal(err)
		}
		if result == nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to process notification").SetInternal(err)
	}

	if result.Duplicate {
		return c.JSON(http.StatusOK, map[string]string{"status": "duplicate"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"payment_id": result.Order.ID,
		"state":      result.Order.Status,
	})
}
