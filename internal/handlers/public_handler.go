package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"legalup_payments/internal/models"
	"legalup_payments/internal/services"
	"legalup_payments/web/templates/pages"
)

var returnOutcomes = map[string]bool{"success": true, "failure": true, "pending": true}

// PublicHandler serves the pages the gateway redirects the payer back to
type PublicHandler struct {
	reconciler *services.Reconciler
}

func NewPublicHandler(reconciler *services.Reconciler) *PublicHandler {
	return &PublicHandler{reconciler: reconciler}
}

// PaymentReturn renders the landing page after checkout. The shown status
// comes from the ledger after asking the gateway, never from the redirect.
func (h *PublicHandler) PaymentReturn(c echo.Context) error {
	outcome := c.Param("outcome")
	if !returnOutcomes[outcome] {
		return echo.NewHTTPError(http.StatusNotFound, "Page not found")
	}

	// MercadoPago appends external_reference, Midtrans appends order_id
	reference := firstQueryParam(c, "external_reference", "order_id", "preference_id")
	props := pages.PaymentReturnProps{Outcome: outcome}

	if reference != "" {
		order, err := h.refresh(c.Request().Context(), reference)
		switch {
		case err == nil:
			props.Order = order
		case errors.Is(err, services.ErrOrderNotFound):
			log.Printf("Return page for unknown payment reference %s", reference)
		default:
			log.Printf("Failed to refresh payment %s: %v", reference, err)
			props.Notice = "We could not reach the payment provider. The status shown may be out of date."
			props.Order, _ = h.reconciler.Lookup(c.Request().Context(), reference)
		}
	}

	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return pages.PaymentReturn(props).Render(c.Request().Context(), c.Response())
}

func (h *PublicHandler) refresh(ctx context.Context, reference string) (*models.PaymentOrder, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return h.reconciler.Refresh(ctx, reference)
}

func firstQueryParam(c echo.Context, names ...string) string {
	for _, name := range names {
		if v := c.QueryParam(name); v != "" {
			return v
		}
	}
	return ""
}
