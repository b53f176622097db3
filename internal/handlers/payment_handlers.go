package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"legalup_payments/internal/models"
	"legalup_payments/internal/services"
)

type PaymentHandler struct {
	payments   *services.PaymentService
	reconciler *services.Reconciler
	production bool
}

func NewPaymentHandler(payments *services.PaymentService, reconciler *services.Reconciler, production bool) *PaymentHandler {
	return &PaymentHandler{payments: payments, reconciler: reconciler, production: production}
}

// CreatePayment records a payment order and answers with the checkout link
func (h *PaymentHandler) CreatePayment(c echo.Context) error {
	var req CreatePaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, FailureResponse{
			Error:   "Invalid request body",
			Details: err.Error(),
		})
	}

	if missing := req.MissingFields(); len(missing) > 0 {
		return c.JSON(http.StatusBadRequest, MissingFieldsResponse{
			Error:    "Missing required fields",
			Required: requiredPaymentFields,
			Missing:  missing,
		})
	}

	amount, err := req.GrossAmount()
	if err != nil {
		return c.JSON(http.StatusBadRequest, FailureResponse{
			Error:   "Invalid amount",
			Details: err.Error(),
		})
	}

	result, err := h.payments.CreateOrder(c.Request().Context(), services.CreateOrderRequest{
		GrossAmount:      amount,
		ClientID:         req.UserID,
		RecipientID:      req.LawyerID,
		BookingReference: req.AppointmentID,
		Description:      req.Description,
		RedirectURLs: services.RedirectURLs{
			Success: req.SuccessURL,
			Failure: req.FailureURL,
			Pending: req.PendingURL,
		},
		PayerEmail: req.UserEmail,
		PayerName:  req.UserName,
	})
	if err != nil {
		return h.createPaymentFailure(c, err)
	}

	return c.JSON(http.StatusOK, CreatePaymentResponse{
		Success:     true,
		Payment:     PaymentView{PaymentOrder: *result.Order, PaymentLink: result.RedirectURL},
		PaymentLink: result.RedirectURL,
	})
}

func (h *PaymentHandler) createPaymentFailure(c echo.Context, err error) error {
	code := http.StatusInternalServerError
	resp := FailureResponse{Error: "Failed to create payment", Details: err.Error()}

	var validationErr *services.ValidationError
	var ledgerErr *services.LedgerWriteError
	var gatewayErr *services.GatewayError
	switch {
	case errors.As(err, &validationErr):
		if len(validationErr.Missing) > 0 {
			return c.JSON(http.StatusBadRequest, MissingFieldsResponse{
				Error:    "Missing required fields",
				Required: requiredPaymentFields,
				Missing:  validationErr.Missing,
			})
		}
		code = http.StatusBadRequest
		resp.Error = "Invalid payment request"
	case errors.As(err, &ledgerErr):
		resp.Error = "Failed to record payment order"
	case errors.As(err, &gatewayErr):
		resp.Error = "Failed to create payment preference"
	}

	if code >= http.StatusInternalServerError {
		log.Printf("Create payment failed: %v", err)
		if !h.production {
			resp.Stack = errorChain(err)
		}
	}
	return c.JSON(code, resp)
}

// GetPayment returns one order by id or gateway reference. With
// refresh=true the gateway is asked for the latest status first.
func (h *PaymentHandler) GetPayment(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	var (
		order *models.PaymentOrder
		err   error
	)
	if c.QueryParam("refresh") == "true" {
		order, err = h.reconciler.Refresh(ctx, id)
	} else {
		order, err = h.reconciler.Lookup(ctx, id)
	}
	if err != nil {
		return lookupError(err)
	}

	return c.JSON(http.StatusOK, PaymentResponse{Payment: *order})
}

// ListUserPayments returns the orders where the user pays or gets paid
func (h *PaymentHandler) ListUserPayments(c echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	orders, err := h.reconciler.ListForUser(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch payments").SetInternal(err)
	}
	if orders == nil {
		orders = []models.PaymentOrder{}
	}

	return c.JSON(http.StatusOK, PaymentListResponse{Payments: orders})
}

func lookupError(err error) error {
	var gatewayErr *services.GatewayError
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Payment not found")
	case errors.As(err, &gatewayErr):
		return echo.NewHTTPError(http.StatusBadGateway, gatewayErr.Error()).SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch payment").SetInternal(err)
}
