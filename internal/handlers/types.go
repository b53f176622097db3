package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"

	"legalup_payments/internal/models"
)

// requiredPaymentFields are reported back whenever one of them is missing
var requiredPaymentFields = []string{"amount", "user_id", "lawyer_id", "appointment_id"}

// CreatePaymentRequest is the body of POST /create-payment
type CreatePaymentRequest struct {
	Amount        json.Number `json:"amount"`
	Description   string      `json:"description"`
	UserID        string      `json:"user_id"`
	LawyerID      string      `json:"lawyer_id"`
	AppointmentID string      `json:"appointment_id"`
	SuccessURL    string      `json:"success_url"`
	FailureURL    string      `json:"failure_url"`
	PendingURL    string      `json:"pending_url"`
	UserEmail     string      `json:"user_email"`
	UserName      string      `json:"user_name"`
}

// MissingFields lists the required fields absent from the request. A zero
// amount counts as absent.
func (r CreatePaymentRequest) MissingFields() []string {
	var missing []string
	if f, err := r.Amount.Float64(); r.Amount == "" || (err == nil && f == 0) {
		missing = append(missing, "amount")
	}
	if r.UserID == "" {
		missing = append(missing, "user_id")
	}
	if r.LawyerID == "" {
		missing = append(missing, "lawyer_id")
	}
	if r.AppointmentID == "" {
		missing = append(missing, "appointment_id")
	}
	return missing
}

// GrossAmount parses the amount as a positive whole number of the smallest
// currency unit. 10000 and 10000.0 are accepted, 99.5 is not.
func (r CreatePaymentRequest) GrossAmount() (int64, error) {
	if n, err := strconv.ParseInt(string(r.Amount), 10, 64); err == nil {
		if n <= 0 {
			return 0, errors.New("amount must be a positive number")
		}
		return n, nil
	}

	f, err := strconv.ParseFloat(string(r.Amount), 64)
	if err != nil {
		return 0, errors.New("amount must be a number")
	}
	if f <= 0 {
		return 0, errors.New("amount must be a positive number")
	}
	if f != math.Trunc(f) || f > math.MaxInt64/2 {
		return 0, errors.New("amount must be a whole number of the smallest currency unit")
	}
	return int64(f), nil
}

// PaymentView is an order as returned to API callers
type PaymentView struct {
	models.PaymentOrder
	PaymentLink string `json:"payment_link,omitempty"`
}

type CreatePaymentResponse struct {
	Success     bool        `json:"success"`
	Payment     PaymentView `json:"payment"`
	PaymentLink string      `json:"payment_link"`
}

type MissingFieldsResponse struct {
	Error    string   `json:"error"`
	Required []string `json:"required"`
	Missing  []string `json:"missing"`
}

// FailureResponse is the body of every failed payment call. Stack carries
// the wrapped error chain outside production.
type FailureResponse struct {
	Error   string   `json:"error"`
	Details string   `json:"details,omitempty"`
	Stack   []string `json:"stack,omitempty"`
}

type PaymentResponse struct {
	Payment models.PaymentOrder `json:"payment"`
}

type PaymentListResponse struct {
	Payments []models.PaymentOrder `json:"payments"`
}

// errorChain flattens the wrapped errors of err, outermost first
func errorChain(err error) []string {
	var chain []string
	for err != nil {
		chain = append(chain, err.Error())
		err = errors.Unwrap(err)
	}
	return chain
}
