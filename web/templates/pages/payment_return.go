package pages

import (
	"strconv"
	"strings"

	"legalup_payments/internal/models"
)

// Heading follows the ledger status. The redirect outcome only matters
// while the order is unknown or still pending.
func (p PaymentReturnProps) Heading() string {
	if p.Order != nil {
		switch p.Order.Status {
		case models.PaymentStatusSucceeded:
			return "Payment confirmed"
		case models.PaymentStatusFailed:
			return "Payment failed"
		case models.PaymentStatusRefunded:
			return "Payment refunded"
		}
		return "Payment being confirmed"
	}
	switch p.Outcome {
	case "failure":
		return "Payment not completed"
	case "pending":
		return "Payment pending"
	}
	return "Payment received"
}

func (p PaymentReturnProps) Message() string {
	if p.Order == nil {
		return "We could not match this page to a payment yet. Your booking will update as soon as the payment provider confirms it."
	}
	switch p.Order.Status {
	case models.PaymentStatusSucceeded:
		return "Your lawyer has been notified and your appointment is confirmed."
	case models.PaymentStatusFailed:
		return "No charge was made. You can book the appointment again to retry the payment."
	case models.PaymentStatusRefunded:
		return "The amount has been returned to your payment method."
	}
	return "The payment provider has not confirmed this payment yet. This page will show the final result once it does."
}

// Tone is the visual state of the page
func (p PaymentReturnProps) Tone() string {
	if p.Order == nil {
		return "neutral"
	}
	switch p.Order.Status {
	case models.PaymentStatusSucceeded:
		return "success"
	case models.PaymentStatusFailed:
		return "error"
	}
	return "neutral"
}

// Amount formats the gross amount with thousands separators
func (p PaymentReturnProps) Amount() string {
	if p.Order == nil {
		return ""
	}
	digits := strconv.FormatInt(p.Order.TotalAmount, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return p.Order.Currency + " " + b.String()
}
