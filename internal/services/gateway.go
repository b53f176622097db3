package services

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"legalup_payments/internal/models"
)

// LineItem is one purchasable entry of a checkout
type LineItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Currency  string `json:"currency_id"`
}

// Payer is the contact info handed to the gateway's hosted checkout
type Payer struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// RedirectURLs are where the gateway sends the browser after checkout
type RedirectURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type CheckoutRequest struct {
	Items             []LineItem
	Payer             Payer
	RedirectURLs      RedirectURLs
	ExternalReference string
	// ExpiresAt closes the checkout; zero keeps it open
	ExpiresAt time.Time
}

// Checkout is the gateway acknowledgement of a created checkout
type Checkout struct {
	CheckoutURL string
	GatewayID   string
}

// NotificationRequest is the raw webhook call as received
type NotificationRequest struct {
	Header http.Header
	Query  url.Values
	Body   []byte
}

// Notification is a verified, provider-neutral status report
type Notification struct {
	EventID           string
	ExternalReference string
	Status            models.PaymentStatus
	SignatureValid    bool
}

// PaymentGateway abstracts the external payment provider
type PaymentGateway interface {
	Name() models.PaymentGateway
	// CreateCheckout performs exactly one outbound call and never retries
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	// FetchStatus asks the provider for the latest status of the payment
	// correlated to externalReference. ErrGatewayPaymentNotFound when the
	// provider has none yet.
	FetchStatus(ctx context.Context, externalReference string) (models.PaymentStatus, error)
	// ParseNotification verifies and normalizes a webhook call.
	// ErrInvalidSignature on verification failure, ErrNotificationIgnored
	// for topics that do not concern payments.
	ParseNotification(ctx context.Context, req NotificationRequest) (*Notification, error)
}
