package services

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"

	"legalup_payments/internal/config"
	"legalup_payments/internal/models"
)

const midtransItemNameLimit = 50

// MidtransService is the Snap checkout gateway. The SDK calls cannot be
// cancelled, so each one runs against its own deadline.
type MidtransService struct {
	snapClient snap.Client
	coreClient coreapi.Client
	serverKey  string
	timeout    time.Duration
}

func NewMidtransService(cfg config.MidtransConfig, timeout time.Duration) *MidtransService {
	env := midtrans.Sandbox
	if cfg.IsProduction {
		env = midtrans.Production
	}

	var s snap.Client
	s.New(cfg.ServerKey, env)

	var c coreapi.Client
	c.New(cfg.ServerKey, env)

	return &MidtransService{
		snapClient: s,
		coreClient: c,
		serverKey:  cfg.ServerKey,
		timeout:    timeout,
	}
}

type midtransNotification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
}

func (s *MidtransService) Name() models.PaymentGateway {
	return models.PaymentGatewayMidtrans
}

// callSDK runs fn and gives up once the deadline passes. The goroutine
// finishes on the SDK's own HTTP timeout.
func callSDK[T any](ctx context.Context, timeout time.Duration, fn func() (T, *midtrans.Error)) (T, error) {
	type result struct {
		value T
		err   *midtrans.Error
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, &GatewayError{Gateway: string(models.PaymentGatewayMidtrans), Detail: "request timed out", Err: ctx.Err()}
	case r := <-ch:
		if r.err != nil {
			return r.value, &GatewayError{Gateway: string(models.PaymentGatewayMidtrans), StatusCode: r.err.StatusCode, Detail: r.err.Message}
		}
		return r.value, nil
	}
}

// CreateCheckout creates a Snap transaction whose order id is the ledger id
func (s *MidtransService) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	var gross int64
	items := make([]midtrans.ItemDetails, 0, len(req.Items))
	for _, item := range req.Items {
		name := item.Title
		if len(name) > midtransItemNameLimit {
			name = name[:midtransItemNameLimit]
		}
		items = append(items, midtrans.ItemDetails{
			ID:    item.ID,
			Name:  name,
			Price: item.UnitPrice,
			Qty:   int32(item.Quantity),
		})
		gross += item.UnitPrice * int64(item.Quantity)
	}

	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.ExternalReference,
			GrossAmt: gross,
		},
		Items: &items,
		Callbacks: &snap.Callbacks{
			Finish: req.RedirectURLs.Success,
		},
	}
	if expiry := snapExpiry(req.ExpiresAt, time.Now()); expiry != nil {
		snapReq.Expiry = expiry
	}
	if req.Payer.Email != "" || req.Payer.Name != "" {
		snapReq.CustomerDetail = &midtrans.CustomerDetails{
			FName: req.Payer.Name,
			Email: req.Payer.Email,
		}
	}

	resp, err := callSDK(ctx, s.timeout, func() (*snap.Response, *midtrans.Error) {
		return s.snapClient.CreateTransaction(snapReq)
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.RedirectURL == "" || resp.Token == "" {
		return nil, &GatewayError{Gateway: string(s.Name()), StatusCode: http.StatusOK, Detail: "response carries no redirect URL or token"}
	}

	return &Checkout{CheckoutURL: resp.RedirectURL, GatewayID: resp.Token}, nil
}

// snapExpiry closes the Snap page at or before expiresAt. Snap counts in
// whole minutes from start_time.
func snapExpiry(expiresAt, now time.Time) *snap.ExpiryDetails {
	if expiresAt.IsZero() {
		return nil
	}
	minutes := int64(expiresAt.Sub(now) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return &snap.ExpiryDetails{
		StartTime: now.Format("2006-01-02 15:04:05 -0700"),
		Unit:      "minute",
		Duration:  minutes,
	}
}

// FetchStatus checks the transaction registered under externalReference
func (s *MidtransService) FetchStatus(ctx context.Context, externalReference string) (models.PaymentStatus, error) {
	resp, err := callSDK(ctx, s.timeout, func() (*coreapi.TransactionStatusResponse, *midtrans.Error) {
		return s.coreClient.CheckTransaction(externalReference)
	})
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && gwErr.StatusCode == http.StatusNotFound {
			return "", ErrGatewayPaymentNotFound
		}
		return "", err
	}
	if resp == nil || resp.StatusCode == "404" {
		return "", ErrGatewayPaymentNotFound
	}
	return mapMidtransStatus(resp.TransactionStatus, resp.FraudStatus), nil
}

// ParseNotification verifies the notification signature and normalizes the
// reported transaction status
func (s *MidtransService) ParseNotification(ctx context.Context, req NotificationRequest) (*Notification, error) {
	var n midtransNotification
	if err := json.Unmarshal(req.Body, &n); err != nil {
		return nil, fmt.Errorf("invalid notification body: %w", err)
	}
	if n.OrderID == "" || n.TransactionStatus == "" {
		return nil, ErrNotificationIgnored
	}

	expected := midtransSignature(n.OrderID, n.StatusCode, n.GrossAmount, s.serverKey)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(n.SignatureKey)) != 1 {
		return nil, ErrInvalidSignature
	}

	return &Notification{
		EventID:           fmt.Sprintf("midtrans:%s:%s", n.TransactionID, n.TransactionStatus),
		ExternalReference: n.OrderID,
		Status:            mapMidtransStatus(n.TransactionStatus, n.FraudStatus),
		SignatureValid:    true,
	}, nil
}

// midtransSignature is SHA512(order_id + status_code + gross_amount + server_key)
func midtransSignature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func mapMidtransStatus(transactionStatus, fraudStatus string) models.PaymentStatus {
	switch transactionStatus {
	case "capture":
		switch fraudStatus {
		case "challenge":
			return models.PaymentStatusPending
		case "deny":
			return models.PaymentStatusFailed
		}
		return models.PaymentStatusSucceeded
	case "settlement", "partial_refund", "partial_chargeback":
		return models.PaymentStatusSucceeded
	case "deny", "cancel", "expire", "failure":
		return models.PaymentStatusFailed
	case "refund", "chargeback":
		return models.PaymentStatusRefunded
	default:
		return models.PaymentStatusPending
	}
}
