package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"legalup_payments/internal/config"
	"legalup_payments/internal/models"
)

// MercadoPagoClient talks to the MercadoPago REST API: checkout preferences,
// payment search and webhook notifications
type MercadoPagoClient struct {
	baseURL         string
	accessToken     string
	webhookSecret   string
	notificationURL string
	client          *http.Client
}

func NewMercadoPagoClient(cfg config.MercadoPagoConfig, notificationURL string, timeout time.Duration) *MercadoPagoClient {
	return &MercadoPagoClient{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		accessToken:     cfg.AccessToken,
		webhookSecret:   cfg.WebhookSecret,
		notificationURL: notificationURL,
		client:          &http.Client{Timeout: timeout},
	}
}

type mpPreferenceRequest struct {
	Items             []LineItem   `json:"items"`
	Payer             *Payer       `json:"payer,omitempty"`
	BackURLs          RedirectURLs `json:"back_urls"`
	AutoReturn        string       `json:"auto_return,omitempty"`
	ExternalReference string       `json:"external_reference"`
	NotificationURL   string       `json:"notification_url,omitempty"`
	Expires           bool         `json:"expires,omitempty"`
	ExpirationDateTo  string       `json:"expiration_date_to,omitempty"`
}

const mpTimeLayout = "2006-01-02T15:04:05.000-07:00"

type mpPreferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type mpPayment struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	ExternalReference string      `json:"external_reference"`
}

type mpPaymentSearch struct {
	Results []mpPayment `json:"results"`
}

type mpNotificationBody struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

func (c *MercadoPagoClient) Name() models.PaymentGateway {
	return models.PaymentGatewayMercadoPago
}

func (c *MercadoPagoClient) makeRequest(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return &GatewayError{Gateway: string(c.Name()), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &GatewayError{Gateway: string(c.Name()), StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &GatewayError{Gateway: string(c.Name()), StatusCode: resp.StatusCode, Detail: providerMessage(body)}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return &GatewayError{Gateway: string(c.Name()), StatusCode: resp.StatusCode, Detail: "malformed response body", Err: err}
		}
	}
	return nil
}

// CreateCheckout creates a checkout preference and returns its hosted URL
func (c *MercadoPagoClient) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	pref := mpPreferenceRequest{
		Items:             req.Items,
		BackURLs:          req.RedirectURLs,
		ExternalReference: req.ExternalReference,
		NotificationURL:   c.notificationURL,
	}
	if req.Payer.Email != "" || req.Payer.Name != "" {
		payer := req.Payer
		pref.Payer = &payer
	}
	if !req.ExpiresAt.IsZero() {
		pref.Expires = true
		pref.ExpirationDateTo = req.ExpiresAt.Format(mpTimeLayout)
	}
	// MercadoPago refuses auto_return for non-https back URLs
	if strings.HasPrefix(req.RedirectURLs.Success, "https://") {
		pref.AutoReturn = "approved"
	}

	var resp mpPreferenceResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/checkout/preferences", pref, &resp); err != nil {
		return nil, err
	}

	checkoutURL := resp.InitPoint
	if checkoutURL == "" {
		checkoutURL = resp.SandboxInitPoint
	}
	if checkoutURL == "" || resp.ID == "" {
		return nil, &GatewayError{Gateway: string(c.Name()), StatusCode: http.StatusOK, Detail: "response carries no checkout URL or preference id"}
	}

	return &Checkout{CheckoutURL: checkoutURL, GatewayID: resp.ID}, nil
}

// FetchStatus searches the payments made against externalReference. One
// checkout can collect several attempts, so an approved or refunded attempt
// outranks later rejections.
func (c *MercadoPagoClient) FetchStatus(ctx context.Context, externalReference string) (models.PaymentStatus, error) {
	query := url.Values{}
	query.Set("external_reference", externalReference)
	query.Set("sort", "date_created")
	query.Set("criteria", "desc")

	var search mpPaymentSearch
	if err := c.makeRequest(ctx, http.MethodGet, "/v1/payments/search?"+query.Encode(), nil, &search); err != nil {
		return "", err
	}
	if len(search.Results) == 0 {
		return "", ErrGatewayPaymentNotFound
	}

	statuses := make([]models.PaymentStatus, 0, len(search.Results))
	for _, p := range search.Results {
		statuses = append(statuses, mapMercadoPagoStatus(p.Status))
	}
	return strongestStatus(statuses), nil
}

// ParseNotification handles both webhook (JSON body) and IPN (query string)
// notifications. Only the payment topic is processed.
func (c *MercadoPagoClient) ParseNotification(ctx context.Context, req NotificationRequest) (*Notification, error) {
	var body mpNotificationBody
	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, fmt.Errorf("invalid notification body: %w", err)
		}
	}

	topic := body.Type
	if topic == "" {
		topic = firstNonEmpty(req.Query.Get("type"), req.Query.Get("topic"))
	}
	dataID := firstNonEmpty(req.Query.Get("data.id"), strings.Trim(string(body.Data.ID), `"`), req.Query.Get("id"))

	if topic != "payment" {
		return nil, ErrNotificationIgnored
	}
	if dataID == "" {
		return nil, fmt.Errorf("notification carries no payment id")
	}

	signatureValid := false
	if c.webhookSecret != "" {
		if !c.verifySignature(req.Header, dataID) {
			return nil, ErrInvalidSignature
		}
		signatureValid = true
	}

	var payment mpPayment
	if err := c.makeRequest(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(dataID), nil, &payment); err != nil {
		return nil, err
	}
	if payment.ExternalReference == "" {
		return nil, fmt.Errorf("payment %s has no external reference", dataID)
	}

	status := mapMercadoPagoStatus(payment.Status)
	return &Notification{
		EventID:           fmt.Sprintf("mercadopago:payment:%s:%s", dataID, payment.Status),
		ExternalReference: payment.ExternalReference,
		Status:            status,
		SignatureValid:    signatureValid,
	}, nil
}

// verifySignature checks the x-signature header: v1 is the hex HMAC-SHA256
// of "id:<data.id>;request-id:<x-request-id>;ts:<ts>;" keyed by the secret
func (c *MercadoPagoClient) verifySignature(header http.Header, dataID string) bool {
	var ts, v1 string
	for _, part := range strings.Split(header.Get("x-signature"), ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if ts == "" || v1 == "" {
		return false
	}

	expected := mercadoPagoSignature(c.webhookSecret, dataID, header.Get("x-request-id"), ts)
	return hmac.Equal([]byte(expected), []byte(v1))
}

func mercadoPagoSignature(secret, dataID, requestID, ts string) string {
	var manifest strings.Builder
	if dataID != "" {
		manifest.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		manifest.WriteString("request-id:" + requestID + ";")
	}
	manifest.WriteString("ts:" + ts + ";")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func mapMercadoPagoStatus(status string) models.PaymentStatus {
	switch status {
	case "approved":
		return models.PaymentStatusSucceeded
	case "rejected", "cancelled":
		return models.PaymentStatusFailed
	case "refunded", "charged_back":
		return models.PaymentStatusRefunded
	default:
		// pending, authorized, in_process, in_mediation
		return models.PaymentStatusPending
	}
}

// strongestStatus folds several attempt statuses into the order status:
// refunded > succeeded > pending > failed
func strongestStatus(statuses []models.PaymentStatus) models.PaymentStatus {
	rank := map[models.PaymentStatus]int{
		models.PaymentStatusFailed:    0,
		models.PaymentStatusPending:   1,
		models.PaymentStatusSucceeded: 2,
		models.PaymentStatusRefunded:  3,
	}
	best := models.PaymentStatusFailed
	for _, s := range statuses {
		if rank[s] > rank[best] {
			best = s
		}
	}
	return best
}

// providerMessage extracts a readable message from an error body
func providerMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
