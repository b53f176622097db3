package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"legalup_payments/internal/models"
)

// PaymentServiceConfig holds the deployment settings of the orchestrator
type PaymentServiceConfig struct {
	Currency       string
	PlatformFeeBps int64
	DefaultTitle   string
	RedirectURLs   RedirectURLs
	CacheTTL       time.Duration
	// CheckoutExpiry closes the gateway checkout this long after the order
	// is created. Zero leaves it open.
	CheckoutExpiry time.Duration
}

const maxStatusAttempts = 3

// PaymentService is the only writer of payment orders
type PaymentService struct {
	ledger  OrderLedger
	gateway PaymentGateway
	cache   *RedisCache
	events  EventPublisher
	metrics *PaymentMetrics
	cfg     PaymentServiceConfig

	newID func() string
}

func NewPaymentService(ledger OrderLedger, gateway PaymentGateway, cache *RedisCache, events EventPublisher, metrics *PaymentMetrics, cfg PaymentServiceConfig) *PaymentService {
	if events == nil {
		events = NoopPublisher{}
	}
	return &PaymentService{
		ledger:  ledger,
		gateway: gateway,
		cache:   cache,
		events:  events,
		metrics: metrics,
		cfg:     cfg,
		newID:   uuid.NewString,
	}
}

// CreateOrderRequest is a validated-on-entry payment request
type CreateOrderRequest struct {
	GrossAmount      int64
	ClientID         string
	RecipientID      string
	BookingReference string
	Description      string
	RedirectURLs     RedirectURLs
	PayerEmail       string
	PayerName        string
}

// CreateOrderResult carries the recorded order and where to send the payer
type CreateOrderResult struct {
	Order       *models.PaymentOrder
	RedirectURL string
}

// Validate reports missing required fields first, then bad values
func (r CreateOrderRequest) Validate() error {
	var missing []string
	if r.GrossAmount == 0 {
		missing = append(missing, "amount")
	}
	if r.ClientID == "" {
		missing = append(missing, "user_id")
	}
	if r.RecipientID == "" {
		missing = append(missing, "lawyer_id")
	}
	if r.BookingReference == "" {
		missing = append(missing, "appointment_id")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	if r.GrossAmount < 0 {
		return &ValidationError{Reason: "amount must be a positive integer"}
	}
	return nil
}

// CreateOrder records a pending order, opens a checkout for it at the
// gateway and returns the checkout URL. A gateway failure leaves the order
// in the ledger as failed.
func (s *PaymentService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if err := req.Validate(); err != nil {
		s.metrics.RecordError("validation")
		return nil, err
	}

	split := SplitAmount(req.GrossAmount, s.cfg.PlatformFeeBps)

	order := &models.PaymentOrder{
		ID:                 s.newID(),
		ClientUserID:       req.ClientID,
		LawyerUserID:       req.RecipientID,
		AppointmentID:      req.BookingReference,
		TotalAmount:        req.GrossAmount,
		LawyerAmount:       split.LawyerAmount,
		PlatformFee:        split.PlatformFee,
		Currency:           s.cfg.Currency,
		Status:             models.PaymentStatusPending,
		ServiceDescription: req.Description,
		PaymentGateway:     s.gateway.Name(),
	}

	if err := s.ledger.Insert(ctx, order); err != nil {
		s.metrics.RecordError("ledger")
		return nil, &LedgerWriteError{Err: err}
	}
	s.metrics.RecordOrderCreated(order)

	started := time.Now()
	checkout, err := s.gateway.CreateCheckout(ctx, CheckoutRequest{
		Items: []LineItem{{
			ID:        req.BookingReference,
			Title:     s.itemTitle(req.Description),
			Quantity:  1,
			UnitPrice: req.GrossAmount,
			Currency:  s.cfg.Currency,
		}},
		Payer:             Payer{Email: req.PayerEmail, Name: req.PayerName},
		RedirectURLs:      s.redirectURLs(req.RedirectURLs),
		ExternalReference: order.ID,
		ExpiresAt:         s.checkoutExpiresAt(order),
	})
	s.metrics.RecordGatewayCall(order.PaymentGateway, started, err)

	if err != nil {
		s.metrics.RecordError("gateway")
		if updateErr := s.ledger.UpdateStatus(ctx, order.ID, models.PaymentStatusPending, models.PaymentStatusFailed, nil); updateErr != nil {
			log.Printf("Failed to mark order %s as failed: %v", order.ID, updateErr)
		} else {
			order.Status = models.PaymentStatusFailed
			s.metrics.RecordTransition(models.PaymentStatusPending, models.PaymentStatusFailed)
		}
		s.publish(ctx, order, "")

		var gwErr *GatewayError
		if !errors.As(err, &gwErr) {
			err = &GatewayError{Gateway: string(order.PaymentGateway), Err: err}
		}
		return nil, err
	}

	if err := s.ledger.UpdateStatus(ctx, order.ID, models.PaymentStatusPending, models.PaymentStatusPending, &checkout.GatewayID); err != nil {
		// The checkout exists at the gateway; the reconciler correlates it
		// back through the external reference.
		log.Printf("Failed to store gateway reference %s for order %s: %v", checkout.GatewayID, order.ID, err)
	} else {
		order.PaymentGatewayID = &checkout.GatewayID
	}
	s.publish(ctx, order, "")

	return &CreateOrderResult{Order: order, RedirectURL: checkout.CheckoutURL}, nil
}

// ApplyGatewayStatus moves an order to the status the gateway reported.
// Reporting the current status again is a no-op. Every step is written only
// if the order still holds the status it was read with; a lost race is
// retried on a fresh read.
func (s *PaymentService) ApplyGatewayStatus(ctx context.Context, orderID string, status models.PaymentStatus) (*models.PaymentOrder, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("unknown payment status %q", status)
	}

	var err error
	for attempt := 1; attempt <= maxStatusAttempts; attempt++ {
		var order *models.PaymentOrder
		order, err = s.ledger.GetByID(ctx, orderID)
		if err != nil {
			return nil, err
		}

		order, err = s.advance(ctx, order, status)
		if !errors.Is(err, ErrStatusConflict) {
			return order, err
		}
		log.Printf("Payment order %s changed while applying %s (attempt %d): %v", orderID, status, attempt, err)
	}
	s.metrics.RecordError("status_conflict")
	return nil, err
}

func (s *PaymentService) advance(ctx context.Context, order *models.PaymentOrder, status models.PaymentStatus) (*models.PaymentOrder, error) {
	if order.Status == status {
		return order, nil
	}
	if order.Status == models.PaymentStatusFailed && (status == models.PaymentStatusSucceeded || status == models.PaymentStatusRefunded) {
		s.metrics.RecordError("payment_after_failure")
		log.Printf("Gateway reports %s for failed payment order %s, needs review", status, order.ID)
		return nil, fmt.Errorf("%w: order %s, gateway reports %s", ErrPaymentAfterFailure, order.ID, status)
	}

	path := order.Status.PathTo(status)
	if path == nil {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, status)
	}

	moved := false
	defer func() {
		if moved {
			s.invalidate(ctx, order)
		}
	}()

	for _, next := range path {
		previous := order.Status
		if err := s.ledger.UpdateStatus(ctx, order.ID, previous, next, nil); err != nil {
			return nil, err
		}
		moved = true
		order.Status = next
		order.UpdatedAt = time.Now()

		s.metrics.RecordTransition(previous, next)
		s.publish(ctx, order, previous)
		log.Printf("Payment order %s moved from %s to %s", order.ID, previous, next)
	}
	return order, nil
}

func (s *PaymentService) checkoutExpiresAt(order *models.PaymentOrder) time.Time {
	if s.cfg.CheckoutExpiry <= 0 {
		return time.Time{}
	}
	created := order.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return created.Add(s.cfg.CheckoutExpiry)
}

func (s *PaymentService) itemTitle(description string) string {
	if description != "" {
		return description
	}
	return s.cfg.DefaultTitle
}

func (s *PaymentService) redirectURLs(requested RedirectURLs) RedirectURLs {
	urls := s.cfg.RedirectURLs
	if requested.Success != "" {
		urls.Success = requested.Success
	}
	if requested.Failure != "" {
		urls.Failure = requested.Failure
	}
	if requested.Pending != "" {
		urls.Pending = requested.Pending
	}
	return urls
}

func (s *PaymentService) publish(ctx context.Context, order *models.PaymentOrder, previous models.PaymentStatus) {
	if err := s.events.PublishOrderEvent(ctx, NewOrderEvent(order, previous)); err != nil {
		log.Printf("Failed to publish event for order %s: %v", order.ID, err)
	}
}

func (s *PaymentService) invalidate(ctx context.Context, order *models.PaymentOrder) {
	keys := []string{orderCacheKey(order.ID)}
	if order.PaymentGatewayID != nil {
		keys = append(keys, orderCacheKey(*order.PaymentGatewayID))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		log.Printf("Failed to invalidate cache for order %s: %v", order.ID, err)
	}
}

func orderCacheKey(idOrReference string) string {
	return "order:" + idOrReference
}
