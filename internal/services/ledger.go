package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"legalup_payments/internal/models"
)

// OrderLedger is the persistence boundary for payment orders. It carries no
// business rules beyond keeping the gateway reference write-once.
type OrderLedger interface {
	Insert(ctx context.Context, order *models.PaymentOrder) error
	UpdateStatus(ctx context.Context, id string, from, to models.PaymentStatus, gatewayReference *string) error
	GetByID(ctx context.Context, id string) (*models.PaymentOrder, error)
	GetByGatewayReference(ctx context.Context, reference string) (*models.PaymentOrder, error)
	ListByParticipant(ctx context.Context, userID string) ([]models.PaymentOrder, error)
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.PaymentOrder, error)
}

// GormLedger stores payment orders in the payments table
type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// Insert persists a new order. Id collisions surface as the primary key
// violation reported by the database.
func (l *GormLedger) Insert(ctx context.Context, order *models.PaymentOrder) error {
	return l.db.WithContext(ctx).Create(order).Error
}

// UpdateStatus moves the order from status from to status to and, when
// given, sets the gateway reference. The write only lands while the stored
// status is still from; otherwise ErrStatusConflict. A reference that is
// already set to a different value is never overwritten.
func (l *GormLedger) UpdateStatus(ctx context.Context, id string, from, to models.PaymentStatus, gatewayReference *string) error {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}

	query := l.db.WithContext(ctx).Model(&models.PaymentOrder{}).Where("id = ? AND status = ?", id, from)
	if gatewayReference != nil {
		updates["payment_gateway_id"] = *gatewayReference
		query = query.Where("(payment_gateway_id IS NULL OR payment_gateway_id = ?)", *gatewayReference)
	}

	res := query.Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		current, err := l.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != from {
			return fmt.Errorf("%w: order %s is %s, expected %s", ErrStatusConflict, id, current.Status, from)
		}
		return ErrGatewayReferenceAlreadySet
	}
	return nil
}

func (l *GormLedger) GetByID(ctx context.Context, id string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if err := l.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (l *GormLedger) GetByGatewayReference(ctx context.Context, reference string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if err := l.db.WithContext(ctx).Where("payment_gateway_id = ?", reference).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ListByParticipant returns the orders where userID is the client or the
// lawyer, newest first
func (l *GormLedger) ListByParticipant(ctx context.Context, userID string) ([]models.PaymentOrder, error) {
	var orders []models.PaymentOrder
	err := l.db.WithContext(ctx).
		Where("client_user_id = ? OR lawyer_user_id = ?", userID, userID).
		Order("created_at desc").
		Find(&orders).Error
	return orders, err
}

// ListStalePending returns pending orders created more than olderThan ago,
// oldest first
func (l *GormLedger) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.PaymentOrder, error) {
	query := l.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", models.PaymentStatusPending, time.Now().Add(-olderThan)).
		Order("created_at asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var orders []models.PaymentOrder
	err := query.Find(&orders).Error
	return orders, err
}
