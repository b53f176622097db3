package services

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"legalup_payments/internal/models"
)

// CallbackHistoryStore keeps an audit trail of gateway notifications
type CallbackHistoryStore interface {
	Record(ctx context.Context, entry *models.PaymentCallbackHistory) error
	ListByReference(ctx context.Context, externalReference string) ([]models.PaymentCallbackHistory, error)
}

type GormCallbackHistory struct {
	db *gorm.DB
}

func NewGormCallbackHistory(db *gorm.DB) *GormCallbackHistory {
	return &GormCallbackHistory{db: db}
}

func (h *GormCallbackHistory) Record(ctx context.Context, entry *models.PaymentCallbackHistory) error {
	return h.db.WithContext(ctx).Create(entry).Error
}

func (h *GormCallbackHistory) ListByReference(ctx context.Context, externalReference string) ([]models.PaymentCallbackHistory, error) {
	var entries []models.PaymentCallbackHistory
	err := h.db.WithContext(ctx).
		Where("external_reference = ?", externalReference).
		Order("created_at desc").
		Find(&entries).Error
	return entries, err
}

// notificationMetadata wraps the raw call as a JSON document. Bodies that
// are not JSON are kept as a string.
func notificationMetadata(req NotificationRequest) json.RawMessage {
	doc := map[string]interface{}{}
	if len(req.Query) > 0 {
		doc["query"] = req.Query
	}
	if len(req.Body) > 0 {
		if json.Valid(req.Body) {
			doc["body"] = json.RawMessage(req.Body)
		} else {
			doc["body"] = string(req.Body)
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
