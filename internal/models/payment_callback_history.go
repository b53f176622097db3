package models

import (
	"encoding/json"
	"time"
)

type PaymentGateway string

const (
	PaymentGatewayMercadoPago PaymentGateway = "mercadopago"
	PaymentGatewayMidtrans    PaymentGateway = "midtrans"
)

// PaymentCallbackHistory keeps every gateway notification we received,
// whether or not it changed an order
type PaymentCallbackHistory struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	PaymentGateway    PaymentGateway  `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	EventID           string          `gorm:"type:varchar(191);index" json:"event_id"`
	ExternalReference string          `gorm:"type:varchar(255);index" json:"external_reference"`
	ReportedStatus    PaymentStatus   `gorm:"type:varchar(20)" json:"reported_status"`
	SignatureValid    bool            `gorm:"default:false" json:"signature_valid"`
	ProcessingError   string          `gorm:"type:text" json:"processing_error"`
	Metadata          json.RawMessage `gorm:"type:jsonb" json:"metadata"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
