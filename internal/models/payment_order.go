package models

import (
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// IsValid reports whether s is one of the known statuses
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusRefunded
}

// CanTransition reports whether an order in status s may move to next.
// pending -> succeeded | failed, succeeded -> refunded.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusSucceeded || next == PaymentStatusFailed
	case PaymentStatusSucceeded:
		return next == PaymentStatusRefunded
	}
	return false
}

// PathTo returns the transitions that lead from s to target, in order, or
// nil when target cannot be reached. A refund reported for a pending order
// implies the capture in between.
func (s PaymentStatus) PathTo(target PaymentStatus) []PaymentStatus {
	if s.CanTransition(target) {
		return []PaymentStatus{target}
	}
	if s == PaymentStatusPending && target == PaymentStatusRefunded {
		return []PaymentStatus{PaymentStatusSucceeded, PaymentStatusRefunded}
	}
	return nil
}

// PaymentOrder is one attempted payment from a client to a lawyer.
// Columns follow the payments table shared with the marketplace frontend.
type PaymentOrder struct {
	ID string `gorm:"type:uuid;primaryKey" json:"id"`

	ClientUserID  string `gorm:"column:client_user_id;type:varchar(255);not null;index" json:"client_user_id"`
	LawyerUserID  string `gorm:"column:lawyer_user_id;type:varchar(255);not null;index" json:"lawyer_user_id"`
	AppointmentID string `gorm:"column:appointment_id;type:varchar(255);not null;index" json:"appointment_id"`

	// Amounts are in the smallest currency unit; TotalAmount is the source of truth
	TotalAmount  int64  `gorm:"column:total_amount;not null" json:"total_amount"`
	LawyerAmount int64  `gorm:"column:lawyer_amount;not null" json:"lawyer_amount"`
	PlatformFee  int64  `gorm:"column:platform_fee;not null" json:"platform_fee"`
	Currency     string `gorm:"type:varchar(3);not null" json:"currency"`

	Status             PaymentStatus  `gorm:"type:varchar(20);not null;index" json:"status"`
	ServiceDescription string         `gorm:"column:service_description;type:text" json:"service_description"`
	PaymentGateway     PaymentGateway `gorm:"column:payment_gateway;type:varchar(50)" json:"payment_gateway"`
	PaymentGatewayID   *string        `gorm:"column:payment_gateway_id;type:varchar(255);uniqueIndex" json:"payment_gateway_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PaymentOrder) TableName() string {
	return "payments"
}

// HasParticipant reports whether userID is the paying client or the lawyer
func (o PaymentOrder) HasParticipant(userID string) bool {
	return userID != "" && (o.ClientUserID == userID || o.LawyerUserID == userID)
}
