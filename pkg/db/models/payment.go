package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/printbound/printbound-backend/pkg/enums"
)

// Payment is 1:1 with a non-reprint order. GatewayReference is whatever
// the checkout flow stored at the time: either a checkout session token or
// an already-resolved payment intent id. RefundedAt is written exactly
// once; a non-null value blocks any further refund attempt before the
// gateway is contacted.
type Payment struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	AmountCents      int64               `gorm:"column:amount_cents;not null"`
	Currency         enums.Currency      `gorm:"column:currency;type:text;not null;default:'GBP'"`
	GatewayReference string              `gorm:"column:gateway_reference;not null"`
	Status           enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	PaidAt           *time.Time          `gorm:"column:paid_at"`
	RefundedAt       *time.Time          `gorm:"column:refunded_at"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
