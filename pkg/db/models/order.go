package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/printbound/printbound-backend/pkg/enums"
	"github.com/printbound/printbound-backend/pkg/types"
)

// Order represents a purchase. Reprint orders carry zero totals, no
// payment of their own, and a back-reference to the order they replace.
type Order struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID       uuid.UUID         `gorm:"column:customer_id;type:uuid;not null;index"`
	OrderNumber      int64             `gorm:"column:order_number;not null"`
	Currency         enums.Currency    `gorm:"column:currency;type:text;not null;default:'GBP'"`
	Status           enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	SubtotalCents    int64             `gorm:"column:subtotal_cents;not null"`
	TotalCents       int64             `gorm:"column:total_cents;not null"`
	ShippingAddress  *types.Address    `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	PrintProfile     *string           `gorm:"column:print_profile"`
	ReprintOfOrderID *uuid.UUID        `gorm:"column:reprint_of_order_id;type:uuid;index"`
	ReprintIssueID   *uuid.UUID        `gorm:"column:reprint_issue_id;type:uuid"`
	StatusChangedAt  time.Time         `gorm:"column:status_changed_at;not null"`
	Items            []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payment          *Payment          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// IsReprint reports whether this order was materialized to replace another.
func (o Order) IsReprint() bool {
	return o.ReprintOfOrderID != nil
}
