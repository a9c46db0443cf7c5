package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderItem captures the snapshot of one line within an order. Reprint
// lineage is held in explicit foreign keys rather than free-form metadata
// so chains stay queryable.
type OrderItem struct {
	ID              uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID         uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID       *uuid.UUID `gorm:"column:product_id;type:uuid"`
	VariantID       *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	Name            string     `gorm:"column:name;not null"`
	DesignRef       *string    `gorm:"column:design_ref"`
	Qty             int        `gorm:"column:qty;not null"`
	UnitPriceCents  int64      `gorm:"column:unit_price_cents;not null"`
	TotalCents      int64      `gorm:"column:total_cents;not null"`
	OriginalOrderID *uuid.UUID `gorm:"column:original_order_id;type:uuid"`
	OriginalItemID  *uuid.UUID `gorm:"column:original_item_id;type:uuid;index"`
	IssueID         *uuid.UUID `gorm:"column:issue_id;type:uuid"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// IsReprint reports whether this item was produced to replace another.
func (i OrderItem) IsReprint() bool {
	return i.OriginalItemID != nil
}
