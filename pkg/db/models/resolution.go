package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/printbound/printbound-backend/pkg/enums"
)

// Resolution is the order-scoped counterpart of Issue: one case covering
// a whole order (cancellation reviews and full-order refunds) rather than
// a single item.
type Resolution struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID              `gorm:"column:order_id;type:uuid;not null;index"`
	Reason            string                 `gorm:"column:reason;not null"`
	Status            enums.ResolutionStatus `gorm:"column:status;type:resolution_status;not null;default:'pending'"`
	ResolvedType      *enums.ResolvedType    `gorm:"column:resolved_type;type:resolved_type"`
	RefundAmountCents *int64                 `gorm:"column:refund_amount_cents"`
	GatewayRefundID   *string                `gorm:"column:gateway_refund_id"`
	FailureReason     *string                `gorm:"column:failure_reason"`
	RequestedBy       uuid.UUID              `gorm:"column:requested_by;type:uuid;not null"`
	ConcludedAt       *time.Time             `gorm:"column:concluded_at"`
	ConcludedBy       *uuid.UUID             `gorm:"column:concluded_by;type:uuid"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
