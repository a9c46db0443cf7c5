package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/printbound/printbound-backend/pkg/enums"
)

// Issue is a customer-reported problem scoped to exactly one order item.
// The unique index on OrderItemID enforces the one-active-issue invariant;
// withdrawal deletes the row, so presence of a row is what "active" means.
type Issue struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderItemID       uuid.UUID           `gorm:"column:order_item_id;type:uuid;not null;uniqueIndex:ux_issues_order_item"`
	OrderID           uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	CustomerID        uuid.UUID           `gorm:"column:customer_id;type:uuid;not null;index"`
	Reason            enums.IssueReason   `gorm:"column:reason;type:issue_reason;not null"`
	Description       *string             `gorm:"column:description"`
	Status            enums.IssueStatus   `gorm:"column:status;type:issue_status;not null;default:'awaiting_review'"`
	FaultParty        enums.FaultParty    `gorm:"column:fault_party;type:fault_party;not null;default:'unknown'"`
	OriginalIssueID   *uuid.UUID          `gorm:"column:original_issue_id;type:uuid"`
	ResolvedType      *enums.ResolvedType `gorm:"column:resolved_type;type:resolved_type"`
	RefundAmountCents *int64              `gorm:"column:refund_amount_cents"`
	GatewayRefundID   *string             `gorm:"column:gateway_refund_id"`
	IsConcluded       bool                `gorm:"column:is_concluded;not null;default:false"`
	ConcludedAt       *time.Time          `gorm:"column:concluded_at"`
	ConcludedBy       *uuid.UUID          `gorm:"column:concluded_by;type:uuid"`
	Messages          []IssueMessage      `gorm:"foreignKey:IssueID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
