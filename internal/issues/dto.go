package issues

import (
	"time"

	"github.com/google/uuid"

	"github.com/printbound/printbound-backend/pkg/db/models"
	"github.com/printbound/printbound-backend/pkg/enums"
	pkgpagination "github.com/printbound/printbound-backend/pkg/pagination"
)

// CreateInput carries a customer's new issue report.
type CreateInput struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	Reason      string    `json:"reason"`
	Description string    `json:"description"`
	ImageURLs   []string  `json:"image_urls"`
}

// MessageInput carries one thread message.
type MessageInput struct {
	Body      string   `json:"body"`
	ImageURLs []string `json:"image_urls"`
}

// ApproveInput selects the resolution type for an approved issue. For a
// partial refund an explicit amount may override the item total.
type ApproveInput struct {
	ResolvedType string `json:"resolved_type"`
	AmountCents  *int64 `json:"amount_cents"`
}

// ListParams filters issue listings.
type ListParams struct {
	Statuses []enums.IssueStatus
	pkgpagination.Params
}

// ListItem is the listing projection of an issue.
type ListItem struct {
	ID           uuid.UUID           `json:"id"`
	OrderID      uuid.UUID           `json:"order_id"`
	OrderItemID  uuid.UUID           `json:"order_item_id"`
	Reason       enums.IssueReason   `json:"reason"`
	Status       enums.IssueStatus   `json:"status"`
	FaultParty   enums.FaultParty    `json:"fault_party"`
	ResolvedType *enums.ResolvedType `json:"resolved_type,omitempty"`
	IsConcluded  bool                `json:"is_concluded"`
	CreatedAt    time.Time           `json:"created_at"`
}

// List is one page of issues plus the continuation cursor.
type List struct {
	Items      []ListItem `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// ProcessResult reports what processing an approved issue produced.
type ProcessResult struct {
	Issue           *models.Issue `json:"issue"`
	ReprintOrder    *models.Order `json:"reprint_order,omitempty"`
	RefundID        string        `json:"refund_id,omitempty"`
	RefundedCents   int64         `json:"refunded_cents,omitempty"`
	AlreadyHandled  bool          `json:"already_handled,omitempty"`
}

func toListItem(issue models.Issue) ListItem {
	return ListItem{
		ID:           issue.ID,
		OrderID:      issue.OrderID,
		OrderItemID:  issue.OrderItemID,
		Reason:       issue.Reason,
		Status:       issue.Status,
		FaultParty:   issue.FaultParty,
		ResolvedType: issue.ResolvedType,
		IsConcluded:  issue.IsConcluded,
		CreatedAt:    issue.CreatedAt,
	}
}
