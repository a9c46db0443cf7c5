package reprints

import (
	"time"

	"github.com/google/uuid"

	"github.com/printbound/printbound-backend/pkg/db/models"
	"github.com/printbound/printbound-backend/pkg/enums"
	pkgerrors "github.com/printbound/printbound-backend/pkg/errors"
)

// BuildInput selects which items of the original order to reproduce. An
// empty Items slice reprints every line of the original order.
type BuildInput struct {
	Original *models.Order
	Items    []models.OrderItem
	IssueID  uuid.UUID
}

// Build materializes a zero-cost replacement order for the disputed
// item(s). Shipping address, print profile and design references are
// copied from the original; every monetary field is zero. Each produced
// item carries explicit lineage keys back to the original order, item and
// triggering issue, so eligibility and accounting checks can treat the
// reprint as a proxy for the paying order. The caller persists the result
// inside the same transaction as the issue transition.
func Build(in BuildInput) (*models.Order, error) {
	if in.Original == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "original order is required")
	}
	if in.IssueID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "issue id is required")
	}
	items := in.Items
	if len(items) == 0 {
		items = in.Original.Items
	}
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "original order has no items to reprint")
	}

	originalID := in.Original.ID
	issueID := in.IssueID
	reprint := &models.Order{
		ID:               uuid.New(),
		CustomerID:       in.Original.CustomerID,
		OrderNumber:      in.Original.OrderNumber,
		Currency:         in.Original.Currency,
		Status:           enums.OrderStatusConfirmed,
		SubtotalCents:    0,
		TotalCents:       0,
		ShippingAddress:  in.Original.ShippingAddress,
		PrintProfile:     in.Original.PrintProfile,
		ReprintOfOrderID: &originalID,
		ReprintIssueID:   &issueID,
		StatusChangedAt:  time.Now(),
	}

	for _, item := range items {
		if item.OrderID != in.Original.ID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item does not belong to the original order")
		}
		// When the original is itself a reprint its items already point
		// at the lineage head; keep those keys so every generation of
		// reprint resolves to the order that actually holds the payment.
		lineageOrderID := originalID
		lineageItemID := item.ID
		if item.OriginalOrderID != nil {
			lineageOrderID = *item.OriginalOrderID
		}
		if item.OriginalItemID != nil {
			lineageItemID = *item.OriginalItemID
		}
		reprint.Items = append(reprint.Items, models.OrderItem{
			ID:              uuid.New(),
			OrderID:         reprint.ID,
			ProductID:       item.ProductID,
			VariantID:       item.VariantID,
			Name:            item.Name,
			DesignRef:       item.DesignRef,
			Qty:             item.Qty,
			UnitPriceCents:  0,
			TotalCents:      0,
			OriginalOrderID: &lineageOrderID,
			OriginalItemID:  &lineageItemID,
			IssueID:         &issueID,
		})
	}
	return reprint, nil
}

// OriginalPayingOrderID walks an item's lineage to the order that actually
// holds the payment. Reprint items point at their original order; items of
// a normal order pay for themselves.
func OriginalPayingOrderID(item models.OrderItem) uuid.UUID {
	if item.OriginalOrderID != nil {
		return *item.OriginalOrderID
	}
	return item.OrderID
}
