package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/printbound/printbound-backend/pkg/db/models"
	"github.com/printbound/printbound-backend/pkg/enums"
)

// Service defines operations that record immutable ledger entries.
type Service interface {
	RecordEntry(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, error)
	RecordRefund(ctx context.Context, orderID, actorUserID uuid.UUID, amountCents int64, metadata json.RawMessage) (*models.LedgerEntry, error)
	RecordReprintExpense(ctx context.Context, orderID, actorUserID uuid.UUID, costCents int64, metadata json.RawMessage) (*models.LedgerEntry, error)
	HasEntry(ctx context.Context, orderID uuid.UUID, entryType enums.LedgerEntryType) (bool, error)
}

type service struct {
	repo Repository
}

// RecordEntryInput captures the immutable data a ledger entry requires.
type RecordEntryInput struct {
	OrderID     uuid.UUID             `json:"order_id"`
	ActorUserID uuid.UUID             `json:"actor_user_id"`
	Type        enums.LedgerEntryType `json:"type"`
	AmountCents int64                 `json:"amount_cents"`
	Memo        string                `json:"memo"`
	Metadata    json.RawMessage       `json:"metadata"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) RecordEntry(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, error) {
	if input.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	if input.ActorUserID == uuid.Nil {
		return nil, fmt.Errorf("actor user id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger entry type %q", input.Type)
	}
	if input.AmountCents <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	entry := &models.LedgerEntry{
		OrderID:     input.OrderID,
		ActorUserID: input.ActorUserID,
		Type:        input.Type,
		AmountCents: input.AmountCents,
		Memo:        input.Memo,
		Metadata:    input.Metadata,
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) RecordRefund(ctx context.Context, orderID, actorUserID uuid.UUID, amountCents int64, metadata json.RawMessage) (*models.LedgerEntry, error) {
	return s.RecordEntry(ctx, RecordEntryInput{
		OrderID:     orderID,
		ActorUserID: actorUserID,
		Type:        enums.LedgerEntryRefundIssued,
		AmountCents: amountCents,
		Memo:        "refund issued to customer",
		Metadata:    metadata,
	})
}

func (s *service) RecordReprintExpense(ctx context.Context, orderID, actorUserID uuid.UUID, costCents int64, metadata json.RawMessage) (*models.LedgerEntry, error) {
	return s.RecordEntry(ctx, RecordEntryInput{
		OrderID:     orderID,
		ActorUserID: actorUserID,
		Type:        enums.LedgerEntryReprintExpense,
		AmountCents: costCents,
		Memo:        "replacement order produced at no charge",
		Metadata:    metadata,
	})
}

func (s *service) HasEntry(ctx context.Context, orderID uuid.UUID, entryType enums.LedgerEntryType) (bool, error) {
	if orderID == uuid.Nil {
		return false, fmt.Errorf("order id is required")
	}
	if !entryType.IsValid() {
		return false, fmt.Errorf("invalid ledger entry type %q", entryType)
	}

	entries, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.Type == entryType {
			return true, nil
		}
	}
	return false, nil
}
