package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/printbound/printbound-backend/pkg/enums"
)

// LedgerEntry records an immutable money lifecycle event tied to an order.
type LedgerEntry struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	ActorUserID uuid.UUID             `gorm:"column:actor_user_id;type:uuid;not null"`
	Type        enums.LedgerEntryType `gorm:"column:type;type:ledger_entry_type;not null"`
	AmountCents int64                 `gorm:"column:amount_cents;not null"`
	Memo        string                `gorm:"column:memo;not null"`
	Metadata    json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
}
