package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/printbound/printbound-backend/pkg/enums"
)

// AuditRecord is an append-only trail entry capturing who did what to
// which entity.
type AuditRecord struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ActorID    uuid.UUID           `gorm:"column:actor_id;type:uuid;not null"`
	ActorEmail string              `gorm:"column:actor_email;not null"`
	ActorRole  enums.ActorRole     `gorm:"column:actor_role;type:actor_role;not null"`
	Action     string              `gorm:"column:action;not null;index"`
	EntityType string              `gorm:"column:entity_type;not null"`
	EntityID   uuid.UUID           `gorm:"column:entity_id;type:uuid;not null;index"`
	Payload    json.RawMessage     `gorm:"column:payload;type:jsonb"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
}
