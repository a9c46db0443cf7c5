package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/printbound/printbound-backend/pkg/enums"
)

// IssueMessage is one entry in an issue's conversation thread. System
// messages double as the audit-visible timeline of lifecycle transitions.
type IssueMessage struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IssueID   uuid.UUID           `gorm:"column:issue_id;type:uuid;not null;index"`
	Sender    enums.MessageSender `gorm:"column:sender;type:message_sender;not null"`
	Body      string              `gorm:"column:body;not null"`
	ImageURLs []string            `gorm:"column:image_urls;type:jsonb;serializer:json"`
	ReadAt    *time.Time          `gorm:"column:read_at"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
}
