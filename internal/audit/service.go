package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/printbound/printbound-backend/pkg/db/models"
	"github.com/printbound/printbound-backend/pkg/enums"
	pkgerrors "github.com/printbound/printbound-backend/pkg/errors"
)

// Actions recorded by the resolution engine.
const (
	ActionIssueResolved        = "issue.resolved"
	ActionReprintCreated       = "reprint.created"
	ActionRefundIssued         = "refund.issued"
	ActionCancellationReviewed = "cancellation.reviewed"
)

// Entity types referenced by audit records.
const (
	EntityIssue      = "issue"
	EntityOrder      = "order"
	EntityResolution = "resolution"
)

// Repository manages the append-only audit trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.AuditRecord) error
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditRecord, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an audit repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.AuditRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditRecord, error) {
	var rows []models.AuditRecord
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// RecordInput describes one audit trail entry.
type RecordInput struct {
	ActorID    uuid.UUID
	ActorEmail string
	ActorRole  enums.ActorRole
	Action     string
	EntityType string
	EntityID   uuid.UUID
	Detail     any
}

// Service writes and reads the audit trail.
type Service struct {
	repo Repository
}

// NewService constructs the audit service.
func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository is required")
	}
	return &Service{repo: repo}, nil
}

// WithTx rebinds the service to a transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{repo: s.repo.WithTx(tx)}
}

// Record appends one audit entry. Detail is serialized as the payload.
func (s *Service) Record(ctx context.Context, input RecordInput) error {
	if input.ActorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	if input.Action == "" || input.EntityType == "" || input.EntityID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "action, entity type and entity id are required")
	}

	record := &models.AuditRecord{
		ID:         uuid.New(),
		ActorID:    input.ActorID,
		ActorEmail: input.ActorEmail,
		ActorRole:  input.ActorRole,
		Action:     input.Action,
		EntityType: input.EntityType,
		EntityID:   input.EntityID,
	}
	if input.Detail != nil {
		payload, err := json.Marshal(input.Detail)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal audit payload")
		}
		record.Payload = payload
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write audit record")
	}
	return nil
}

// Trail returns the chronological audit entries for one entity.
func (s *Service) Trail(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditRecord, error) {
	rows, err := s.repo.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit records")
	}
	return rows, nil
}
