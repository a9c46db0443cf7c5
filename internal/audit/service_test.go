package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/printbound/printbound-backend/pkg/db/models"
	"github.com/printbound/printbound-backend/pkg/enums"
	pkgerrors "github.com/printbound/printbound-backend/pkg/errors"
)

type fakeRepository struct {
	records []models.AuditRecord
	err     error
}

func (f *fakeRepository) WithTx(_ *gorm.DB) Repository { return f }

func (f *fakeRepository) Create(_ context.Context, record *models.AuditRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, *record)
	return nil
}

func (f *fakeRepository) ListByEntity(_ context.Context, entityType string, entityID uuid.UUID) ([]models.AuditRecord, error) {
	var rows []models.AuditRecord
	for _, record := range f.records {
		if record.EntityType == entityType && record.EntityID == entityID {
			rows = append(rows, record)
		}
	}
	return rows, nil
}

func TestRecordWritesPayload(t *testing.T) {
	t.Parallel()

	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	issueID := uuid.New()
	err = svc.Record(context.Background(), RecordInput{
		ActorID:    uuid.New(),
		ActorEmail: "ops@printbound.co.uk",
		ActorRole:  enums.ActorRoleAdmin,
		Action:     ActionRefundIssued,
		EntityType: EntityIssue,
		EntityID:   issueID,
		Detail:     map[string]any{"amount_cents": 2500, "gateway_refund_id": "re_1"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(repo.records) != 1 {
		t.Fatalf("expected one record, got %d", len(repo.records))
	}

	var detail map[string]any
	if err := json.Unmarshal(repo.records[0].Payload, &detail); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if detail["gateway_refund_id"] != "re_1" {
		t.Fatalf("unexpected payload %v", detail)
	}
}

func TestRecordRequiresActor(t *testing.T) {
	t.Parallel()

	svc, err := NewService(&fakeRepository{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	err = svc.Record(context.Background(), RecordInput{
		Action:     ActionIssueResolved,
		EntityType: EntityIssue,
		EntityID:   uuid.New(),
	})
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTrailFiltersByEntity(t *testing.T) {
	t.Parallel()

	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	issueID := uuid.New()
	orderID := uuid.New()
	actor := uuid.New()
	for _, in := range []RecordInput{
		{ActorID: actor, ActorRole: enums.ActorRoleAdmin, Action: ActionIssueResolved, EntityType: EntityIssue, EntityID: issueID},
		{ActorID: actor, ActorRole: enums.ActorRoleAdmin, Action: ActionReprintCreated, EntityType: EntityOrder, EntityID: orderID},
	} {
		if err := svc.Record(context.Background(), in); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	trail, err := svc.Trail(context.Background(), EntityIssue, issueID)
	if err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if len(trail) != 1 || trail[0].Action != ActionIssueResolved {
		t.Fatalf("unexpected trail %+v", trail)
	}
}
