package resolutions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/printbound/printbound-backend/pkg/db/models"
	"github.com/printbound/printbound-backend/pkg/enums"
)

// ConcludeUpdate is the terminal field set written when a resolution
// completes.
type ConcludeUpdate struct {
	ResolvedType    enums.ResolvedType
	RefundAmount    *int64
	GatewayRefundID *string
	ConcludedBy     uuid.UUID
}

// Repository manages persistence for order-scoped resolutions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, resolution *models.Resolution) (*models.Resolution, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Resolution, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.ResolutionStatus, to enums.ResolutionStatus) (bool, error)
	Conclude(ctx context.Context, id uuid.UUID, update ConcludeUpdate) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Resolution, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a resolutions repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, resolution *models.Resolution) (*models.Resolution, error) {
	if err := r.db.WithContext(ctx).Create(resolution).Error; err != nil {
		return nil, err
	}
	return resolution, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Resolution, error) {
	var resolution models.Resolution
	err := r.db.WithContext(ctx).First(&resolution, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &resolution, nil
}

// TransitionStatus performs the guarded state transition used to claim a
// resolution for processing.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.ResolutionStatus, to enums.ResolutionStatus) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Resolution{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Conclude(ctx context.Context, id uuid.UUID, update ConcludeUpdate) error {
	fields := map[string]any{
		"resolved_type": update.ResolvedType,
		"concluded_at":  time.Now(),
		"concluded_by":  update.ConcludedBy,
	}
	if update.RefundAmount != nil {
		fields["refund_amount_cents"] = *update.RefundAmount
	}
	if update.GatewayRefundID != nil {
		fields["gateway_refund_id"] = *update.GatewayRefundID
	}
	return r.db.WithContext(ctx).Model(&models.Resolution{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).Model(&models.Resolution{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         enums.ResolutionStatusFailed,
			"failure_reason": reason,
		}).Error
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Resolution, error) {
	var rows []models.Resolution
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}
