package issues

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/printbound/printbound-backend/pkg/db/models"
	"github.com/printbound/printbound-backend/pkg/enums"
	pkgpagination "github.com/printbound/printbound-backend/pkg/pagination"
)

// ConcludeUpdate is the terminal field set written when an issue completes.
type ConcludeUpdate struct {
	ResolvedType    enums.ResolvedType
	RefundAmount    *int64
	GatewayRefundID *string
	ConcludedBy     uuid.UUID
}

// Repository manages persistence for issues and their message threads.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, issue *models.Issue) (*models.Issue, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Issue, error)
	FindByOrderItemID(ctx context.Context, orderItemID uuid.UUID) (*models.Issue, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.IssueStatus, to enums.IssueStatus) (bool, error)
	Conclude(ctx context.Context, id uuid.UUID, update ConcludeUpdate) error
	SetApproval(ctx context.Context, id uuid.UUID, resolvedType enums.ResolvedType, amount *int64) error
	DeleteIf(ctx context.Context, id uuid.UUID, from []enums.IssueStatus) (bool, error)
	AppendMessage(ctx context.Context, message *models.IssueMessage) (*models.IssueMessage, error)
	MarkMessagesRead(ctx context.Context, issueID uuid.UUID, senders []enums.MessageSender) error
	ListByCustomer(ctx context.Context, customerID uuid.UUID, query listQuery) ([]models.Issue, error)
	ListByStatus(ctx context.Context, query listQuery) ([]models.Issue, error)
}

type listQuery struct {
	statuses []enums.IssueStatus
	limit    int
	cursor   *pkgpagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an issues repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, issue *models.Issue) (*models.Issue, error) {
	if err := r.db.WithContext(ctx).Create(issue).Error; err != nil {
		return nil, err
	}
	return issue, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Issue, error) {
	var issue models.Issue
	err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("id = ?", id).
		First(&issue).Error
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func (r *repository) FindByOrderItemID(ctx context.Context, orderItemID uuid.UUID) (*models.Issue, error) {
	var issue models.Issue
	err := r.db.WithContext(ctx).Where("order_item_id = ?", orderItemID).First(&issue).Error
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// TransitionStatus performs the guarded state transition: the row moves
// only if its current status is one of the expected pre-states. The
// returned bool reports whether this caller won the transition; a losing
// racer sees false and must treat the action as already handled.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.IssueStatus, to enums.IssueStatus) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Issue{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Conclude(ctx context.Context, id uuid.UUID, update ConcludeUpdate) error {
	now := time.Now()
	fields := map[string]any{
		"resolved_type": update.ResolvedType,
		"is_concluded":  true,
		"concluded_at":  now,
		"concluded_by":  update.ConcludedBy,
	}
	if update.RefundAmount != nil {
		fields["refund_amount_cents"] = *update.RefundAmount
	}
	if update.GatewayRefundID != nil {
		fields["gateway_refund_id"] = *update.GatewayRefundID
	}
	return r.db.WithContext(ctx).Model(&models.Issue{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repository) SetApproval(ctx context.Context, id uuid.UUID, resolvedType enums.ResolvedType, amount *int64) error {
	fields := map[string]any{"resolved_type": resolvedType}
	if amount != nil {
		fields["refund_amount_cents"] = *amount
	}
	return r.db.WithContext(ctx).Model(&models.Issue{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// DeleteIf removes the issue only while it is still in one of the given
// states, cascading to its messages. Used for customer withdrawal.
func (r *repository) DeleteIf(ctx context.Context, id uuid.UUID, from []enums.IssueStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND status IN ?", id, from).
		Delete(&models.Issue{})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	err := r.db.WithContext(ctx).
		Where("issue_id = ?", id).
		Delete(&models.IssueMessage{}).Error
	return true, err
}

func (r *repository) AppendMessage(ctx context.Context, message *models.IssueMessage) (*models.IssueMessage, error) {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return nil, err
	}
	return message, nil
}

// MarkMessagesRead stamps unread messages from the given senders. Callers
// pass the counterpart's sender kinds when a party fetches the thread.
func (r *repository) MarkMessagesRead(ctx context.Context, issueID uuid.UUID, senders []enums.MessageSender) error {
	return r.db.WithContext(ctx).Model(&models.IssueMessage{}).
		Where("issue_id = ? AND sender IN ? AND read_at IS NULL", issueID, senders).
		Update("read_at", time.Now()).Error
}

func (r *repository) ListByCustomer(ctx context.Context, customerID uuid.UUID, query listQuery) ([]models.Issue, error) {
	q := r.db.WithContext(ctx).Model(&models.Issue{}).Where("customer_id = ?", customerID)
	return r.runList(q, query)
}

func (r *repository) ListByStatus(ctx context.Context, query listQuery) ([]models.Issue, error) {
	q := r.db.WithContext(ctx).Model(&models.Issue{})
	return r.runList(q, query)
}

func (r *repository) runList(q *gorm.DB, query listQuery) ([]models.Issue, error) {
	if len(query.statuses) > 0 {
		q = q.Where("status IN ?", query.statuses)
	}
	if query.cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			query.cursor.CreatedAt, query.cursor.CreatedAt, query.cursor.ID)
	}
	q = q.Order("created_at DESC").Order("id DESC").Limit(query.limit)

	var rows []models.Issue
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
