package resolutions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/printbound/printbound-backend/internal/orders"
	"github.com/printbound/printbound-backend/internal/payments"
	"github.com/printbound/printbound-backend/internal/refunds"
	"github.com/printbound/printbound-backend/pkg/db/models"
	"github.com/printbound/printbound-backend/pkg/enums"
	pkgerrors "github.com/printbound/printbound-backend/pkg/errors"
	"github.com/printbound/printbound-backend/pkg/logger"
	"github.com/printbound/printbound-backend/pkg/outbox"
	"github.com/printbound/printbound-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type refundExecutor interface {
	Execute(ctx context.Context, in refunds.ExecuteInput) (*refunds.ExecuteResult, error)
}

// CreateInput describes a new order-scoped resolution case.
type CreateInput struct {
	OrderID      uuid.UUID
	Reason       string
	ResolvedType string
	AmountCents  *int64
}

// ReviewInput carries an admin decision on a cancellation request.
type ReviewInput struct {
	Approve bool
	Refund  bool
	Reason  string
}

// ReviewResult reports the outcome of a cancellation review.
type ReviewResult struct {
	Order         *models.Order
	Resolution    *models.Resolution
	RefundID      string
	RefundedCents int64
}

// Service manages order-scoped resolutions and cancellation reviews.
type Service interface {
	Create(ctx context.Context, adminID uuid.UUID, input CreateInput) (*models.Resolution, error)
	Process(ctx context.Context, adminID, resolutionID uuid.UUID) (*models.Resolution, error)
	ReviewCancellation(ctx context.Context, adminID, orderID uuid.UUID, input ReviewInput) (*ReviewResult, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Resolution, error)
}

// ServiceParams bundles the dependencies required to build a resolutions
// service.
type ServiceParams struct {
	Tx           txRunner
	Repo         Repository
	OrdersRepo   orders.Repository
	PaymentsRepo payments.Repository
	Executor     refundExecutor
	Outbox       outboxPublisher
	Logger       *logger.Logger
}

type service struct {
	tx           txRunner
	repo         Repository
	ordersRepo   orders.Repository
	paymentsRepo payments.Repository
	executor     refundExecutor
	outbox       outboxPublisher
	logg         *logger.Logger
}

// NewService constructs the resolutions service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner is required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("resolutions repository is required")
	}
	if params.OrdersRepo == nil {
		return nil, fmt.Errorf("orders repository is required")
	}
	if params.PaymentsRepo == nil {
		return nil, fmt.Errorf("payments repository is required")
	}
	if params.Executor == nil {
		return nil, fmt.Errorf("refund executor is required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher is required")
	}
	return &service{
		tx:           params.Tx,
		repo:         params.Repo,
		ordersRepo:   params.OrdersRepo,
		paymentsRepo: params.PaymentsRepo,
		executor:     params.Executor,
		outbox:       params.Outbox,
		logg:         params.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, adminID uuid.UUID, input CreateInput) (*models.Resolution, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason required")
	}
	resolvedType, err := enums.ParseResolvedType(input.ResolvedType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid resolution type")
	}
	// Reprints are item-scoped and go through an issue; an order-scoped
	// case is always a refund of some kind.
	if !resolvedType.IsRefund() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order-scoped resolutions must be refunds")
	}
	if resolvedType == enums.ResolvedTypePartialRefund {
		if input.AmountCents == nil || *input.AmountCents <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "partial refund requires a positive amount")
		}
	}

	order, err := s.ordersRepo.FindByID(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.IsReprint() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "reprint orders carry no payment to resolve")
	}
	if _, err := s.paymentsRepo.FindByOrderID(ctx, order.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no payment found for this order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	resolution := &models.Resolution{
		ID:                uuid.New(),
		OrderID:           order.ID,
		Reason:            input.Reason,
		Status:            enums.ResolutionStatusPending,
		ResolvedType:      &resolvedType,
		RefundAmountCents: input.AmountCents,
		RequestedBy:       adminID,
	}
	if _, err := s.repo.Create(ctx, resolution); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create resolution")
	}
	return resolution, nil
}

// Process runs a pending (or previously failed) resolution against the
// gateway. The claim happens through a conditional update and the gateway
// is called with no transaction open; a failure parks the case in the
// failed state for a later retry.
func (s *service) Process(ctx context.Context, adminID, resolutionID uuid.UUID) (*models.Resolution, error) {
	resolution, err := s.repo.FindByID(ctx, resolutionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "resolution not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load resolution")
	}
	if resolution.Status == enums.ResolutionStatusCompleted {
		return resolution, nil
	}
	if resolution.ResolvedType == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "resolution has no resolved type")
	}

	won, err := s.repo.TransitionStatus(ctx, resolutionID,
		[]enums.ResolutionStatus{enums.ResolutionStatusPending, enums.ResolutionStatusFailed},
		enums.ResolutionStatusProcessing)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim resolution")
	}
	if !won {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "resolution is already being processed")
	}

	payment, err := s.paymentsRepo.FindByOrderID(ctx, resolution.OrderID)
	if err != nil {
		return nil, s.fail(ctx, resolutionID, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment"))
	}

	fullRefund := *resolution.ResolvedType == enums.ResolvedTypeFullRefund
	var amount *int64
	if !fullRefund {
		amount = resolution.RefundAmountCents
	}

	result, err := s.executor.Execute(ctx, refunds.ExecuteInput{
		Payment:        payment,
		Reason:         resolution.Reason,
		AmountCents:    amount,
		IdempotencyKey: fmt.Sprintf("refund_%s", resolution.OrderID),
	})
	if err != nil {
		return nil, s.fail(ctx, resolutionID, err)
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.TransitionStatus(ctx, resolutionID,
			[]enums.ResolutionStatus{enums.ResolutionStatusProcessing},
			enums.ResolutionStatusCompleted); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete resolution")
		}
		refundID := result.RefundID
		if err := repo.Conclude(ctx, resolutionID, ConcludeUpdate{
			ResolvedType:    *resolution.ResolvedType,
			RefundAmount:    &result.AmountCents,
			GatewayRefundID: &refundID,
			ConcludedBy:     adminID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "conclude resolution")
		}
		if fullRefund {
			if _, err := s.paymentsRepo.WithTx(tx).MarkRefunded(ctx, payment.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refunded")
			}
			if _, err := s.ordersRepo.WithTx(tx).TransitionStatus(ctx, resolution.OrderID,
				[]enums.OrderStatus{
					enums.OrderStatusPending, enums.OrderStatusConfirmed, enums.OrderStatusPrinting,
					enums.OrderStatusShipped, enums.OrderStatusDelivered, enums.OrderStatusCancellationRequested,
				}, enums.OrderStatusRefunded); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order refunded")
			}
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventResolutionCompleted,
			AggregateType: enums.AggregateResolution,
			AggregateID:   resolutionID,
			Actor:         &outbox.ActorRef{UserID: adminID, Role: string(enums.ActorRoleAdmin)},
			Version:       1,
			Data: payloads.ResolutionCompletedEvent{
				ResolutionID:    resolutionID,
				OrderID:         resolution.OrderID,
				ResolvedType:    *resolution.ResolvedType,
				AmountCents:     result.AmountCents,
				GatewayRefundID: result.RefundID,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, resolutionID)
}

func (s *service) ReviewCancellation(ctx context.Context, adminID, orderID uuid.UUID, input ReviewInput) (*ReviewResult, error) {
	order, err := s.ordersRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.Status != enums.OrderStatusCancellationRequested {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no pending cancellation request")
	}

	var refundResult *refunds.ExecuteResult
	if input.Approve && input.Refund {
		payment, err := s.paymentsRepo.FindByOrderID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no payment found for this order")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		refundResult, err = s.executor.Execute(ctx, refunds.ExecuteInput{
			Payment:        payment,
			Reason:         "order cancellation",
			IdempotencyKey: fmt.Sprintf("refund_%s", orderID),
		})
		if err != nil {
			return nil, err
		}
	}

	resolvedType := enums.ResolvedTypeFullRefund
	concludedAt := time.Now()
	resolution := &models.Resolution{
		ID:          uuid.New(),
		OrderID:     orderID,
		Reason:      reviewReason(input),
		Status:      enums.ResolutionStatusCompleted,
		RequestedBy: adminID,
		ConcludedAt: &concludedAt,
		ConcludedBy: &adminID,
	}
	if refundResult != nil {
		resolution.ResolvedType = &resolvedType
		resolution.RefundAmountCents = &refundResult.AmountCents
		refundID := refundResult.RefundID
		resolution.GatewayRefundID = &refundID
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		target := enums.OrderStatusConfirmed
		if input.Approve {
			target = enums.OrderStatusCancelled
			if refundResult != nil {
				target = enums.OrderStatusRefunded
			}
		}
		won, err := s.ordersRepo.WithTx(tx).TransitionStatus(ctx, orderID,
			[]enums.OrderStatus{enums.OrderStatusCancellationRequested}, target)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cancellation request was already reviewed")
		}
		if refundResult != nil {
			payment, err := s.paymentsRepo.FindByOrderID(ctx, orderID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
			}
			if _, err := s.paymentsRepo.WithTx(tx).MarkRefunded(ctx, payment.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refunded")
			}
		}
		if _, err := s.repo.WithTx(tx).Create(ctx, resolution); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record review")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCancellationReviewed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{UserID: adminID, Role: string(enums.ActorRoleAdmin)},
			Version:       1,
			Data: payloads.CancellationReviewedEvent{
				OrderID:      orderID,
				ResolutionID: resolution.ID,
				Approved:     input.Approve,
				Refunded:     refundResult != nil,
				AmountCents:  refundedCentsOrZero(refundResult),
			},
		}); err != nil {
			return err
		}
		if refundResult != nil {
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventResolutionCompleted,
				AggregateType: enums.AggregateResolution,
				AggregateID:   resolution.ID,
				Actor:         &outbox.ActorRef{UserID: adminID, Role: string(enums.ActorRoleAdmin)},
				Version:       1,
				Data: payloads.ResolutionCompletedEvent{
					ResolutionID:    resolution.ID,
					OrderID:         orderID,
					ResolvedType:    enums.ResolvedTypeFullRefund,
					AmountCents:     refundResult.AmountCents,
					GatewayRefundID: refundResult.RefundID,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.ordersRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	result := &ReviewResult{Order: updated, Resolution: resolution}
	if refundResult != nil {
		result.RefundID = refundResult.RefundID
		result.RefundedCents = refundResult.AmountCents
	}
	return result, nil
}

func (s *service) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Resolution, error) {
	rows, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list resolutions")
	}
	return rows, nil
}

// fail parks the resolution in the failed state and returns the cause.
func (s *service) fail(ctx context.Context, resolutionID uuid.UUID, cause error) error {
	if err := s.repo.MarkFailed(ctx, resolutionID, cause.Error()); err != nil && s.logg != nil {
		s.logg.Error(ctx, "failed to mark resolution failed", err)
	}
	return cause
}

func refundedCentsOrZero(result *refunds.ExecuteResult) int64 {
	if result == nil {
		return 0
	}
	return result.AmountCents
}

func reviewReason(input ReviewInput) string {
	if input.Reason != "" {
		return input.Reason
	}
	if input.Approve {
		return "cancellation approved"
	}
	return "cancellation rejected"
}
