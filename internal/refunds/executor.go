package refunds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/printbound/printbound-backend/internal/payments"
	"github.com/printbound/printbound-backend/pkg/db/models"
	"github.com/printbound/printbound-backend/pkg/enums"
	pkgerrors "github.com/printbound/printbound-backend/pkg/errors"
	"github.com/printbound/printbound-backend/pkg/logger"
	"github.com/printbound/printbound-backend/pkg/metrics"
)

// ExecuteInput carries one logical refund attempt. A nil AmountCents asks
// the gateway to refund the full original charge. IdempotencyKey must be
// stable across retries of the same resolution action.
type ExecuteInput struct {
	Payment        *models.Payment
	Reason         string
	AmountCents    *int64
	IdempotencyKey string
}

// ExecuteResult reports the gateway outcome of a refund attempt.
type ExecuteResult struct {
	RefundID        string
	AmountCents     int64
	AlreadyRefunded bool
}

// Executor issues monetary refunds against the payment gateway. It owns the
// gateway round-trip only; callers persist the outcome in their own
// transaction after Execute returns, so no row locks are held across the
// network call.
type Executor struct {
	resolver *payments.Resolver
	gateway  payments.Gateway
	metrics  *metrics.RefundMetrics
	logg     *logger.Logger
}

// NewExecutor wires a refund executor.
func NewExecutor(resolver *payments.Resolver, gateway payments.Gateway, m *metrics.RefundMetrics, logg *logger.Logger) (*Executor, error) {
	if resolver == nil {
		return nil, fmt.Errorf("payment resolver required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	return &Executor{resolver: resolver, gateway: gateway, metrics: m, logg: logg}, nil
}

// Execute validates the payment's refundability, resolves its gateway
// reference, and issues the refund. A payment whose RefundedAt is already
// set is rejected before the gateway is ever contacted. A gateway-side
// "already refunded" answer is reported as an idempotent success so a
// crashed-and-retried resolution converges instead of failing forever.
func (e *Executor) Execute(ctx context.Context, in ExecuteInput) (*ExecuteResult, error) {
	if in.Payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment is required")
	}
	if in.IdempotencyKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if in.Payment.RefundedAt != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has already been refunded")
	}
	if in.Payment.Status != enums.PaymentStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("payment status %s is not refundable", in.Payment.Status))
	}
	if in.AmountCents != nil {
		if *in.AmountCents <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
		}
		if *in.AmountCents > in.Payment.AmountCents {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount exceeds paid amount")
		}
	}

	resolved, err := e.resolver.Resolve(ctx, in.Payment)
	if err != nil {
		return nil, err
	}
	if !resolved.IsPaid {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment is not settled at the gateway")
	}

	started := time.Now()
	result, err := e.gateway.CreateRefund(ctx, payments.RefundRequest{
		ChargeID:       resolved.ChargeID,
		Reason:         in.Reason,
		AmountCents:    in.AmountCents,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, payments.ErrAlreadyRefunded) {
			e.metrics.ObserveAttempt("already_refunded", time.Since(started))
			return &ExecuteResult{
				AmountCents:     refundedAmount(in),
				AlreadyRefunded: true,
			}, nil
		}
		e.metrics.ObserveAttempt("failed", time.Since(started))
		if e.logg != nil {
			e.logg.Error(ctx, "gateway refund failed", err)
		}
		return nil, err
	}

	e.metrics.ObserveAttempt("succeeded", time.Since(started))
	e.metrics.AddRefundedAmount(result.AmountCents)
	if e.logg != nil {
		fields := map[string]any{
			"refund_id":    result.RefundID,
			"amount_cents": result.AmountCents,
			"charge_id":    resolved.ChargeID,
		}
		e.logg.Info(e.logg.WithFields(ctx, fields), "gateway refund issued")
	}
	return &ExecuteResult{RefundID: result.RefundID, AmountCents: result.AmountCents}, nil
}

func refundedAmount(in ExecuteInput) int64 {
	if in.AmountCents != nil {
		return *in.AmountCents
	}
	return in.Payment.AmountCents
}
