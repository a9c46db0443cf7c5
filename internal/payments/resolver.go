package payments

import (
	"context"
	"fmt"

	"github.com/printbound/printbound-backend/pkg/db/models"
	pkgerrors "github.com/printbound/printbound-backend/pkg/errors"
	"github.com/printbound/printbound-backend/pkg/logger"
)

// Resolved is the canonical answer the resolver produces: a refundable
// charge id and a trustworthy paid determination.
type Resolved struct {
	ChargeID string
	IsPaid   bool
}

// Resolver normalizes an ambiguous stored gateway reference into a canonical
// charge id, repairing the local payment row when it has drifted from
// gateway truth.
type Resolver struct {
	gateway Gateway
	repo    Repository
	logg    *logger.Logger
}

// NewResolver wires a resolver over the gateway and payment repository.
func NewResolver(gateway Gateway, repo Repository, logg *logger.Logger) (*Resolver, error) {
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if repo == nil {
		return nil, fmt.Errorf("payment repository required")
	}
	return &Resolver{gateway: gateway, repo: repo, logg: logg}, nil
}

// Resolve turns the payment's stored reference into a charge id plus paid
// status. A session-shaped reference confirmed paid by the gateway triggers
// a self-healing write-back so the next lookup resolves on first read. Any
// failure here is terminal for the caller: no refund may proceed without a
// resolved, paid charge.
func (r *Resolver) Resolve(ctx context.Context, payment *models.Payment) (*Resolved, error) {
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment is required")
	}
	ref, err := ParseReference(payment.GatewayReference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "cannot resolve payment reference")
	}

	switch ref.Kind {
	case KindCharge:
		charge, err := r.gateway.FetchCharge(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return &Resolved{ChargeID: charge.ID, IsPaid: charge.Paid}, nil

	case KindSession:
		sess, err := r.gateway.FetchSession(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if !sess.PaymentComplete || sess.ChargeID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "checkout session has no completed payment")
		}
		if err := r.repo.ReconcileReference(ctx, payment.ID, sess.ChargeID); err != nil {
			// Reconciliation is best-effort; the refund can still proceed
			// with the resolved charge id.
			if r.logg != nil {
				fields := map[string]any{"payment_id": payment.ID.String(), "error": err.Error()}
				r.logg.Warn(r.logg.WithFields(ctx, fields), "payment reference reconciliation failed")
			}
		} else if r.logg != nil {
			fields := map[string]any{"payment_id": payment.ID.String(), "charge_id": sess.ChargeID}
			r.logg.Info(r.logg.WithFields(ctx, fields), "payment reference self-healed from session")
		}
		return &Resolved{ChargeID: sess.ChargeID, IsPaid: true}, nil

	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unrecognized payment reference")
	}
}
