package payments

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"

	pkgerrors "github.com/printbound/printbound-backend/pkg/errors"
	pkgstripe "github.com/printbound/printbound-backend/pkg/stripe"
)

// ErrAlreadyRefunded reports that the gateway has already refunded the
// charge. Callers treat this as an idempotent success, not a failure.
var ErrAlreadyRefunded = errors.New("charge already refunded at gateway")

// Charge is the gateway's canonical view of a (possibly) settled payment.
type Charge struct {
	ID          string
	Paid        bool
	AmountCents int64
	Currency    string
}

// Session is the gateway's view of a hosted checkout flow.
type Session struct {
	ID              string
	PaymentComplete bool
	ChargeID        string
}

// RefundRequest carries everything one gateway refund call needs. A nil
// AmountCents refunds the full original charge.
type RefundRequest struct {
	ChargeID       string
	Reason         string
	AmountCents    *int64
	IdempotencyKey string
}

// RefundResult is the gateway's answer to a refund call.
type RefundResult struct {
	RefundID    string
	AmountCents int64
}

// Gateway exposes the subset of payment gateway operations the resolution
// engine needs, so services can be tested against fakes.
type Gateway interface {
	FetchCharge(ctx context.Context, id string) (*Charge, error)
	FetchSession(ctx context.Context, id string) (*Session, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

type stripeGateway struct{}

// NewStripeGateway wraps the initialized Stripe client as a Gateway.
func NewStripeGateway(api *pkgstripe.Client) Gateway {
	if api == nil {
		return nil
	}
	return &stripeGateway{}
}

func (g *stripeGateway) FetchCharge(ctx context.Context, id string) (*Charge, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, classifyGatewayError(err)
	}
	return &Charge{
		ID:          intent.ID,
		Paid:        intent.Status == stripe.PaymentIntentStatusSucceeded,
		AmountCents: intent.Amount,
		Currency:    string(intent.Currency),
	}, nil
}

func (g *stripeGateway) FetchSession(ctx context.Context, id string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	sess, err := session.Get(id, params)
	if err != nil {
		return nil, classifyGatewayError(err)
	}
	out := &Session{
		ID:              sess.ID,
		PaymentComplete: sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
	if sess.PaymentIntent != nil {
		out.ChargeID = sess.PaymentIntent.ID
	}
	return out, nil
}

func (g *stripeGateway) CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ChargeID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if req.AmountCents != nil {
		params.Amount = stripe.Int64(*req.AmountCents)
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	result, err := refund.New(params)
	if err != nil {
		return nil, classifyGatewayError(err)
	}
	return &RefundResult{
		RefundID:    result.ID,
		AmountCents: result.Amount,
	}, nil
}

// classifyGatewayError maps Stripe failures to the error taxonomy exposed
// to callers. Card and invalid-request errors carry the gateway message
// verbatim; everything else gets a generic dependency error so internal
// details never reach customers.
func classifyGatewayError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway unreachable")
	}
	if stripeErr.Code == stripe.ErrorCodeChargeAlreadyRefunded {
		return ErrAlreadyRefunded
	}
	if stripeErr.HTTPStatusCode == 401 {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway authentication failed")
	}
	switch stripeErr.Type {
	case stripe.ErrorTypeCard:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "card error: "+stripeErr.Msg)
	case stripe.ErrorTypeInvalidRequest:
		if stripeErr.HTTPStatusCode == 404 {
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "gateway object not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway rejected request: "+stripeErr.Msg)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway error")
	}
}
