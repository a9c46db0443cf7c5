package payloads

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/printbound/printbound-backend/pkg/enums"
	"github.com/printbound/printbound-backend/pkg/outbox"
)

// IssueOpenedEvent signals a new customer-reported issue entering review.
type IssueOpenedEvent struct {
	IssueID     uuid.UUID         `json:"issue_id"`
	OrderID     uuid.UUID         `json:"order_id"`
	OrderItemID uuid.UUID         `json:"order_item_id"`
	CustomerID  uuid.UUID         `json:"customer_id"`
	Reason      enums.IssueReason `json:"reason"`
	FaultParty  enums.FaultParty  `json:"fault_party"`
}

// IssueMessagePostedEvent is emitted for each new thread message so the
// counterpart can be notified.
type IssueMessagePostedEvent struct {
	IssueID    uuid.UUID           `json:"issue_id"`
	MessageID  uuid.UUID           `json:"message_id"`
	OrderID    uuid.UUID           `json:"order_id"`
	CustomerID uuid.UUID           `json:"customer_id"`
	Sender     enums.MessageSender `json:"sender"`
}

// IssueInfoRequestedEvent asks the customer for more detail.
type IssueInfoRequestedEvent struct {
	IssueID    uuid.UUID `json:"issue_id"`
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID uuid.UUID `json:"customer_id"`
}

// IssueClosedEvent reports an issue ending without a resolution, including
// customer withdrawal.
type IssueClosedEvent struct {
	IssueID    uuid.UUID `json:"issue_id"`
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Withdrawn  bool      `json:"withdrawn"`
	Reason     string    `json:"reason,omitempty"`
}

// IssueRefundedEvent carries the financial outcome of a completed refund.
type IssueRefundedEvent struct {
	IssueID         uuid.UUID          `json:"issue_id"`
	OrderID         uuid.UUID          `json:"order_id"`
	CustomerID      uuid.UUID          `json:"customer_id"`
	ResolvedType    enums.ResolvedType `json:"resolved_type"`
	AmountCents     int64              `json:"amount_cents"`
	GatewayRefundID string             `json:"gateway_refund_id"`
	RefundedAt      time.Time          `json:"refunded_at"`
}

// IssueReprintedEvent reports a zero-cost replacement order.
type IssueReprintedEvent struct {
	IssueID        uuid.UUID `json:"issue_id"`
	OrderID        uuid.UUID `json:"order_id"`
	ReprintOrderID uuid.UUID `json:"reprint_order_id"`
	CustomerID     uuid.UUID `json:"customer_id"`
	CostCents      int64     `json:"cost_cents"`
}

// RefundFailedEvent surfaces a failed gateway refund for operator review.
type RefundFailedEvent struct {
	IssueID    uuid.UUID `json:"issue_id"`
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Error      string    `json:"error"`
}

// ResolutionCompletedEvent reports an order-scoped resolution concluding.
type ResolutionCompletedEvent struct {
	ResolutionID    uuid.UUID          `json:"resolution_id"`
	OrderID         uuid.UUID          `json:"order_id"`
	ResolvedType    enums.ResolvedType `json:"resolved_type"`
	AmountCents     int64              `json:"amount_cents"`
	GatewayRefundID string             `json:"gateway_refund_id,omitempty"`
}

// CancellationReviewedEvent reports an admin decision on a cancellation
// request.
type CancellationReviewedEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	ResolutionID uuid.UUID `json:"resolution_id"`
	Approved     bool      `json:"approved"`
	Refunded     bool      `json:"refunded"`
	AmountCents  int64     `json:"amount_cents,omitempty"`
}

func decodeInto[T any](payload json.RawMessage) (interface{}, error) {
	var event T
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// RegisterDecoders wires version-1 decoders for every event this engine
// emits. Consumers call this once at startup.
func RegisterDecoders(r *outbox.DecoderRegistry) {
	r.Register(enums.EventIssueOpened, 1, decodeInto[IssueOpenedEvent])
	r.Register(enums.EventIssueMessagePosted, 1, decodeInto[IssueMessagePostedEvent])
	r.Register(enums.EventIssueInfoRequested, 1, decodeInto[IssueInfoRequestedEvent])
	r.Register(enums.EventIssueClosed, 1, decodeInto[IssueClosedEvent])
	r.Register(enums.EventIssueRefunded, 1, decodeInto[IssueRefundedEvent])
	r.Register(enums.EventIssueReprinted, 1, decodeInto[IssueReprintedEvent])
	r.Register(enums.EventRefundFailed, 1, decodeInto[RefundFailedEvent])
	r.Register(enums.EventResolutionCompleted, 1, decodeInto[ResolutionCompletedEvent])
	r.Register(enums.EventCancellationReviewed, 1, decodeInto[CancellationReviewedEvent])
}
