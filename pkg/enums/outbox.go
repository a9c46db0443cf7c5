package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateIssue      OutboxAggregateType = "issue"
	AggregateResolution OutboxAggregateType = "resolution"
	AggregateOrder      OutboxAggregateType = "order"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateIssue,
	AggregateResolution,
	AggregateOrder,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventIssueOpened           OutboxEventType = "issue_opened"
	EventIssueMessagePosted    OutboxEventType = "issue_message_posted"
	EventIssueInfoRequested    OutboxEventType = "issue_info_requested"
	EventIssueClosed           OutboxEventType = "issue_closed"
	EventIssueRefunded         OutboxEventType = "issue_refunded"
	EventIssueReprinted        OutboxEventType = "issue_reprinted"
	EventRefundFailed          OutboxEventType = "refund_failed"
	EventResolutionCompleted   OutboxEventType = "resolution_completed"
	EventCancellationReviewed  OutboxEventType = "cancellation_reviewed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventIssueOpened,
	EventIssueMessagePosted,
	EventIssueInfoRequested,
	EventIssueClosed,
	EventIssueRefunded,
	EventIssueReprinted,
	EventRefundFailed,
	EventResolutionCompleted,
	EventCancellationReviewed,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
