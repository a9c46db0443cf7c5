package enums

import "fmt"

// IssueStatus tracks the lifecycle of a customer-reported item issue.
type IssueStatus string

const (
	IssueStatusSubmitted       IssueStatus = "submitted"
	IssueStatusAwaitingReview  IssueStatus = "awaiting_review"
	IssueStatusInfoRequested   IssueStatus = "info_requested"
	IssueStatusApprovedReprint IssueStatus = "approved_reprint"
	IssueStatusApprovedRefund  IssueStatus = "approved_refund"
	IssueStatusProcessing      IssueStatus = "processing"
	IssueStatusCompleted       IssueStatus = "completed"
	IssueStatusClosed          IssueStatus = "closed"
)

var validIssueStatuses = []IssueStatus{
	IssueStatusSubmitted,
	IssueStatusAwaitingReview,
	IssueStatusInfoRequested,
	IssueStatusApprovedReprint,
	IssueStatusApprovedRefund,
	IssueStatusProcessing,
	IssueStatusCompleted,
	IssueStatusClosed,
}

// String implements fmt.Stringer.
func (i IssueStatus) String() string {
	return string(i)
}

// IsValid reports whether the value is a known IssueStatus.
func (i IssueStatus) IsValid() bool {
	for _, candidate := range validIssueStatuses {
		if candidate == i {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are legal.
func (i IssueStatus) IsTerminal() bool {
	return i == IssueStatusCompleted || i == IssueStatusClosed
}

// IsEarly reports whether the issue is still pre-approval. Withdrawal and
// closing are only legal from these states.
func (i IssueStatus) IsEarly() bool {
	return i == IssueStatusSubmitted || i == IssueStatusAwaitingReview
}

// IsApproved reports whether a resolution type has been approved and the
// issue is waiting to be processed.
func (i IssueStatus) IsApproved() bool {
	return i == IssueStatusApprovedReprint || i == IssueStatusApprovedRefund
}

// ParseIssueStatus converts raw input into an IssueStatus.
func ParseIssueStatus(value string) (IssueStatus, error) {
	for _, candidate := range validIssueStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid issue status %q", value)
}
