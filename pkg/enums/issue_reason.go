package enums

import "fmt"

// IssueReason categorizes what the customer says went wrong with an item.
type IssueReason string

const (
	IssueReasonDamagedInTransit IssueReason = "damaged_in_transit"
	IssueReasonQualityIssue     IssueReason = "quality_issue"
	IssueReasonWrongItem        IssueReason = "wrong_item"
	IssueReasonPrintingError    IssueReason = "printing_error"
	IssueReasonNeverArrived     IssueReason = "never_arrived"
	IssueReasonOther            IssueReason = "other"
)

var validIssueReasons = []IssueReason{
	IssueReasonDamagedInTransit,
	IssueReasonQualityIssue,
	IssueReasonWrongItem,
	IssueReasonPrintingError,
	IssueReasonNeverArrived,
	IssueReasonOther,
}

// String implements fmt.Stringer.
func (i IssueReason) String() string {
	return string(i)
}

// IsValid reports whether the value is a known IssueReason.
func (i IssueReason) IsValid() bool {
	for _, candidate := range validIssueReasons {
		if candidate == i {
			return true
		}
	}
	return false
}

// FaultParty returns which party the reason implicates.
func (i IssueReason) FaultParty() FaultParty {
	switch i {
	case IssueReasonDamagedInTransit, IssueReasonNeverArrived:
		return FaultPartyCarrier
	case IssueReasonQualityIssue, IssueReasonWrongItem, IssueReasonPrintingError:
		return FaultPartyProduction
	default:
		return FaultPartyUnknown
	}
}

// ParseIssueReason converts raw input into an IssueReason.
func ParseIssueReason(value string) (IssueReason, error) {
	for _, candidate := range validIssueReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid issue reason %q", value)
}
