package enums

import "fmt"

// FaultParty records which party an issue's reason implicates.
type FaultParty string

const (
	FaultPartyCarrier    FaultParty = "carrier"
	FaultPartyProduction FaultParty = "production"
	FaultPartyUnknown    FaultParty = "unknown"
)

var validFaultParties = []FaultParty{
	FaultPartyCarrier,
	FaultPartyProduction,
	FaultPartyUnknown,
}

// String implements fmt.Stringer.
func (f FaultParty) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FaultParty.
func (f FaultParty) IsValid() bool {
	for _, candidate := range validFaultParties {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFaultParty converts raw input into a FaultParty.
func ParseFaultParty(value string) (FaultParty, error) {
	for _, candidate := range validFaultParties {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fault party %q", value)
}
