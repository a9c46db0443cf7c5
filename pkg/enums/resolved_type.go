package enums

import "fmt"

// ResolvedType records how an issue or resolution was settled.
type ResolvedType string

const (
	ResolvedTypeReprint       ResolvedType = "reprint"
	ResolvedTypeFullRefund    ResolvedType = "full_refund"
	ResolvedTypePartialRefund ResolvedType = "partial_refund"
)

var validResolvedTypes = []ResolvedType{
	ResolvedTypeReprint,
	ResolvedTypeFullRefund,
	ResolvedTypePartialRefund,
}

// String implements fmt.Stringer.
func (r ResolvedType) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ResolvedType.
func (r ResolvedType) IsValid() bool {
	for _, candidate := range validResolvedTypes {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsRefund reports whether the resolution moves money back to the customer.
func (r ResolvedType) IsRefund() bool {
	return r == ResolvedTypeFullRefund || r == ResolvedTypePartialRefund
}

// ParseResolvedType converts raw input into a ResolvedType.
func ParseResolvedType(value string) (ResolvedType, error) {
	for _, candidate := range validResolvedTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid resolved type %q", value)
}
