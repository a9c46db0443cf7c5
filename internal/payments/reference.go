package payments

import (
	"fmt"
	"strings"
)

// ReferenceKind tags the shape of a stored gateway reference.
type ReferenceKind string

const (
	// KindCharge is a canonical payment intent id, refundable directly.
	KindCharge ReferenceKind = "charge"
	// KindSession is a hosted checkout session token that must be resolved
	// to its underlying payment intent before a refund is possible.
	KindSession ReferenceKind = "session"
)

const (
	chargePrefix  = "pi_"
	sessionPrefix = "cs_"
)

// Reference is the parsed form of a stored gateway reference. Downstream
// code switches on Kind instead of re-inspecting raw strings.
type Reference struct {
	Kind ReferenceKind
	ID   string
}

// ParseReference classifies a raw stored reference by its prefix. This is
// the single place the raw string shape is inspected.
func ParseReference(raw string) (Reference, error) {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "":
		return Reference{}, fmt.Errorf("gateway reference is empty")
	case strings.HasPrefix(trimmed, chargePrefix):
		return Reference{Kind: KindCharge, ID: trimmed}, nil
	case strings.HasPrefix(trimmed, sessionPrefix):
		return Reference{Kind: KindSession, ID: trimmed}, nil
	default:
		return Reference{}, fmt.Errorf("unrecognized gateway reference shape %q", truncateRef(trimmed))
	}
}

func truncateRef(ref string) string {
	if len(ref) <= 12 {
		return ref
	}
	return ref[:12] + "..."
}
