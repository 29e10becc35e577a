package domain

import (
	"fmt"
	"strings"
)

// OverpaymentPolicy decides what happens when a partial payment is larger than
// the remaining balance of a record.
type OverpaymentPolicy string

const (
	// OverpaymentReject refuses any payment above the remaining balance.
	OverpaymentReject OverpaymentPolicy = "reject"
	// OverpaymentClamp applies only the remaining balance when the caller
	// acknowledged the overpayment. The excess is reported back as unapplied.
	OverpaymentClamp OverpaymentPolicy = "clamp"
)

// ParseOverpaymentPolicy parses a policy name. Empty means reject.
func ParseOverpaymentPolicy(s string) (OverpaymentPolicy, error) {
	switch p := OverpaymentPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return OverpaymentReject, nil
	case OverpaymentReject, OverpaymentClamp:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

func (p OverpaymentPolicy) allows(acknowledged bool) bool {
	return p == OverpaymentClamp && acknowledged
}
