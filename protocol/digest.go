package protocol

import (
	"fmt"

	x402 "github.com/xignet/x402/go"
)

// TTMHashCheck is the input to a TTMHashHook
type TTMHashCheck struct {
	PaymentRequirement x402.PaymentRequirement
	Expected           string
	// Received is empty when the requirement carried no digest
	Received string
}

// TTMHashHook decides whether a requirement's digest is acceptable. When
// supplied it fully replaces the default equality rule.
type TTMHashHook func(check TTMHashCheck) bool

// ValidateTTMHash cross-checks the digest carried by requirement against the
// locally computed one.
func ValidateTTMHash(requirement x402.PaymentRequirement, expected string, hook TTMHashHook) error {
	if expected == "" {
		return missingField("expectedTtmHash")
	}
	normalized, err := x402.ValidateTTMHash(expected, "expectedTtmHash")
	if err != nil {
		return err
	}

	received := requirement.TTMHash
	var ok bool
	if hook != nil {
		ok = hook(TTMHashCheck{PaymentRequirement: requirement, Expected: normalized, Received: received})
	} else {
		ok = received == normalized
	}
	if ok {
		return nil
	}

	label := received
	if label == "" {
		label = "<missing>"
	}
	return x402.NewProtocolError(
		fmt.Sprintf("TTM hash validation failed: expected=%s, received=%s", normalized, label),
		x402.FieldDetails("ttmHash", normalized, label),
	)
}
