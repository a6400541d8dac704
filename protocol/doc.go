// Package protocol parses and normalizes x402 payment challenges.
//
// Two wire formats are accepted and converge on x402.PaymentRequirement:
//
//   - the v2 PAYMENT-REQUIRED header, a base64url JSON envelope
//   - the legacy L402-style WWW-Authenticate header, adapted into a single
//     acceptance
//
// Example:
//
//	parsed, err := protocol.ParseChallenge(header, protocol.ParseOptions{RequireTTMHash: true})
//	if err != nil {
//		return err
//	}
//	if err := protocol.ValidateTTMHash(parsed.PaymentRequirement, expected, nil); err != nil {
//		return err
//	}
package protocol
