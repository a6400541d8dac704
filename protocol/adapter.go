package protocol

import (
	"strings"

	x402 "github.com/xignet/x402/go"
)

// ChallengeSource identifies which wire format a challenge arrived in
type ChallengeSource string

const (
	SourceV2     ChallengeSource = "v2"
	SourceLegacy ChallengeSource = "legacy"
)

// CompatibilityParsedChallenge is a challenge from either wire format in
// canonical form
type CompatibilityParsedChallenge struct {
	Source             ChallengeSource         `json:"source"`
	PaymentRequirement x402.PaymentRequirement `json:"paymentRequirement"`
	RawHeader          string                  `json:"rawHeader"`
}

// AdaptLegacy parses a legacy WWW-Authenticate challenge and maps it onto a
// single canonical acceptance.
func AdaptLegacy(header string) (*x402.PaymentRequirement, error) {
	challenge, err := ParseLegacyHeader(header)
	if err != nil {
		return nil, err
	}
	return AdaptLegacyChallenge(challenge)
}

// AdaptLegacyChallenge maps an already parsed legacy challenge. Payee falls
// back to the merchant, asset to the currency and resource to the invoice URL.
func AdaptLegacyChallenge(challenge *LegacyChallenge) (*x402.PaymentRequirement, error) {
	if challenge.Network == "" {
		return nil, missingField("network")
	}
	network, err := x402.NormalizeNetwork(challenge.Network)
	if err != nil {
		return nil, err
	}

	amount, err := x402.NormalizeAmount(challenge.Amount, "amount")
	if err != nil {
		return nil, err
	}

	payTo := challenge.PayTo
	if payTo == "" {
		payTo = challenge.Merchant
	}
	if payTo == "" {
		return nil, missingField("pay_to")
	}

	asset := challenge.Asset
	if asset == "" {
		asset = challenge.Currency
	}
	if asset == "" {
		return nil, missingField("asset")
	}

	resource := challenge.Resource
	if resource == "" {
		resource = challenge.InvoiceURL
	}

	return &x402.PaymentRequirement{
		X402Version: x402.ProtocolVersion,
		Accepts: []x402.Acceptance{{
			Scheme:            challenge.Scheme,
			Network:           network,
			MaxAmountRequired: amount,
			PayTo:             payTo,
			Resource:          resource,
			Asset:             asset,
		}},
	}, nil
}

// ParseChallenge accepts either a PAYMENT-REQUIRED value or a legacy
// WWW-Authenticate value. A base64url envelope never contains whitespace, so
// any header with a scheme/params split is treated as legacy. opts applies
// to v2 envelopes only.
func ParseChallenge(header string, opts ParseOptions) (*CompatibilityParsedChallenge, error) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return nil, missingField("challenge")
	}

	if strings.ContainsAny(trimmed, " \t") {
		requirement, err := AdaptLegacy(header)
		if err != nil {
			return nil, err
		}
		return &CompatibilityParsedChallenge{Source: SourceLegacy, PaymentRequirement: *requirement, RawHeader: header}, nil
	}

	requirement, err := ParsePaymentRequired(trimmed, opts)
	if err != nil {
		return nil, err
	}
	return &CompatibilityParsedChallenge{Source: SourceV2, PaymentRequirement: *requirement, RawHeader: header}, nil
}
