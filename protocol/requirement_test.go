package protocol

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	x402 "github.com/xignet/x402/go"
)

const sampleHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func sampleRequirement() *x402.PaymentRequirement {
	return &x402.PaymentRequirement{
		X402Version: 2,
		Accepts: []x402.Acceptance{{
			Scheme:            "exact",
			Network:           "base",
			MaxAmountRequired: "10.50",
			PayTo:             "0xabc",
			Resource:          "https://merchant.example/r/1",
			Asset:             "USDC",
		}},
		TTMHash: sampleHash,
		PolicyRefs: &x402.PolicyRefs{
			LegalPolicyID:     "legal-1",
			WebAuthnPolicyID:  "webauthn-1",
			RetentionPolicyID: "retention-1",
			RunbookPolicyID:   "runbook-1",
			FinalityPolicyID:  "finality-1",
		},
	}
}

func encodeJSON(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestParsePaymentRequiredRoundTrip(t *testing.T) {
	encoded, err := EncodePaymentRequired(*sampleRequirement())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if strings.ContainsAny(encoded, "+/=") {
		t.Errorf("Expected unpadded base64url, got %s", encoded)
	}

	requirement, err := ParsePaymentRequired(encoded, ParseOptions{RequirePolicyRefs: true, RequireTTMHash: true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if requirement.Accepts[0].Network != "eip155:8453" {
		t.Errorf("Expected alias to normalize to eip155:8453, got %s", requirement.Accepts[0].Network)
	}
	if requirement.Accepts[0].MaxAmountRequired != "10.50" {
		t.Errorf("Expected amount verbatim, got %s", requirement.Accepts[0].MaxAmountRequired)
	}
	if requirement.TTMHash != sampleHash {
		t.Errorf("Expected ttmHash to survive, got %s", requirement.TTMHash)
	}
	if requirement.PolicyRefs == nil || requirement.PolicyRefs.FinalityPolicyID != "finality-1" {
		t.Errorf("Expected policy refs to survive, got %+v", requirement.PolicyRefs)
	}
}

func TestParsePaymentRequiredAtomicAmount(t *testing.T) {
	header := encodeJSON(`{"x402Version":"2","accepts":[{"scheme":"exact","network":"eip155:1","maxAmountRequired":"1.23","assetScale":6,"payTo":"0x1","resource":"r","asset":"USDC"}]}`)
	requirement, err := ParsePaymentRequired(header, ParseOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	a := requirement.Accepts[0]
	if a.AssetScale == nil || *a.AssetScale != 6 {
		t.Fatalf("Expected scale 6, got %v", a.AssetScale)
	}
	if a.MaxAmountRequiredAtomic != "1230000" {
		t.Errorf("Expected atomic 1230000, got %s", a.MaxAmountRequiredAtomic)
	}
}

func TestParsePaymentRequiredIntegralFloats(t *testing.T) {
	header := encodeJSON(`{"x402Version":2.0,"accepts":[{"scheme":"exact","network":"eip155:1","maxAmountRequired":"1.23","assetScale":6.0,"payTo":"0x1","resource":"r","asset":"USDC"}]}`)
	requirement, err := ParsePaymentRequired(header, ParseOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	a := requirement.Accepts[0]
	if a.AssetScale == nil || *a.AssetScale != 6 {
		t.Fatalf("Expected scale 6, got %v", a.AssetScale)
	}
	if a.MaxAmountRequiredAtomic != "1230000" {
		t.Errorf("Expected atomic 1230000, got %s", a.MaxAmountRequiredAtomic)
	}
}

func TestParsePaymentRequiredAcceptsNumericAmount(t *testing.T) {
	header := encodeJSON(`{"x402Version":2,"accepts":[{"scheme":"exact","network":"eip155:1","maxAmountRequired":25,"payTo":"0x1","resource":"r","asset":"USDC"}]}`)
	requirement, err := ParsePaymentRequired(header, ParseOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if requirement.Accepts[0].MaxAmountRequired != "25" {
		t.Errorf("Expected 25, got %s", requirement.Accepts[0].MaxAmountRequired)
	}
}

func TestParsePaymentRequiredErrors(t *testing.T) {
	acceptance := `{"scheme":"exact","network":"eip155:1","maxAmountRequired":"1","payTo":"0x1","resource":"r","asset":"USDC"}`

	tests := []struct {
		name   string
		header string
		opts   ParseOptions
		want   string
	}{
		{"empty", "  ", ParseOptions{}, "Missing required x402 field: PAYMENT-REQUIRED"},
		{"bad base64", "!!!", ParseOptions{}, "Invalid PAYMENT-REQUIRED base64url payload"},
		{"bad json", encodeJSON(`{"x402Version":`), ParseOptions{}, "Invalid PAYMENT-REQUIRED JSON payload"},
		{"not object", encodeJSON(`[1]`), ParseOptions{}, "Invalid x402 field: PAYMENT-REQUIRED must be an object"},
		{"version 1", encodeJSON(`{"x402Version":1,"accepts":[` + acceptance + `]}`), ParseOptions{}, "Invalid x402 field: x402Version must be 2"},
		{"no accepts", encodeJSON(`{"x402Version":2,"accepts":[]}`), ParseOptions{}, "Missing required x402 field: accepts"},
		{"acceptance not object", encodeJSON(`{"x402Version":2,"accepts":["x"]}`), ParseOptions{}, "Invalid x402 field: accepts[0] must be an object"},
		{"missing scheme", encodeJSON(`{"x402Version":2,"accepts":[{"network":"eip155:1"}]}`), ParseOptions{}, "Missing required x402 field: accepts[0].scheme"},
		{"bad network", encodeJSON(`{"x402Version":2,"accepts":[{"scheme":"exact","network":"e:1"}]}`), ParseOptions{}, "Invalid CAIP-2 network: e:1"},
		{"scientific", encodeJSON(`{"x402Version":2,"accepts":[{"scheme":"exact","network":"eip155:1","maxAmountRequired":"1e-3"}]}`), ParseOptions{}, "Invalid amount in x402 field: accepts[0].maxAmountRequired"},
		{"scale overflow", encodeJSON(`{"x402Version":2,"accepts":[{"scheme":"exact","network":"eip155:1","maxAmountRequired":"1.234","assetScale":2}]}`), ParseOptions{}, "Invalid amount in x402 field: accepts[0].maxAmountRequired scale overflow (fraction=3, scale=2)"},
		{"bad scale", encodeJSON(`{"x402Version":2,"accepts":[{"scheme":"exact","network":"eip155:1","maxAmountRequired":"1","assetScale":1.5}]}`), ParseOptions{}, "Invalid amount scale in x402 field: accepts[0].assetScale (expected integer 0-36)"},
		{"missing asset", encodeJSON(`{"x402Version":2,"accepts":[{"scheme":"exact","network":"eip155:1","maxAmountRequired":"1","payTo":"0x1","resource":"r"}]}`), ParseOptions{}, "Missing required x402 field: accepts[0].asset"},
		{"required hash missing", encodeJSON(`{"x402Version":2,"accepts":[` + acceptance + `]}`), ParseOptions{RequireTTMHash: true}, "Missing required x402 field: ttmHash"},
		{"required hash malformed", encodeJSON(`{"x402Version":2,"ttmHash":"ABC","accepts":[` + acceptance + `]}`), ParseOptions{RequireTTMHash: true}, "Invalid x402 field: ttmHash must be 64-char lowercase hex (JCS RFC8785 + SHA-256)"},
		{"hash null", encodeJSON(`{"x402Version":2,"ttmHash":null,"accepts":[` + acceptance + `]}`), ParseOptions{}, "Invalid x402 field: ttmHash must be a non-empty string"},
		{"refs null", encodeJSON(`{"x402Version":2,"policyRefs":null,"accepts":[` + acceptance + `]}`), ParseOptions{}, "Invalid x402 field: policyRefs must be an object"},
		{"version 2.5", encodeJSON(`{"x402Version":2.5,"accepts":[` + acceptance + `]}`), ParseOptions{}, "Invalid x402 field: x402Version must be 2"},
		{"hash not string", encodeJSON(`{"x402Version":2,"ttmHash":5,"accepts":[` + acceptance + `]}`), ParseOptions{}, "Invalid x402 field: ttmHash must be a non-empty string"},
		{"required refs missing", encodeJSON(`{"x402Version":2,"accepts":[` + acceptance + `]}`), ParseOptions{RequirePolicyRefs: true}, "Missing required x402 field: policyRefs"},
		{"partial refs", encodeJSON(`{"x402Version":2,"policyRefs":{"legalPolicyId":"l"},"accepts":[` + acceptance + `]}`), ParseOptions{}, "Missing required x402 field: policyRefs.webauthnPolicyId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePaymentRequired(tt.header, tt.opts)
			var pe *x402.PaymentError
			if !errors.As(err, &pe) {
				t.Fatalf("Expected PaymentError, got %v", err)
			}
			if pe.Kind != x402.KindProtocolCompatibility {
				t.Errorf("Expected protocol kind, got %s", pe.Kind)
			}
			if pe.Message != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, pe.Message)
			}
		})
	}
}

func TestParsePaymentRequiredOptionalHashNotFormatChecked(t *testing.T) {
	header := encodeJSON(`{"x402Version":2,"ttmHash":"opaque","accepts":[{"scheme":"exact","network":"eip155:1","maxAmountRequired":"1","payTo":"0x1","resource":"r","asset":"USDC"}]}`)
	requirement, err := ParsePaymentRequired(header, ParseOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if requirement.TTMHash != "opaque" {
		t.Errorf("Expected opaque hash to be kept, got %s", requirement.TTMHash)
	}
}

func TestParsePaymentRequiredToleratesStandardAlphabet(t *testing.T) {
	body := `{"x402Version":2,"accepts":[{"scheme":"exact","network":"eip155:1","maxAmountRequired":"1","payTo":"0x1","resource":"r?>>","asset":"USDC"}]}`
	header := base64.StdEncoding.EncodeToString([]byte(body))
	if _, err := ParsePaymentRequired(header, ParseOptions{}); err != nil {
		t.Fatalf("Expected padded standard base64 to decode, got %v", err)
	}
}
