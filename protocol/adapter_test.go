package protocol

import (
	"errors"
	"testing"

	x402 "github.com/xignet/x402/go"
)

func TestAdaptLegacy(t *testing.T) {
	requirement, err := AdaptLegacy(legacyHeader)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if requirement.X402Version != 2 {
		t.Errorf("Expected version 2, got %d", requirement.X402Version)
	}
	if len(requirement.Accepts) != 1 {
		t.Fatalf("Expected one acceptance, got %d", len(requirement.Accepts))
	}
	a := requirement.Accepts[0]
	if a.Network != "eip155:8453" {
		t.Errorf("Expected eip155:8453, got %s", a.Network)
	}
	if a.MaxAmountRequired != "50000" {
		t.Errorf("Expected 50000, got %s", a.MaxAmountRequired)
	}
	if a.Asset != "USDC" {
		t.Errorf("Expected asset USDC, got %s", a.Asset)
	}
	if a.PayTo != "0xabc" || a.Resource != "https://x/r" || a.Scheme != "L402" {
		t.Errorf("Unexpected acceptance %+v", a)
	}
}

func TestAdaptLegacyFallbacks(t *testing.T) {
	requirement, err := AdaptLegacy(`L402 invoice="https://x/iv_2", amount=1.5, currency=USDC, merchant=0xmerchant, network=polygon`)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	a := requirement.Accepts[0]
	if a.PayTo != "0xmerchant" {
		t.Errorf("Expected merchant fallback, got %s", a.PayTo)
	}
	if a.Asset != "USDC" {
		t.Errorf("Expected currency fallback, got %s", a.Asset)
	}
	if a.Resource != "https://x/iv_2" {
		t.Errorf("Expected invoice URL fallback, got %s", a.Resource)
	}
	if a.Network != "eip155:137" {
		t.Errorf("Expected polygon alias, got %s", a.Network)
	}
}

func TestAdaptLegacyMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"network", `L402 invoice=i, amount=1, pay_to=0x1, asset=USDC`, "Missing required x402 field: network"},
		{"payee", `L402 invoice=i, amount=1, network=base, asset=USDC`, "Missing required x402 field: pay_to"},
		{"asset", `L402 invoice=i, amount=1, network=base, pay_to=0x1`, "Missing required x402 field: asset"},
		{"amount", `L402 invoice=i, network=base, pay_to=0x1, asset=USDC`, "Invalid amount in x402 field: amount"},
		{"scientific amount", `L402 invoice=i, amount=1e-3, network=base, pay_to=0x1, asset=USDC`, "Invalid amount in x402 field: amount"},
		{"bad network", `L402 invoice=i, amount=1, network=moon, pay_to=0x1, asset=USDC`, "Invalid CAIP-2 network: moon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AdaptLegacy(tt.header)
			var pe *x402.PaymentError
			if !errors.As(err, &pe) {
				t.Fatalf("Expected PaymentError, got %v", err)
			}
			if pe.Message != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, pe.Message)
			}
		})
	}
}

func TestParseChallengeDetectsFormat(t *testing.T) {
	legacy, err := ParseChallenge(legacyHeader, ParseOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if legacy.Source != SourceLegacy || legacy.RawHeader != legacyHeader {
		t.Errorf("Expected legacy source, got %s", legacy.Source)
	}

	encoded, err := EncodePaymentRequired(*sampleRequirement())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	v2, err := ParseChallenge(encoded, ParseOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if v2.Source != SourceV2 {
		t.Errorf("Expected v2 source, got %s", v2.Source)
	}
	if v2.PaymentRequirement.Accepts[0].Network != "eip155:8453" {
		t.Errorf("Unexpected network %s", v2.PaymentRequirement.Accepts[0].Network)
	}
}
