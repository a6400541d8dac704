package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	x402 "github.com/xignet/x402/go"
	"github.com/xignet/x402/go/protocol"
)

func sampleRequirement() x402.PaymentRequirement {
	scale := 6
	return x402.PaymentRequirement{
		X402Version: x402.ProtocolVersion,
		Accepts: []x402.Acceptance{{
			Scheme:            "exact",
			Network:           "eip155:8453",
			MaxAmountRequired: "1.5",
			AssetScale:        &scale,
			PayTo:             "0xabc",
			Resource:          "https://merchant.example/r",
			Asset:             "USDC",
		}},
	}
}

func TestWriteAndReadPaymentRequired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := WritePaymentRequired(w, sampleRequirement()); err != nil {
			t.Errorf("Unexpected write error: %v", err)
		}
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	challenge, err := ChallengeFromResponse(resp, protocol.ParseOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if challenge.Source != protocol.SourceV2 {
		t.Errorf("Expected v2 source, got %s", challenge.Source)
	}
	accept := challenge.PaymentRequirement.Accepts[0]
	if accept.Network != "eip155:8453" || accept.MaxAmountRequiredAtomic != "1500000" {
		t.Errorf("Unexpected acceptance: %+v", accept)
	}
}

func TestChallengeFromHeadersLegacy(t *testing.T) {
	headers := http.Header{}
	headers.Set(HeaderWWWAuthenticate, `L402 invoice="https://x/iv_1", amount=50000, currency="USDC", network="base-mainnet", pay_to="0xabc", resource="https://x/r"`)

	challenge, err := ChallengeFromHeaders(headers, protocol.ParseOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if challenge.Source != protocol.SourceLegacy {
		t.Errorf("Expected legacy source, got %s", challenge.Source)
	}
	accept := challenge.PaymentRequirement.Accepts[0]
	if accept.Network != "eip155:8453" || accept.MaxAmountRequired != "50000" || accept.Asset != "USDC" {
		t.Errorf("Unexpected acceptance: %+v", accept)
	}
}

func TestChallengeFromResponseErrors(t *testing.T) {
	if _, err := ChallengeFromResponse(&http.Response{StatusCode: http.StatusOK, Header: http.Header{}}, protocol.ParseOptions{}); !errors.Is(err, x402.ErrProtocolCompatibility) {
		t.Errorf("Expected protocol error for non-402, got %v", err)
	}
	if _, err := ChallengeFromResponse(&http.Response{StatusCode: http.StatusPaymentRequired, Header: http.Header{}}, protocol.ParseOptions{}); !errors.Is(err, x402.ErrProtocolCompatibility) {
		t.Errorf("Expected protocol error for missing headers, got %v", err)
	}
	if _, err := ChallengeFromResponse(nil, protocol.ParseOptions{}); err == nil {
		t.Error("Expected error for nil response")
	}
}
