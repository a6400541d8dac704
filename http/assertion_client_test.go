package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	x402 "github.com/xignet/x402/go"
)

func TestNewAssertionVerifierClient(t *testing.T) {
	if _, err := NewAssertionVerifierClient(nil); !errors.Is(err, x402.ErrProtocolCompatibility) {
		t.Errorf("Expected error for missing config, got %v", err)
	}
	if _, err := NewAssertionVerifierClient(&AssertionVerifierConfig{URL: "  "}); !errors.Is(err, x402.ErrProtocolCompatibility) {
		t.Errorf("Expected error for blank URL, got %v", err)
	}
}

func TestAssertionVerifierClientVerify(t *testing.T) {
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/assertions/verify" {
			t.Errorf("Expected path /assertions/verify, got %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("Expected api key header, got %q", r.Header.Get("X-Api-Key"))
		}

		var body assertionVerifyRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if string(body.Assertion) != `{"id":"cred_1"}` {
			t.Errorf("Unexpected assertion: %s", body.Assertion)
		}

		if body.Request.InvoiceID == "inv_declined" {
			_ = json.NewEncoder(w).Encode(assertionVerifyResponse{Approved: false})
			return
		}
		_ = json.NewEncoder(w).Encode(assertionVerifyResponse{
			Approved: true,
			SignedContext: &x402.SignedContext{
				SignerDeviceID: "device_1",
				SignedAt:       "2026-01-01T00:00:00Z",
				TTMHash:        body.Request.TTMHash,
			},
		})
	}))
	defer server.Close()

	client, err := NewAssertionVerifierClient(&AssertionVerifierConfig{
		URL:     server.URL + "/",
		Headers: map[string]string{"X-Api-Key": "secret"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	assertion := json.RawMessage(`{"id":"cred_1"}`)
	signed, err := client.Verify(ctx, x402.VerificationRequest{InvoiceID: "inv_1", TTMHash: "abc"}, assertion)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if signed == nil || signed.SignerDeviceID != "device_1" || signed.TTMHash != "abc" {
		t.Errorf("Unexpected signed context: %+v", signed)
	}

	signed, err = client.Verify(ctx, x402.VerificationRequest{InvoiceID: "inv_declined"}, assertion)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if signed != nil {
		t.Errorf("Expected decline, got %+v", signed)
	}
}

func TestAssertionVerifierClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := NewAssertionVerifierClient(&AssertionVerifierConfig{URL: server.URL})
	_, err := client.Verify(context.Background(), x402.VerificationRequest{}, json.RawMessage(`{}`))

	var statusErr *x402.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusServiceUnavailable {
		t.Errorf("Expected StatusError 503, got %v", err)
	}
}
