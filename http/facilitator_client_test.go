package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	x402 "github.com/xignet/x402/go"
	"github.com/xignet/x402/go/settlement"
)

func TestNewHTTPFacilitatorClient(t *testing.T) {
	if _, err := NewHTTPFacilitatorClient(nil); !errors.Is(err, x402.ErrProtocolCompatibility) {
		t.Errorf("Expected error for missing config, got %v", err)
	}

	client, err := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: "https://facilitator.example/"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if client.url != "https://facilitator.example" {
		t.Errorf("Expected trailing slash to be trimmed, got %s", client.url)
	}
	if client.Identifier() != "https://facilitator.example" {
		t.Errorf("Expected identifier to default to URL, got %s", client.Identifier())
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %s", client.httpClient.Timeout)
	}

	client, _ = NewHTTPFacilitatorClient(&FacilitatorConfig{URL: "https://f", Identifier: "custom"})
	if client.Identifier() != "custom" {
		t.Errorf("Expected identifier 'custom', got %s", client.Identifier())
	}
}

func TestHTTPFacilitatorClientVerify(t *testing.T) {
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Errorf("Expected path /verify, got %s", r.URL.Path)
		}
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer verify-token" {
			t.Errorf("Expected verify auth header, got %q", r.Header.Get("Authorization"))
		}

		var request x402.FacilitatorVerifyRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if request.InvoiceID != "inv_1" || request.IdempotencyKey != "idem-1" || request.FacilitatorPolicyID != "fac_1" {
			t.Errorf("Unexpected request: %+v", request)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(x402.FacilitatorVerifyResponse{
			Status:         x402.VerifyApproved,
			VerificationID: "ver_1",
			VerifiedAt:     "2026-01-01T00:00:00Z",
		})
	}))
	defer server.Close()

	client, _ := NewHTTPFacilitatorClient(&FacilitatorConfig{
		URL:          server.URL,
		AuthProvider: authFunc(func() AuthHeaders { return AuthHeaders{Verify: map[string]string{"Authorization": "Bearer verify-token"}} }),
	})

	resp, err := client.Verify(ctx, x402.FacilitatorVerifyRequest{
		InvoiceID:           "inv_1",
		IdempotencyKey:      "idem-1",
		TTMHash:             "abc",
		FacilitatorPolicyID: "fac_1",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Status != x402.VerifyApproved || resp.VerificationID != "ver_1" {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

type authFunc func() AuthHeaders

func (f authFunc) GetAuthHeaders(context.Context) (AuthHeaders, error) {
	return f(), nil
}

func TestHTTPFacilitatorClientSettle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settle" {
			t.Errorf("Expected path /settle, got %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "k" {
			t.Errorf("Expected static auth header")
		}
		var request x402.FacilitatorSettleRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if request.VerificationID != "ver_1" || request.Proof.TxHash != "0xproof" {
			t.Errorf("Unexpected request: %+v", request)
		}
		json.NewEncoder(w).Encode(x402.FacilitatorSettleResponse{
			Status:       x402.SettleSettled,
			SettlementID: "set_1",
			TxHash:       "0xsettled",
			SettledAt:    "2026-01-01T00:00:05Z",
		})
	}))
	defer server.Close()

	client, _ := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL, AuthProvider: StaticAuth{"X-Api-Key": "k"}})
	resp, err := client.Settle(context.Background(), x402.FacilitatorSettleRequest{
		InvoiceID:      "inv_1",
		VerificationID: "ver_1",
		Proof:          x402.SettlementProof{TxHash: "0xproof"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.TxHash != "0xsettled" {
		t.Errorf("Expected tx hash 0xsettled, got %s", resp.TxHash)
	}
}

func TestHTTPFacilitatorClientErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		protocol  bool
	}{
		{"server error", http.StatusBadGateway, `{"error":"upstream"}`, true, false},
		{"client error", http.StatusUnprocessableEntity, `{"error":"bad request"}`, false, false},
		{"invalid json", http.StatusOK, `not json`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, _ := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})
			_, err := client.Verify(context.Background(), x402.FacilitatorVerifyRequest{InvoiceID: "inv_1"})
			if err == nil {
				t.Fatal("Expected error")
			}

			if tt.protocol {
				if !errors.Is(err, x402.ErrProtocolCompatibility) {
					t.Errorf("Expected protocol error, got %v", err)
				}
				return
			}

			var statusErr *x402.StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("Expected StatusError, got %T", err)
			}
			if statusErr.StatusCode() != tt.status || statusErr.Body != tt.body {
				t.Errorf("Unexpected status error: %+v", statusErr)
			}
			if got := settlement.IsRetryable(err); got != tt.retryable {
				t.Errorf("Expected retryable=%v, got %v", tt.retryable, got)
			}
		})
	}
}

func TestHTTPFacilitatorClientTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client, _ := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL, Timeout: 20 * time.Millisecond})
	_, err := client.Settle(context.Background(), x402.FacilitatorSettleRequest{})
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	var timeout interface{ Timeout() bool }
	if !errors.As(err, &timeout) || !timeout.Timeout() {
		t.Errorf("Expected timeout-tagged error, got %v", err)
	}
	if !settlement.IsRetryable(err) {
		t.Error("Expected transport timeout to be retryable")
	}
}
