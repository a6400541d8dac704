package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	x402 "github.com/xignet/x402/go"
)

// ============================================================================
// HTTP Facilitator Client
// ============================================================================

// HTTPFacilitatorClient talks to a remote facilitator over HTTP.
// Implements x402.FacilitatorAdapter.
//
// Non-2xx responses become *x402.StatusError so the settlement engine can
// classify them for retry. Transport timeouts surface as net errors exposing
// Timeout().
type HTTPFacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	identifier   string
}

// AuthProvider generates authentication headers for facilitator requests
type AuthProvider interface {
	// GetAuthHeaders returns authentication headers for each endpoint
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers for facilitator endpoints
type AuthHeaders struct {
	Verify map[string]string
	Settle map[string]string
}

// StaticAuth sends the same headers to every endpoint
type StaticAuth map[string]string

func (a StaticAuth) GetAuthHeaders(context.Context) (AuthHeaders, error) {
	return AuthHeaders{Verify: a, Settle: a}, nil
}

// FacilitatorConfig configures the HTTP facilitator client
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration

	// Identifier for this facilitator (optional)
	Identifier string
}

// maxErrorBody bounds how much of a failed response is kept on StatusError
const maxErrorBody = 4096

// NewHTTPFacilitatorClient creates a new HTTP facilitator client
func NewHTTPFacilitatorClient(config *FacilitatorConfig) (*HTTPFacilitatorClient, error) {
	if config == nil || strings.TrimSpace(config.URL) == "" {
		return nil, x402.NewProtocolError("facilitator URL is required", x402.FieldDetails("url", "absolute URL", ""))
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	url := strings.TrimRight(config.URL, "/")
	identifier := config.Identifier
	if identifier == "" {
		identifier = url
	}

	return &HTTPFacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
		identifier:   identifier,
	}, nil
}

// Identifier names this facilitator in logs
func (c *HTTPFacilitatorClient) Identifier() string {
	return c.identifier
}

// ============================================================================
// FacilitatorAdapter Implementation
// ============================================================================

// Verify asks the facilitator to verify a payment intent
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, request x402.FacilitatorVerifyRequest) (*x402.FacilitatorVerifyResponse, error) {
	var verifyResponse x402.FacilitatorVerifyResponse
	if err := c.post(ctx, "verify", request, &verifyResponse, func(h AuthHeaders) map[string]string { return h.Verify }); err != nil {
		return nil, err
	}
	return &verifyResponse, nil
}

// Settle asks the facilitator to settle a verified payment
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, request x402.FacilitatorSettleRequest) (*x402.FacilitatorSettleResponse, error) {
	var settleResponse x402.FacilitatorSettleResponse
	if err := c.post(ctx, "settle", request, &settleResponse, func(h AuthHeaders) map[string]string { return h.Settle }); err != nil {
		return nil, err
	}
	return &settleResponse, nil
}

// ============================================================================
// Internal HTTP Methods
// ============================================================================

func (c *HTTPFacilitatorClient) post(ctx context.Context, endpoint string, request interface{}, out interface{}, pick func(AuthHeaders) map[string]string) error {
	var headers map[string]string
	if c.authProvider != nil {
		authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
		if err != nil {
			return fmt.Errorf("failed to get auth headers: %w", err)
		}
		headers = pick(authHeaders)
	}
	return postJSON(ctx, c.httpClient, c.url+"/"+endpoint, "facilitator "+endpoint, headers, request, out)
}

// postJSON sends request as JSON and decodes a 2xx response into out.
// Non-2xx responses become *x402.StatusError.
func postJSON(ctx context.Context, client *http.Client, url, operation string, headers map[string]string, request interface{}, out interface{}) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response body: %w", operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(responseBody) > maxErrorBody {
			responseBody = responseBody[:maxErrorBody]
		}
		return &x402.StatusError{Operation: operation, Status: resp.StatusCode, Body: string(responseBody)}
	}

	if err := json.Unmarshal(responseBody, out); err != nil {
		return x402.NewProtocolError(fmt.Sprintf("%s response is not valid JSON", operation), nil).WithCause(err)
	}
	return nil
}

var _ x402.FacilitatorAdapter = (*HTTPFacilitatorClient)(nil)
