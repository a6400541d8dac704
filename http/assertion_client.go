package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	x402 "github.com/xignet/x402/go"
)

// AssertionVerifierClient delegates WebAuthn assertion checks to a remote
// authenticator service. Implements x402.AssertionVerifier.
//
// The service receives POST <url>/assertions/verify with the verification
// request and the opaque assertion. It answers with the signed context, or
// with approved=false to decline.
type AssertionVerifierClient struct {
	url        string
	httpClient *http.Client
	headers    map[string]string
}

// AssertionVerifierConfig configures the remote assertion verifier
type AssertionVerifierConfig struct {
	// URL is the base URL of the authenticator service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// Headers are sent with every request (optional)
	Headers map[string]string

	// Timeout for requests (optional, defaults to 10s)
	Timeout time.Duration
}

type assertionVerifyRequest struct {
	Request   x402.VerificationRequest `json:"request"`
	Assertion json.RawMessage          `json:"assertion"`
}

type assertionVerifyResponse struct {
	Approved      bool                `json:"approved"`
	SignedContext *x402.SignedContext `json:"signedContext,omitempty"`
}

// NewAssertionVerifierClient creates a remote assertion verifier
func NewAssertionVerifierClient(config *AssertionVerifierConfig) (*AssertionVerifierClient, error) {
	if config == nil || strings.TrimSpace(config.URL) == "" {
		return nil, x402.NewProtocolError("assertion verifier URL is required", x402.FieldDetails("url", "absolute URL", ""))
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &AssertionVerifierClient{
		url:        strings.TrimRight(config.URL, "/"),
		httpClient: httpClient,
		headers:    config.Headers,
	}, nil
}

// Verify returns the signed context of an accepted assertion, or nil when
// the service declines it.
func (c *AssertionVerifierClient) Verify(ctx context.Context, request x402.VerificationRequest, assertion json.RawMessage) (*x402.SignedContext, error) {
	var response assertionVerifyResponse
	err := postJSON(ctx, c.httpClient, c.url+"/assertions/verify", "assertion verify", c.headers,
		assertionVerifyRequest{Request: request, Assertion: assertion}, &response)
	if err != nil {
		return nil, err
	}
	if !response.Approved || response.SignedContext == nil {
		return nil, nil
	}
	return response.SignedContext, nil
}

var _ x402.AssertionVerifier = (*AssertionVerifierClient)(nil)
