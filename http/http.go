// Package http provides HTTP transport for x402 components: facilitator and
// assertion verifier clients, an invoice fetcher, and helpers that read and
// write 402 payment challenges.
package http

import (
	"net/http"
	"time"
)

// NewFacilitatorClient creates a new HTTP facilitator client
func NewFacilitatorClient(config *FacilitatorConfig) (*HTTPFacilitatorClient, error) {
	return NewHTTPFacilitatorClient(config)
}

// NewFetcher creates an invoice fetcher with a request timeout
func NewFetcher(timeout time.Duration) *InvoiceFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewInvoiceFetcher(&http.Client{Timeout: timeout}, nil)
}
