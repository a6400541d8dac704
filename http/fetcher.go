package http

import (
	"context"
	"fmt"
	"io"
	"net/http"

	x402 "github.com/xignet/x402/go"
)

// maxInvoiceBody caps invoice documents
const maxInvoiceBody = 1 << 20

// InvoiceFetcher retrieves invoice documents over HTTP.
// Implements x402.Fetcher.
type InvoiceFetcher struct {
	client  *http.Client
	headers map[string]string
}

// NewInvoiceFetcher creates a fetcher. A nil client uses http.DefaultClient.
func NewInvoiceFetcher(client *http.Client, headers map[string]string) *InvoiceFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &InvoiceFetcher{client: client, headers: headers}
}

// Fetch GETs url. Non-2xx responses are returned with OK=false rather than
// as errors; only transport failures error.
func (f *InvoiceFetcher) Fetch(ctx context.Context, url string) (*x402.FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoice request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInvoiceBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read invoice body: %w", err)
	}

	return &x402.FetchResponse{
		OK:     resp.StatusCode >= 200 && resp.StatusCode <= 299,
		Status: resp.StatusCode,
		Body:   body,
	}, nil
}

var _ x402.Fetcher = (*InvoiceFetcher)(nil)
