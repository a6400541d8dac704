package idempotency

import (
	"context"
	"errors"
	"fmt"

	x402 "github.com/xignet/x402/go"
)

// ErrConsentNotApproved is returned when recording a declined result
var ErrConsentNotApproved = errors.New("only approved consent can be recorded")

// ConsentLedger records the consent results a service issued, keyed by
// consentArtifactId. Settlement accepts a consent only when the ledger holds
// it, so a client-built receipt never reaches the engine.
//
// Give the ledger its own Backend (a separate table, Redis prefix or
// in-memory store) so consent ids never share a key space with idempotency
// keys.
type ConsentLedger struct {
	backend Backend
}

// NewConsentLedger creates a ledger on backend
func NewConsentLedger(backend Backend) *ConsentLedger {
	return &ConsentLedger{backend: backend}
}

// Record stores an approved result. Recording the same artifact twice is a
// no-op: the id is derived from the invoice, digest, signing time and device.
func (l *ConsentLedger) Record(ctx context.Context, result *x402.VerificationResult) error {
	if result == nil || !result.Approved {
		return ErrConsentNotApproved
	}
	id := result.ConsentReceipt.ConsentArtifactID
	if id == "" {
		return ErrEmptyKey
	}

	stored := *result
	if _, err := l.backend.Set(ctx, id, Entry{Consent: &stored}); err != nil {
		return fmt.Errorf("consent ledger set %q: %w", id, err)
	}
	return nil
}

// Issued returns the recorded result for artifactID, or nil when this
// ledger never issued it.
func (l *ConsentLedger) Issued(ctx context.Context, artifactID string) (*x402.VerificationResult, error) {
	if artifactID == "" {
		return nil, nil
	}
	entry, err := l.backend.Get(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("consent ledger get %q: %w", artifactID, err)
	}
	if entry == nil || entry.Consent == nil {
		return nil, nil
	}
	return entry.Consent, nil
}
