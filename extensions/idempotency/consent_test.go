package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/xignet/x402/go"
)

func sampleConsent(artifactID string) *x402.VerificationResult {
	return &x402.VerificationResult{
		Approved:       true,
		SignerDeviceID: "device_1",
		SignedAt:       "2026-01-01T00:00:00Z",
		TTMHash:        "ab",
		ConsentReceipt: x402.ConsentReceipt{
			ReceiptVersion:    "1.0",
			InvoiceID:         "inv_1",
			TTMHash:           "ab",
			ApprovedAt:        "2026-01-01T00:00:00Z",
			AuthMethod:        "webauthn",
			TermsVersion:      "v1",
			SignerDeviceID:    "device_1",
			Assertion:         json.RawMessage(`{"id":"cred"}`),
			SignerContextRef:  "device_1",
			ConsentArtifactID: artifactID,
		},
	}
}

func TestConsentLedger_RecordAndIssued(t *testing.T) {
	ctx := context.Background()
	ledger := NewConsentLedger(NewInMemoryStore(0))

	got, err := ledger.Issued(ctx, "artifact_1")
	require.NoError(t, err)
	assert.Nil(t, got)

	result := sampleConsent("artifact_1")
	require.NoError(t, ledger.Record(ctx, result))
	require.NoError(t, ledger.Record(ctx, result))

	got, err = ledger.Issued(ctx, "artifact_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "inv_1", got.ConsentReceipt.InvoiceID)

	got, err = ledger.Issued(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestConsentLedger_RejectsUnapproved(t *testing.T) {
	ctx := context.Background()
	ledger := NewConsentLedger(NewInMemoryStore(0))

	assert.ErrorIs(t, ledger.Record(ctx, nil), ErrConsentNotApproved)

	declined := sampleConsent("artifact_1")
	declined.Approved = false
	assert.ErrorIs(t, ledger.Record(ctx, declined), ErrConsentNotApproved)

	assert.ErrorIs(t, ledger.Record(ctx, sampleConsent("")), ErrEmptyKey)
}

func TestConsentLedger_IgnoresSettlementEntries(t *testing.T) {
	ctx := context.Background()
	backend := NewInMemoryStore(0)
	_, err := backend.Set(ctx, "artifact_1", Entry{Record: sampleRecord("order_1")})
	require.NoError(t, err)

	got, err := NewConsentLedger(backend).Issued(ctx, "artifact_1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestConsentLedger_BackendError(t *testing.T) {
	ctx := context.Background()
	ledger := NewConsentLedger(failingBackend{})

	err := ledger.Record(ctx, sampleConsent("artifact_1"))
	assert.Error(t, err)

	_, err = ledger.Issued(ctx, "artifact_1")
	assert.True(t, err != nil && !errors.Is(err, ErrEmptyKey))
}
