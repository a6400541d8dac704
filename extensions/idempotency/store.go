package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	x402 "github.com/xignet/x402/go"
)

// ErrEmptyKey is returned for operations on an empty idempotency key
var ErrEmptyKey = errors.New("idempotency key is empty")

// Entry is a persisted settlement execution, or an issued consent when the
// backend serves a ConsentLedger.
//
// Fingerprint identifies the request that produced Record. It is internal to
// the replay store and never returned to settlement callers.
type Entry struct {
	Record      x402.SettlementExecutionRecord `json:"record"`
	Fingerprint string                         `json:"fingerprint,omitempty"`
	Consent     *x402.VerificationResult       `json:"consent,omitempty"`
	StoredAt    time.Time                      `json:"storedAt"`
}

// Backend persists entries by idempotency key.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the entry stored under key, or nil if there is none.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores entry under key only if key is absent. It reports whether
	// the entry was inserted; false means another writer got there first.
	Set(ctx context.Context, key string, entry Entry) (bool, error)
}

// Fingerprint returns the SHA-256 hex of v's JSON encoding. Struct field
// order is fixed, so equal requests always produce equal fingerprints.
func Fingerprint(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}
