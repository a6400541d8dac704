package verification

import (
	"errors"

	x402 "github.com/xignet/x402/go"
	"github.com/xignet/x402/go/canonical"
)

// ComputeTTMHash returns the JCS + SHA-256 digest of ttm
func ComputeTTMHash(ttm x402.TransactionTermsManifest) (string, error) {
	h, err := canonical.Hash(ttm)
	if err != nil {
		msg := "TTM canonicalization encountered unsupported value"
		switch {
		case errors.Is(err, canonical.ErrNonFiniteNumber):
			msg = "TTM canonicalization requires finite numbers"
		case errors.Is(err, canonical.ErrUnsupportedValue):
			msg = "TTM canonicalization does not support non-JSON values"
		}
		return "", x402.NewVerificationDeclinedError(msg, nil).WithCause(err)
	}
	return h, nil
}
