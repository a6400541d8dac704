package verification

import (
	"context"
	"encoding/json"

	x402 "github.com/xignet/x402/go"
)

// VerifyOptions configures VerifyAssertion
type VerifyOptions struct {
	FailClosedOnMissingPolicyRefs bool
}

// VerifyAssertion runs the injected verifier and turns an accepted assertion
// into a validated consent receipt. A nil verifier result is a decline, as is
// an assertion bound to any digest other than the request's.
func VerifyAssertion(ctx context.Context, request x402.VerificationRequest, assertion json.RawMessage, verifier x402.AssertionVerifier, opts VerifyOptions) (*x402.VerificationResult, error) {
	if verifier == nil {
		return nil, x402.NewProtocolError("No assertion verifier available", nil)
	}

	refs := policyIDsFromRecord(request.WebAuthnOptions)
	if opts.FailClosedOnMissingPolicyRefs {
		if err := assertPolicyIDs(refs, "verifyBiometricAssertion"); err != nil {
			return nil, err
		}
	}

	signed, err := verifier.Verify(ctx, request, assertion)
	if err != nil {
		return nil, x402.NewVerificationDeclinedError("Assertion verifier call failed", nil).
			WithCode(x402.ReasonVerifyCallFailed).
			WithCause(err)
	}
	if signed == nil {
		return nil, x402.NewVerificationDeclinedError("", nil)
	}
	if signed.TTMHash != request.TTMHash {
		return nil, x402.NewVerificationDeclinedError(
			"WebAuthn assertion is not bound to requested ttmHash",
			x402.FieldDetails("ttmHash", request.TTMHash, signed.TTMHash),
		)
	}

	receipt := CreateConsentReceipt(request, *signed, assertion)
	expected := ExpectedReceipt{
		InvoiceID:    request.InvoiceID,
		TTMHash:      request.TTMHash,
		TermsVersion: request.TTM.TermsVersion,
	}
	if opts.FailClosedOnMissingPolicyRefs {
		expected.LegalPolicyID = refs.LegalPolicyID
		expected.WebAuthnPolicyID = refs.WebAuthnPolicyID
	}
	if err := ValidateConsentReceipt(receipt, expected); err != nil {
		return nil, x402.NewVerificationDeclinedError("Generated consent receipt is invalid", nil).WithCause(err)
	}

	return &x402.VerificationResult{
		Approved:       true,
		Assertion:      assertion,
		SignerDeviceID: signed.SignerDeviceID,
		SignedAt:       signed.SignedAt,
		TTMHash:        request.TTMHash,
		ConsentReceipt: receipt,
	}, nil
}

// AssertForSettlement is the last consent check before settlement. It
// returns the validated receipt for audit attachment.
func AssertForSettlement(verification *x402.VerificationResult, expected ExpectedReceipt) (*x402.ConsentReceipt, error) {
	if verification == nil || !verification.Approved {
		return nil, x402.NewVerificationDeclinedError("Settlement requires explicit user approval", nil)
	}
	if verification.TTMHash != expected.TTMHash {
		return nil, x402.NewVerificationDeclinedError(
			"Verification result ttmHash does not match settlement terms",
			x402.FieldDetails("ttmHash", expected.TTMHash, verification.TTMHash),
		)
	}

	receipt := verification.ConsentReceipt
	if receipt.InvoiceID != expected.InvoiceID {
		return nil, x402.NewVerificationDeclinedError(
			"Consent receipt invoiceId does not match settlement terms",
			x402.FieldDetails("invoiceId", expected.InvoiceID, receipt.InvoiceID),
		)
	}
	if receipt.TermsVersion != expected.TermsVersion {
		return nil, x402.NewVerificationDeclinedError(
			"Consent receipt termsVersion does not match settlement terms",
			x402.FieldDetails("termsVersion", expected.TermsVersion, receipt.TermsVersion),
		)
	}
	if receipt.TTMHash != expected.TTMHash {
		return nil, x402.NewVerificationDeclinedError(
			"Consent receipt ttmHash does not match settlement terms",
			x402.FieldDetails("ttmHash", expected.TTMHash, receipt.TTMHash),
		)
	}
	if err := ValidateConsentReceipt(receipt, expected); err != nil {
		return nil, err
	}

	return &receipt, nil
}
