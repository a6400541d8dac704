package verification

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	x402 "github.com/xignet/x402/go"
	"github.com/xignet/x402/go/internal/schema"
)

const (
	ReceiptVersion = "1.0"
	AuthMethod     = "webauthn"
)

var consentReceiptSchema = schema.MustCompile("consent receipt", `{
	"type": "object",
	"required": ["receiptVersion", "invoiceId", "ttmHash", "approvedAt", "authMethod", "termsVersion", "signerDeviceId", "signerContextRef", "consentArtifactId"],
	"properties": {
		"receiptVersion": {"enum": ["1.0"]},
		"authMethod": {"enum": ["webauthn"]},
		"invoiceId": {"type": "string"},
		"intentId": {"type": "string"},
		"ttmHash": {"type": "string"},
		"termsVersion": {"type": "string"},
		"approvedAt": {"type": "string", "pattern": "\\S"},
		"signerDeviceId": {"type": "string", "pattern": "\\S"},
		"signerContextRef": {"type": "string", "pattern": "\\S"},
		"consentArtifactId": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
		"legalPolicyId": {"type": "string"},
		"webauthnPolicyId": {"type": "string"}
	}
}`)

// ExpectedReceipt lists the values a consent receipt must carry. Policy ids
// are only compared when non-empty.
type ExpectedReceipt struct {
	InvoiceID        string
	TTMHash          string
	TermsVersion     string
	LegalPolicyID    string
	WebAuthnPolicyID string
}

// ConsentArtifactID is the content address of a consent event
func ConsentArtifactID(invoiceID, ttmHash, signedAt, signerDeviceID string) string {
	sum := sha256.Sum256([]byte(invoiceID + ":" + ttmHash + ":" + signedAt + ":" + signerDeviceID))
	return hex.EncodeToString(sum[:])
}

// CreateConsentReceipt synthesizes the receipt for an accepted assertion.
// Policy ids are copied from the request's webauthn options.
func CreateConsentReceipt(request x402.VerificationRequest, signed x402.SignedContext, assertion json.RawMessage) x402.ConsentReceipt {
	refs := policyIDsFromRecord(request.WebAuthnOptions)

	return x402.ConsentReceipt{
		ReceiptVersion:    ReceiptVersion,
		InvoiceID:         request.InvoiceID,
		IntentID:          request.TTM.IntentID,
		TTMHash:           request.TTMHash,
		ApprovedAt:        signed.SignedAt,
		AuthMethod:        AuthMethod,
		TermsVersion:      request.TTM.TermsVersion,
		SignerDeviceID:    signed.SignerDeviceID,
		Assertion:         assertion,
		SignerContextRef:  signed.SignerDeviceID,
		ConsentArtifactID: ConsentArtifactID(request.InvoiceID, request.TTMHash, signed.SignedAt, signed.SignerDeviceID),
		LegalPolicyID:     refs.LegalPolicyID,
		WebAuthnPolicyID:  refs.WebAuthnPolicyID,
	}
}

// ValidateConsentReceipt checks the receipt's shape against its schema and
// its contents against expected.
func ValidateConsentReceipt(receipt x402.ConsentReceipt, expected ExpectedReceipt) error {
	var violations []string

	result := consentReceiptSchema.Validate(receipt)
	if !result.Valid {
		violations = append(violations, result.Errors...)
	}

	check := func(field, want, got string) {
		if got != want {
			violations = append(violations, fmt.Sprintf("%s: expected %q, received %q", field, want, got))
		}
	}
	check("invoiceId", expected.InvoiceID, receipt.InvoiceID)
	check("ttmHash", expected.TTMHash, receipt.TTMHash)
	check("termsVersion", expected.TermsVersion, receipt.TermsVersion)
	if expected.LegalPolicyID != "" {
		check("legalPolicyId", expected.LegalPolicyID, strings.TrimSpace(receipt.LegalPolicyID))
	}
	if expected.WebAuthnPolicyID != "" {
		check("webauthnPolicyId", expected.WebAuthnPolicyID, strings.TrimSpace(receipt.WebAuthnPolicyID))
	}

	if len(violations) == 0 {
		return nil
	}
	return x402.NewVerificationDeclinedError(
		"Consent receipt schema validation failed",
		map[string]interface{}{"violations": violations},
	)
}
