package verification

import (
	"fmt"
	"strings"

	x402 "github.com/xignet/x402/go"
)

// PolicyIDs are the two human-facing policy references shown at consent time
type PolicyIDs struct {
	LegalPolicyID    string `json:"legalPolicyId,omitempty"`
	WebAuthnPolicyID string `json:"webauthnPolicyId,omitempty"`
}

func (p PolicyIDs) empty() bool {
	return p.LegalPolicyID == "" && p.WebAuthnPolicyID == ""
}

// PolicyOverride replaces policy ids read from the TTM. A field that is set,
// even to an empty string, wins over the TTM value.
type PolicyOverride struct {
	LegalPolicyID    *string `json:"legalPolicyId,omitempty"`
	WebAuthnPolicyID *string `json:"webauthnPolicyId,omitempty"`
}

// RequestOptions configures BuildRequest
type RequestOptions struct {
	// PolicyIDs take precedence over values embedded in the TTM policy object
	PolicyIDs *PolicyOverride

	// WebAuthnOptions are passed through to the authenticator.
	// challengeBinding is always overwritten.
	WebAuthnOptions map[string]interface{}

	// FailClosedOnMissingPolicyRefs rejects requests whose policy ids cannot
	// be resolved.
	FailClosedOnMissingPolicyRefs bool
}

// BuildRequest computes the terms digest and prepares the request handed to
// the assertion verifier.
func BuildRequest(invoice x402.InvoicePayload, ttm x402.TransactionTermsManifest, opts RequestOptions) (*x402.VerificationRequest, error) {
	ttmHash, err := ComputeTTMHash(ttm)
	if err != nil {
		return nil, err
	}

	refs := resolvePolicyIDs(ttm, opts.PolicyIDs)
	if opts.FailClosedOnMissingPolicyRefs {
		if err := assertPolicyIDs(refs, "buildVerificationRequest"); err != nil {
			return nil, err
		}
	}

	webauthnOptions := make(map[string]interface{}, len(opts.WebAuthnOptions)+2)
	for k, v := range opts.WebAuthnOptions {
		webauthnOptions[k] = v
	}
	webauthnOptions["challengeBinding"] = "ttmHash"
	if !refs.empty() {
		webauthnOptions["policyRefs"] = refs.toMap()
	}

	return &x402.VerificationRequest{
		InvoiceID:       invoice.InvoiceID,
		DisplayText:     fmt.Sprintf("Approve payment of %s %s to %s.", invoice.TotalAmount, invoice.Currency, invoice.MerchantID),
		Challenge:       ttmHash,
		TTM:             ttm,
		TTMHash:         ttmHash,
		WebAuthnOptions: webauthnOptions,
	}, nil
}

func (p PolicyIDs) toMap() map[string]interface{} {
	m := make(map[string]interface{}, 2)
	if p.LegalPolicyID != "" {
		m["legalPolicyId"] = p.LegalPolicyID
	}
	if p.WebAuthnPolicyID != "" {
		m["webauthnPolicyId"] = p.WebAuthnPolicyID
	}
	return m
}

// resolvePolicyIDs applies option > ttm.policy > ttm.policy.policyRefs
func resolvePolicyIDs(ttm x402.TransactionTermsManifest, override *PolicyOverride) PolicyIDs {
	refs := policyIDsFromRecord(ttm.Policy)
	if override != nil {
		if override.LegalPolicyID != nil {
			refs.LegalPolicyID = strings.TrimSpace(*override.LegalPolicyID)
		}
		if override.WebAuthnPolicyID != nil {
			refs.WebAuthnPolicyID = strings.TrimSpace(*override.WebAuthnPolicyID)
		}
	}
	return refs
}

// policyIDsFromRecord reads policy ids from a record directly, falling back to
// a nested policyRefs object.
func policyIDsFromRecord(record map[string]interface{}) PolicyIDs {
	if record == nil {
		return PolicyIDs{}
	}
	nested, _ := record["policyRefs"].(map[string]interface{})

	read := func(key string) string {
		if v := stringProperty(record, key); v != "" {
			return v
		}
		return stringProperty(nested, key)
	}

	return PolicyIDs{
		LegalPolicyID:    read("legalPolicyId"),
		WebAuthnPolicyID: read("webauthnPolicyId"),
	}
}

func stringProperty(record map[string]interface{}, key string) string {
	if record == nil {
		return ""
	}
	s, _ := record[key].(string)
	return strings.TrimSpace(s)
}

func assertPolicyIDs(refs PolicyIDs, context string) error {
	if refs.LegalPolicyID == "" {
		return x402.NewVerificationDeclinedError(
			fmt.Sprintf("%s missing required policy reference: legalPolicyId", context),
			x402.FieldDetails("legalPolicyId", "non-empty policy id", ""),
		)
	}
	if refs.WebAuthnPolicyID == "" {
		return x402.NewVerificationDeclinedError(
			fmt.Sprintf("%s missing required policy reference: webauthnPolicyId", context),
			x402.FieldDetails("webauthnPolicyId", "non-empty policy id", ""),
		)
	}
	return nil
}
