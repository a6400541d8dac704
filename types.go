package x402

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is the only PAYMENT-REQUIRED envelope version accepted
const ProtocolVersion = 2

// Network represents a blockchain network identifier in CAIP-2 format
// Format: namespace:reference (e.g., "eip155:1" for Ethereum mainnet)
type Network string

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks if this network matches a pattern (supports wildcards)
// e.g., "eip155:1" matches "eip155:*" and "eip155:*" matches "eip155:1"
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// PolicyRefs are the five opaque policy identifiers a merchant may pin
type PolicyRefs struct {
	LegalPolicyID     string `json:"legalPolicyId"`
	WebAuthnPolicyID  string `json:"webauthnPolicyId"`
	RetentionPolicyID string `json:"retentionPolicyId"`
	RunbookPolicyID   string `json:"runbookPolicyId"`
	FinalityPolicyID  string `json:"finalityPolicyId"`
}

// Acceptance is one payment option offered by a PAYMENT-REQUIRED challenge
type Acceptance struct {
	Scheme                  string  `json:"scheme"`
	Network                 Network `json:"network"`
	MaxAmountRequired       string  `json:"maxAmountRequired"`
	MaxAmountRequiredAtomic string  `json:"maxAmountRequiredAtomic,omitempty"`
	AssetScale              *int    `json:"assetScale,omitempty"`
	PayTo                   string  `json:"payTo"`
	Resource                string  `json:"resource"`
	Asset                   string  `json:"asset"`
}

// PaymentRequirement is the canonical (v2) payment challenge
type PaymentRequirement struct {
	X402Version int          `json:"x402Version"`
	Accepts     []Acceptance `json:"accepts"`
	TTMHash     string       `json:"ttmHash,omitempty"`
	PolicyRefs  *PolicyRefs  `json:"policyRefs,omitempty"`
}

// ItemType classifies a TTM line item
type ItemType string

const (
	ItemTypePhysical ItemType = "physical"
	ItemTypeDigital  ItemType = "digital"
	ItemTypeContent  ItemType = "content"
	ItemTypeToken    ItemType = "token"
	ItemTypeService  ItemType = "service"
)

// Valid reports whether t is one of the known item types
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypePhysical, ItemTypeDigital, ItemTypeContent, ItemTypeToken, ItemTypeService:
		return true
	}
	return false
}

// TermsLineItem is a TTM line item. Amounts are decimal strings and are
// hashed verbatim.
type TermsLineItem struct {
	ItemType  ItemType `json:"itemType"`
	ItemRef   string   `json:"itemRef"`
	Quantity  string   `json:"quantity"`
	Unit      string   `json:"unit"`
	UnitPrice string   `json:"unitPrice"`
	Amount    string   `json:"amount"`
}

// TransactionTermsManifest describes exactly what is being paid for. Its
// canonical hash (ttmHash) binds consent, verification and settlement.
type TransactionTermsManifest struct {
	TTMVersion       string                 `json:"ttmVersion"`
	IntentID         string                 `json:"intentId"`
	MerchantID       string                 `json:"merchantId"`
	BuyerID          string                 `json:"buyerId"`
	LineItems        []TermsLineItem        `json:"lineItems"`
	TotalAmount      string                 `json:"totalAmount"`
	Currency         string                 `json:"currency"`
	MaxAllowedAmount string                 `json:"maxAllowedAmount"`
	ExpiresAt        string                 `json:"expiresAt"`
	IdempotencyKey   string                 `json:"idempotencyKey"`
	Policy           map[string]interface{} `json:"policy"`
	PolicyRefs       *PolicyRefs            `json:"policyRefs,omitempty"`
	TermsVersion     string                 `json:"termsVersion"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Shipping         map[string]interface{} `json:"shipping,omitempty"`
	Fulfillment      map[string]interface{} `json:"fulfillment,omitempty"`
	Jurisdiction     map[string]interface{} `json:"jurisdiction,omitempty"`
	TaxBreakdown     map[string]interface{} `json:"taxBreakdown,omitempty"`
}

// InvoiceLineItem is a merchant invoice line
type InvoiceLineItem struct {
	SKU        string      `json:"sku"`
	Name       string      `json:"name"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unitPrice"`
	TotalPrice json.Number `json:"totalPrice"`
}

// InvoicePayload is the signed merchant invoice referenced by a challenge
type InvoicePayload struct {
	InvoiceID   string            `json:"invoiceId"`
	MerchantID  string            `json:"merchantId"`
	OrderRef    string            `json:"orderRef"`
	LineItems   []InvoiceLineItem `json:"lineItems"`
	TotalAmount json.Number       `json:"totalAmount"`
	Currency    string            `json:"currency"`
	IssuedAt    string            `json:"issuedAt"`
	Expiry      string            `json:"expiry"`
	Signature   string            `json:"signature"`
}

// SettlementProof is the on-chain evidence submitted for settlement
type SettlementProof struct {
	TxHash      string      `json:"txHash"`
	ChainID     string      `json:"chainId"`
	Payer       string      `json:"payer"`
	Payee       string      `json:"payee"`
	Amount      json.Number `json:"amount"`
	ConfirmedAt string      `json:"confirmedAt"`
	ProofType   string      `json:"proofType"`
}

// VerificationRequest is handed to the assertion verifier. Challenge always
// equals TTMHash.
type VerificationRequest struct {
	InvoiceID       string                   `json:"invoiceId"`
	DisplayText     string                   `json:"displayText"`
	Challenge       string                   `json:"challenge"`
	TTM             TransactionTermsManifest `json:"ttm"`
	TTMHash         string                   `json:"ttmHash"`
	WebAuthnOptions map[string]interface{}   `json:"webauthnOptions,omitempty"`
}

// SignedContext is what an assertion verifier returns for an accepted assertion
type SignedContext struct {
	SignerDeviceID string `json:"signerDeviceId"`
	SignedAt       string `json:"signedAt"`
	TTMHash        string `json:"ttmHash"`
}

// ConsentReceipt is the durable proof that a user approved exact terms
type ConsentReceipt struct {
	ReceiptVersion    string          `json:"receiptVersion"`
	InvoiceID         string          `json:"invoiceId"`
	IntentID          string          `json:"intentId"`
	TTMHash           string          `json:"ttmHash"`
	ApprovedAt        string          `json:"approvedAt"`
	AuthMethod        string          `json:"authMethod"`
	TermsVersion      string          `json:"termsVersion"`
	SignerDeviceID    string          `json:"signerDeviceId"`
	Assertion         json.RawMessage `json:"assertion,omitempty"`
	SignerContextRef  string          `json:"signerContextRef"`
	ConsentArtifactID string          `json:"consentArtifactId"`
	LegalPolicyID     string          `json:"legalPolicyId,omitempty"`
	WebAuthnPolicyID  string          `json:"webauthnPolicyId,omitempty"`
}

// VerificationResult is an approved, digest-bound consent
type VerificationResult struct {
	Approved       bool            `json:"approved"`
	Assertion      json.RawMessage `json:"assertion,omitempty"`
	SignerDeviceID string          `json:"signerDeviceId"`
	SignedAt       string          `json:"signedAt"`
	TTMHash        string          `json:"ttmHash"`
	ConsentReceipt ConsentReceipt  `json:"consentReceipt"`
}

// VerifyStatus is the closed set of facilitator verify outcomes
type VerifyStatus string

const (
	VerifyApproved VerifyStatus = "approved"
	VerifyDeclined VerifyStatus = "declined"
)

// SettleStatus is the closed set of facilitator settle outcomes
type SettleStatus string

const (
	SettleSettled SettleStatus = "settled"
	SettleFailed  SettleStatus = "failed"
)

// FacilitatorVerifyRequest asks the facilitator to verify a payment intent
type FacilitatorVerifyRequest struct {
	InvoiceID           string `json:"invoiceId"`
	IdempotencyKey      string `json:"idempotencyKey"`
	TTMHash             string `json:"ttmHash"`
	IntentID            string `json:"intentId,omitempty"`
	FacilitatorPolicyID string `json:"facilitatorPolicyId,omitempty"`
}

// FacilitatorVerifyResponse is the facilitator's verify answer
type FacilitatorVerifyResponse struct {
	Status         VerifyStatus `json:"status"`
	VerificationID string       `json:"verificationId"`
	VerifiedAt     string       `json:"verifiedAt"`
	Reason         string       `json:"reason,omitempty"`
}

// FacilitatorSettleRequest asks the facilitator to settle a verified payment
type FacilitatorSettleRequest struct {
	InvoiceID           string          `json:"invoiceId"`
	IdempotencyKey      string          `json:"idempotencyKey"`
	VerificationID      string          `json:"verificationId"`
	TTMHash             string          `json:"ttmHash"`
	IntentID            string          `json:"intentId,omitempty"`
	Proof               SettlementProof `json:"proof"`
	FacilitatorPolicyID string          `json:"facilitatorPolicyId,omitempty"`
}

// FacilitatorSettleResponse is the facilitator's settle answer
type FacilitatorSettleResponse struct {
	Status       SettleStatus `json:"status"`
	SettlementID string       `json:"settlementId"`
	TxHash       string       `json:"txHash"`
	SettledAt    string       `json:"settledAt"`
	Reason       string       `json:"reason,omitempty"`
}

// SettlementReceipt is created exactly once per idempotency key
type SettlementReceipt struct {
	ReceiptID      string `json:"receiptId"`
	InvoiceID      string `json:"invoiceId"`
	IdempotencyKey string `json:"idempotencyKey"`
	TTMHash        string `json:"ttmHash"`
	VerifyResult   string `json:"verifyResult"`
	SettleResult   string `json:"settleResult"`
	TxHash         string `json:"txHash"`
	AuditLogID     string `json:"auditLogId"`
	CreatedAt      string `json:"createdAt"`
}

// OrderConfirmation is returned to the merchant once money has moved
type OrderConfirmation struct {
	OrderID             string `json:"orderId"`
	InvoiceID           string `json:"invoiceId"`
	Status              string `json:"status"`
	ConfirmedAt         string `json:"confirmedAt"`
	SettlementTxHash    string `json:"settlementTxHash,omitempty"`
	SettlementReceiptID string `json:"settlementReceiptId,omitempty"`
	AuditLogID          string `json:"auditLogId,omitempty"`
	IdempotencyKey      string `json:"idempotencyKey,omitempty"`
}

// SettlementExecutionRecord is the unit persisted per idempotency key
type SettlementExecutionRecord struct {
	Confirmation OrderConfirmation `json:"confirmation"`
	Receipt      SettlementReceipt `json:"receipt"`
}

// SettlementExecutionResult is a record plus whether it came from the replay store
type SettlementExecutionResult struct {
	SettlementExecutionRecord
	Replayed bool `json:"replayed"`
}

// FinalityContext identifies the settlement whose finality is being checked
type FinalityContext struct {
	TxHash           string `json:"txHash"`
	ChainID          string `json:"chainId"`
	InvoiceID        string `json:"invoiceId"`
	IdempotencyKey   string `json:"idempotencyKey"`
	TTMHash          string `json:"ttmHash"`
	IntentID         string `json:"intentId"`
	FinalityPolicyID string `json:"finalityPolicyId"`
}

// FinalityResult is a finality hook's verdict
type FinalityResult struct {
	Finalized     bool   `json:"finalized"`
	ReorgDetected bool   `json:"reorgDetected,omitempty"`
	Reason        string `json:"reason,omitempty"`
}
