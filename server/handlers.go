package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/xignet/x402/go"
	"github.com/xignet/x402/go/protocol"
	"github.com/xignet/x402/go/settlement"
	"github.com/xignet/x402/go/verification"
)

type parseChallengeRequest struct {
	Header            string `json:"header"`
	RequirePolicyRefs *bool  `json:"requirePolicyRefs,omitempty"`
	RequireTTMHash    *bool  `json:"requireTtmHash,omitempty"`
}

type ttmHashResponse struct {
	TTMHash string `json:"ttmHash"`
}

type verifyGateRequest struct {
	Invoice         x402.InvoicePayload           `json:"invoice"`
	TTM             x402.TransactionTermsManifest `json:"ttm"`
	Assertion       json.RawMessage               `json:"assertion"`
	PolicyIDs       *verification.PolicyOverride  `json:"policyIds,omitempty"`
	WebAuthnOptions map[string]interface{}        `json:"webauthnOptions,omitempty"`
}

type verifyGateResponse struct {
	Request        *x402.VerificationRequest `json:"request"`
	Verification   *x402.VerificationResult  `json:"verification"`
	ConsentReceipt *x402.ConsentReceipt      `json:"consentReceipt"`
}

// settlementRequest names the consent to settle under by its artifact id,
// either directly or through the receipt returned by verify-gate.
type settlementRequest struct {
	Invoice           x402.InvoicePayload      `json:"invoice"`
	Proof             x402.SettlementProof     `json:"proof"`
	IdempotencyKey    string                   `json:"idempotencyKey"`
	TTMHash           string                   `json:"ttmHash"`
	TermsVersion      string                   `json:"termsVersion"`
	IntentID          string                   `json:"intentId,omitempty"`
	ConsentArtifactID string                   `json:"consentArtifactId,omitempty"`
	Verification      *x402.VerificationResult `json:"verification,omitempty"`
}

func (r settlementRequest) consentArtifactID() string {
	if r.ConsentArtifactID != "" {
		return r.ConsentArtifactID
	}
	if r.Verification != nil {
		return r.Verification.ConsentReceipt.ConsentArtifactID
	}
	return ""
}

type settlementResponse struct {
	*x402.SettlementExecutionResult
	ConsentReceipt *x402.ConsentReceipt `json:"consentReceipt"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleParseChallenge(c *gin.Context) {
	var req parseChallengeRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}

	opts := s.parse
	if req.RequirePolicyRefs != nil {
		opts.RequirePolicyRefs = *req.RequirePolicyRefs
	}
	if req.RequireTTMHash != nil {
		opts.RequireTTMHash = *req.RequireTTMHash
	}

	challenge, err := protocol.ParseChallenge(req.Header, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, challenge)
}

func (s *Server) handleTTMHash(c *gin.Context) {
	var ttm x402.TransactionTermsManifest
	if err := bindJSON(c, &ttm); err != nil {
		writeError(c, err)
		return
	}

	hash, err := verification.ComputeTTMHash(ttm)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ttmHashResponse{TTMHash: hash})
}

func (s *Server) handleVerifyGate(c *gin.Context) {
	if s.verifier == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, ErrorResponse{
			Error:     "assertion verifier is not configured",
			RequestID: c.GetString(requestIDKey),
		})
		return
	}

	var req verifyGateRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}

	request, err := verification.BuildRequest(req.Invoice, req.TTM, verification.RequestOptions{
		PolicyIDs:                     req.PolicyIDs,
		WebAuthnOptions:               req.WebAuthnOptions,
		FailClosedOnMissingPolicyRefs: s.failClosed,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := verification.VerifyAssertion(c.Request.Context(), *request, req.Assertion, s.verifier, verification.VerifyOptions{
		FailClosedOnMissingPolicyRefs: s.failClosed,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	receipt, err := verification.AssertForSettlement(result, verification.ExpectedReceipt{
		InvoiceID:    req.Invoice.InvoiceID,
		TTMHash:      request.TTMHash,
		TermsVersion: req.TTM.TermsVersion,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.consents.Record(c.Request.Context(), result); err != nil {
		writeError(c, fmt.Errorf("failed to record consent: %w", err))
		return
	}

	c.JSON(http.StatusOK, verifyGateResponse{
		Request:        request,
		Verification:   result,
		ConsentReceipt: receipt,
	})
}

func (s *Server) handleSettlement(c *gin.Context) {
	var req settlementRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}

	issued, err := s.consents.Issued(c.Request.Context(), req.consentArtifactID())
	if err != nil {
		writeError(c, err)
		return
	}
	if issued == nil {
		writeError(c, x402.NewVerificationDeclinedError(
			"Settlement requires consent issued by verify-gate",
			x402.FieldDetails("consentArtifactId", "issued consent artifact id", req.consentArtifactID()),
		))
		return
	}

	receipt, err := verification.AssertForSettlement(issued, verification.ExpectedReceipt{
		InvoiceID:    req.Invoice.InvoiceID,
		TTMHash:      req.TTMHash,
		TermsVersion: req.TermsVersion,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := s.engine.Execute(c.Request.Context(), settlement.ExecuteInput{
		Invoice:        req.Invoice,
		Proof:          req.Proof,
		IdempotencyKey: req.IdempotencyKey,
		TTMHash:        req.TTMHash,
		IntentID:       req.IntentID,
	}, s.execOpts)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, settlementResponse{SettlementExecutionResult: result, ConsentReceipt: receipt})
}

func bindJSON(c *gin.Context, v interface{}) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}
