package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/xignet/x402/go"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error      string                 `json:"error"`
	Kind       x402.ErrorKind         `json:"kind,omitempty"`
	ReasonCode x402.ReasonCode        `json:"reasonCode,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Runbook    *x402.RunbookDirective `json:"runbook,omitempty"`
	RequestID  string                 `json:"requestId,omitempty"`
}

var errInvalidBody = errors.New("invalid request body")

// statusFor maps an error to its HTTP status
func statusFor(err error) int {
	if x402.ReasonCodeOf(err) == x402.ReasonIdempotencyKeyCollision {
		return http.StatusConflict
	}

	var timeout *x402.TimeoutError
	if errors.As(err, &timeout) {
		return http.StatusGatewayTimeout
	}

	kind, ok := x402.KindOf(err)
	if !ok {
		if errors.Is(err, errInvalidBody) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}

	switch kind {
	case x402.KindProtocolCompatibility:
		return http.StatusBadRequest
	case x402.KindInvoiceExpired:
		return http.StatusGone
	case x402.KindInvoiceSignatureInvalid:
		return http.StatusUnprocessableEntity
	case x402.KindVerificationDeclined:
		return http.StatusForbidden
	case x402.KindSettlementProofInvalid:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	resp := ErrorResponse{
		Error:      err.Error(),
		ReasonCode: x402.ReasonCodeOf(err),
		RequestID:  c.GetString(requestIDKey),
	}

	var pe *x402.PaymentError
	if errors.As(err, &pe) {
		resp.Kind = pe.Kind
		resp.Details = pe.Details
	}
	if directive, ok := x402.RunbookFrom(err); ok {
		resp.Runbook = directive
	}
	if status == http.StatusInternalServerError {
		// Hide upstream detail on unclassified errors.
		resp.Error = http.StatusText(status)
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}
