package x402

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind discriminates the failure families shared by every layer
type ErrorKind string

const (
	KindProtocolCompatibility   ErrorKind = "protocol_compatibility"
	KindInvoiceExpired          ErrorKind = "invoice_expired"
	KindInvoiceSignatureInvalid ErrorKind = "invoice_signature_invalid"
	KindVerificationDeclined    ErrorKind = "verification_declined"
	KindSettlementProofInvalid  ErrorKind = "settlement_proof_invalid"
)

// Default messages per kind
var defaultMessages = map[ErrorKind]string{
	KindProtocolCompatibility:   "Protocol format is not compatible",
	KindInvoiceExpired:          "Invoice has expired",
	KindInvoiceSignatureInvalid: "Invoice signature validation failed",
	KindVerificationDeclined:    "Verification was declined or invalid",
	KindSettlementProofInvalid:  "Settlement proof validation failed",
}

// Kind sentinels for errors.Is matching.
//
//	if errors.Is(err, x402.ErrVerificationDeclined) { ... }
var (
	ErrProtocolCompatibility   = &PaymentError{Kind: KindProtocolCompatibility, Message: defaultMessages[KindProtocolCompatibility]}
	ErrInvoiceExpired          = &PaymentError{Kind: KindInvoiceExpired, Message: defaultMessages[KindInvoiceExpired]}
	ErrInvoiceSignatureInvalid = &PaymentError{Kind: KindInvoiceSignatureInvalid, Message: defaultMessages[KindInvoiceSignatureInvalid]}
	ErrVerificationDeclined    = &PaymentError{Kind: KindVerificationDeclined, Message: defaultMessages[KindVerificationDeclined]}
	ErrSettlementProofInvalid  = &PaymentError{Kind: KindSettlementProofInvalid, Message: defaultMessages[KindSettlementProofInvalid]}
)

// ReasonCode is the fixed enumeration attached to settlement failures
type ReasonCode string

const (
	ReasonVerifyDeclined          ReasonCode = "VERIFY_DECLINED"
	ReasonVerifyCallFailed        ReasonCode = "VERIFY_CALL_FAILED"
	ReasonSettleFailed            ReasonCode = "SETTLE_FAILED"
	ReasonSettleCallFailed        ReasonCode = "SETTLE_CALL_FAILED"
	ReasonReorgDetected           ReasonCode = "REORG_DETECTED"
	ReasonFinalityNotConfirmed    ReasonCode = "FINALITY_NOT_CONFIRMED"
	ReasonFinalityCheckFailed     ReasonCode = "FINALITY_CHECK_FAILED"
	ReasonIdempotencyKeyCollision ReasonCode = "IDEMPOTENCY_KEY_COLLISION"
)

// PaymentError represents a payment-specific error
type PaymentError struct {
	Kind    ErrorKind              `json:"kind"`
	Code    ReasonCode             `json:"code,omitempty"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a PaymentError of the same kind
func (e *PaymentError) Is(target error) bool {
	t, ok := target.(*PaymentError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewPaymentError creates a new payment error. An empty message falls back to
// the kind's default message.
func NewPaymentError(kind ErrorKind, message string, details map[string]interface{}) *PaymentError {
	if message == "" {
		message = defaultMessages[kind]
	}
	return &PaymentError{
		Kind:    kind,
		Message: message,
		Details: details,
	}
}

func NewProtocolError(message string, details map[string]interface{}) *PaymentError {
	return NewPaymentError(KindProtocolCompatibility, message, details)
}

func NewInvoiceExpiredError(message string) *PaymentError {
	return NewPaymentError(KindInvoiceExpired, message, nil)
}

func NewInvoiceSignatureInvalidError(message string) *PaymentError {
	return NewPaymentError(KindInvoiceSignatureInvalid, message, nil)
}

func NewVerificationDeclinedError(message string, details map[string]interface{}) *PaymentError {
	return NewPaymentError(KindVerificationDeclined, message, details)
}

func NewSettlementProofInvalidError(message string, details map[string]interface{}) *PaymentError {
	return NewPaymentError(KindSettlementProofInvalid, message, details)
}

// WithCode returns the error with a reason code attached
func (e *PaymentError) WithCode(code ReasonCode) *PaymentError {
	e.Code = code
	return e
}

// WithCause returns the error wrapping cause
func (e *PaymentError) WithCause(cause error) *PaymentError {
	e.Err = cause
	return e
}

// FieldDetails builds the structured context carried on validation failures
func FieldDetails(field, expected, received string) map[string]interface{} {
	details := map[string]interface{}{"field": field}
	if expected != "" {
		details["expected"] = expected
	}
	if received != "" {
		details["received"] = received
	}
	return details
}

// KindOf returns the kind of the first PaymentError in err's chain
func KindOf(err error) (ErrorKind, bool) {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// ReasonCodeOf returns the first reason code found in err's chain, from either
// a runbook directive or a coded PaymentError
func ReasonCodeOf(err error) ReasonCode {
	for err != nil {
		switch e := err.(type) {
		case *RunbookError:
			if e.Directive.ReasonCode != "" {
				return e.Directive.ReasonCode
			}
		case *PaymentError:
			if e.Code != "" {
				return e.Code
			}
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// RunbookDirective is escalation metadata for operators handling a terminal failure
type RunbookDirective struct {
	RunbookPolicyID      string     `json:"runbookPolicyId"`
	ManualActionRequired bool       `json:"manualActionRequired"`
	ReasonCode           ReasonCode `json:"reasonCode"`
	RecommendedAction    string     `json:"recommendedAction"`
}

// RunbookError attaches a runbook directive to a terminal error
type RunbookError struct {
	Directive RunbookDirective
	Err       error
}

func (e *RunbookError) Error() string {
	return e.Err.Error()
}

func (e *RunbookError) Unwrap() error {
	return e.Err
}

// RunbookFrom extracts the runbook directive attached to err, if any
func RunbookFrom(err error) (*RunbookDirective, bool) {
	var re *RunbookError
	if errors.As(err, &re) {
		d := re.Directive
		return &d, true
	}
	return nil, false
}

// TimeoutError is returned when a facilitator call exceeds its per-attempt deadline
type TimeoutError struct {
	Operation string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.After)
}

func (e *TimeoutError) Timeout() bool {
	return true
}

// StatusError carries the HTTP-equivalent status of a failed remote call
type StatusError struct {
	Operation string
	Status    int
	Body      string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s failed (%d): %s", e.Operation, e.Status, e.Body)
	}
	return fmt.Sprintf("%s failed (%d)", e.Operation, e.Status)
}

func (e *StatusError) StatusCode() int {
	return e.Status
}
