package settlement

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	x402 "github.com/xignet/x402/go"
	"github.com/xignet/x402/go/extensions/idempotency"
	"github.com/xignet/x402/go/metrics"
)

const instrumentationName = "github.com/xignet/x402/go/settlement"

// ExecuteInput is one settlement request
type ExecuteInput struct {
	Invoice        x402.InvoicePayload
	Proof          x402.SettlementProof
	IdempotencyKey string
	TTMHash        string
	// IntentID defaults to the invoice's order ref
	IntentID string
}

// Engine executes settlements against a facilitator. It is safe for
// concurrent use; executions sharing an idempotency key are serialised by
// the replay store.
type Engine struct {
	facilitator x402.FacilitatorAdapter
	store       *idempotency.ReplayStore
	logger      *slog.Logger
	tracer      trace.Tracer
	jitter      func(max time.Duration) time.Duration

	mu                sync.RWMutex
	beforeVerifyHooks []BeforeVerifyHook
	afterSettleHooks  []AfterSettleHook
	onFailureHooks    []OnFailureHook
}

// NewEngine creates an Engine. A nil store gets a fresh in-memory
// ReplayStore, which only protects executions on this Engine.
func NewEngine(facilitator x402.FacilitatorAdapter, store *idempotency.ReplayStore, opts ...Option) *Engine {
	if store == nil {
		store = idempotency.NewReplayStore()
	}
	e := &Engine{
		facilitator: facilitator,
		store:       store,
		logger:      slog.Default(),
		tracer:      otel.GetTracerProvider().Tracer(instrumentationName),
		jitter:      uniformJitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the engine's replay store
func (e *Engine) Store() *idempotency.ReplayStore {
	return e.store
}

// Execute settles input once per idempotency key.
//
// A stored record for the key is returned with Replayed=true when the request
// fingerprint matches, and rejected as a collision otherwise. Neither path
// contacts the facilitator. Failures are never persisted.
func (e *Engine) Execute(ctx context.Context, input ExecuteInput, opts *ExecutionOptions) (_ *x402.SettlementExecutionResult, err error) {
	if e.facilitator == nil {
		return nil, x402.NewProtocolError("settlement facilitator adapter is required", nil)
	}

	start := time.Now()
	executionID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "settlement.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("x402.execution_id", executionID),
			attribute.String("x402.invoice_id", input.Invoice.InvoiceID),
		),
	)
	defer span.End()

	logger := e.logger.With("executionId", executionID, "invoiceId", input.Invoice.InvoiceID)

	key, err := requireString(input.IdempotencyKey, "idempotencyKey", "settlement request")
	if err != nil {
		return nil, e.rejected(span, err)
	}
	ttmHash, err := requireString(input.TTMHash, "ttmHash", "settlement request")
	if err != nil {
		return nil, e.rejected(span, err)
	}
	if err := opts.Validate(); err != nil {
		return nil, e.rejected(span, err)
	}
	requestFingerprint, err := fingerprint(input)
	if err != nil {
		return nil, e.rejected(span, x402.NewProtocolError("settlement request cannot be fingerprinted", nil).WithCause(err))
	}

	intentID := strings.TrimSpace(input.IntentID)
	if intentID == "" {
		intentID = input.Invoice.OrderRef
	}
	span.SetAttributes(attribute.String("x402.idempotency_key", key))

	hookCtx := ExecuteContext{
		Ctx:         ctx,
		ExecutionID: executionID,
		Input:       input,
		Options:     opts,
		IntentID:    intentID,
		Timestamp:   start,
	}
	beforeVerify, afterSettle, onFailure := e.hooks()

	defer func() {
		if err == nil {
			return
		}
		code := x402.ReasonCodeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordSettlement(metrics.OutcomeFailed, time.Since(start).Seconds())
		metrics.RecordSettlementFailure(string(code))
		logger.ErrorContext(ctx, "settlement failed", "idempotencyKey", key, "reasonCode", code, "error", err)

		failureCtx := ExecuteFailureContext{
			ExecuteContext: hookCtx,
			Error:          err,
			ReasonCode:     code,
			Duration:       time.Since(start),
		}
		for _, hook := range onFailure {
			hook(failureCtx)
		}
	}()

	release, err := e.store.Claim(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := e.store.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		result, err := e.replay(ctx, logger, key, requestFingerprint, existing, opts)
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.Bool("x402.replayed", true))
		metrics.RecordSettlement(metrics.OutcomeReplayed, time.Since(start).Seconds())
		return result, nil
	}

	for _, hook := range beforeVerify {
		res, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if res != nil && res.Abort {
			reason := res.Reason
			if reason == "" {
				reason = "Settlement aborted before verification"
			}
			return nil, withRunbook(
				x402.NewVerificationDeclinedError(reason, nil).WithCode(x402.ReasonVerifyDeclined),
				opts, x402.ReasonVerifyDeclined)
		}
	}

	verifyResp, err := e.verify(ctx, input, key, ttmHash, intentID, opts)
	if err != nil {
		return nil, err
	}

	settleResp, err := e.settle(ctx, input, key, ttmHash, intentID, verifyResp.VerificationID, opts)
	if err != nil {
		return nil, err
	}

	if opts != nil {
		fc := x402.FinalityContext{
			TxHash:           settleResp.TxHash,
			ChainID:          input.Proof.ChainID,
			InvoiceID:        input.Invoice.InvoiceID,
			IdempotencyKey:   key,
			TTMHash:          ttmHash,
			IntentID:         intentID,
			FinalityPolicyID: opts.Finality.PolicyID,
		}
		if err := e.checkFinality(ctx, fc, opts); err != nil {
			return nil, err
		}
	}

	receipt := x402.SettlementReceipt{
		ReceiptID:      settleResp.SettlementID,
		InvoiceID:      input.Invoice.InvoiceID,
		IdempotencyKey: key,
		TTMHash:        ttmHash,
		VerifyResult:   VerifyResultApproved,
		SettleResult:   SettleResultSettled,
		TxHash:         settleResp.TxHash,
		AuditLogID:     verifyResp.VerificationID + ":" + settleResp.SettlementID,
		CreatedAt:      settleResp.SettledAt,
	}
	settledProof := input.Proof
	settledProof.TxHash = settleResp.TxHash
	settledProof.ConfirmedAt = settleResp.SettledAt

	record := x402.SettlementExecutionRecord{
		Confirmation: MapProofToOrderConfirmation(settledProof, input.Invoice, &receipt),
		Receipt:      receipt,
	}
	if err := checkRecord(record); err != nil {
		return nil, err
	}

	stored, inserted, err := e.store.Persist(ctx, key, record, requestFingerprint)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Another process persisted this key while we were settling
		logger.WarnContext(ctx, "settlement persisted concurrently, using stored record", "idempotencyKey", key)
		result, err := e.replay(ctx, logger, key, requestFingerprint, stored, opts)
		if err != nil {
			return nil, err
		}
		metrics.RecordSettlement(metrics.OutcomeReplayed, time.Since(start).Seconds())
		return result, nil
	}

	result := &x402.SettlementExecutionResult{SettlementExecutionRecord: record}
	span.SetAttributes(
		attribute.String("x402.receipt_id", receipt.ReceiptID),
		attribute.String("x402.tx_hash", receipt.TxHash),
	)
	metrics.RecordSettlement(metrics.OutcomeSettled, time.Since(start).Seconds())
	logger.InfoContext(ctx, "settlement completed",
		"idempotencyKey", key,
		"receiptId", receipt.ReceiptID,
		"txHash", receipt.TxHash,
	)

	resultCtx := ExecuteResultContext{
		ExecuteContext: hookCtx,
		Result:         *result,
		Duration:       time.Since(start),
	}
	for _, hook := range afterSettle {
		if hookErr := hook(resultCtx); hookErr != nil {
			logger.WarnContext(ctx, "after settle hook failed", "error", hookErr)
		}
	}
	return result, nil
}

// rejected marks a validation failure on span. Validation failures run no
// hooks and carry no runbook.
func (e *Engine) rejected(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.RecordSettlement(metrics.OutcomeFailed, 0)
	metrics.RecordSettlementFailure("")
	return err
}

func (e *Engine) replay(ctx context.Context, logger *slog.Logger, key, requestFingerprint string, existing *idempotency.Entry, opts *ExecutionOptions) (*x402.SettlementExecutionResult, error) {
	if existing.Fingerprint != "" && existing.Fingerprint != requestFingerprint {
		logger.WarnContext(ctx, "idempotency key reused with a different request", "idempotencyKey", key)
		return nil, withRunbook(
			x402.NewProtocolError("Idempotency key already used with a different settlement request",
				x402.FieldDetails("idempotencyKey", "", key)).WithCode(x402.ReasonIdempotencyKeyCollision),
			opts, x402.ReasonIdempotencyKeyCollision)
	}

	logger.InfoContext(ctx, "settlement replayed", "idempotencyKey", key, "receiptId", existing.Record.Receipt.ReceiptID)
	return &x402.SettlementExecutionResult{
		SettlementExecutionRecord: existing.Record,
		Replayed:                  true,
	}, nil
}

func (e *Engine) verify(ctx context.Context, input ExecuteInput, key, ttmHash, intentID string, opts *ExecutionOptions) (*x402.FacilitatorVerifyResponse, error) {
	ctx, span := e.tracer.Start(ctx, "settlement.verify")
	defer span.End()

	req := x402.FacilitatorVerifyRequest{
		InvoiceID:           input.Invoice.InvoiceID,
		IdempotencyKey:      key,
		TTMHash:             ttmHash,
		IntentID:            intentID,
		FacilitatorPolicyID: opts.facilitatorPolicyID(),
	}
	resp, err := callWithRetry(ctx, e, phaseVerify, opts.policy(phaseVerify),
		func(ctx context.Context) (*x402.FacilitatorVerifyResponse, error) {
			return e.facilitator.Verify(ctx, req)
		})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, x402.ErrProtocolCompatibility) {
			return nil, err
		}
		return nil, withRunbook(callFailure(err, x402.KindVerificationDeclined, "Facilitator verify call failed", x402.ReasonVerifyCallFailed),
			opts, x402.ReasonVerifyCallFailed)
	}
	if err := checkVerifyResponse(resp); err != nil {
		return nil, err
	}

	if resp.Status == x402.VerifyDeclined {
		reason := resp.Reason
		if reason == "" {
			reason = "Facilitator verification declined"
		}
		return nil, withRunbook(
			x402.NewVerificationDeclinedError(reason, map[string]interface{}{"verificationId": resp.VerificationID}).
				WithCode(x402.ReasonVerifyDeclined),
			opts, x402.ReasonVerifyDeclined)
	}
	span.SetAttributes(attribute.String("x402.verification_id", resp.VerificationID))
	return resp, nil
}

func (e *Engine) settle(ctx context.Context, input ExecuteInput, key, ttmHash, intentID, verificationID string, opts *ExecutionOptions) (*x402.FacilitatorSettleResponse, error) {
	ctx, span := e.tracer.Start(ctx, "settlement.settle")
	defer span.End()

	req := x402.FacilitatorSettleRequest{
		InvoiceID:           input.Invoice.InvoiceID,
		IdempotencyKey:      key,
		VerificationID:      verificationID,
		TTMHash:             ttmHash,
		IntentID:            intentID,
		Proof:               input.Proof,
		FacilitatorPolicyID: opts.facilitatorPolicyID(),
	}
	resp, err := callWithRetry(ctx, e, phaseSettle, opts.policy(phaseSettle),
		func(ctx context.Context) (*x402.FacilitatorSettleResponse, error) {
			return e.facilitator.Settle(ctx, req)
		})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, x402.ErrProtocolCompatibility) {
			return nil, err
		}
		return nil, withRunbook(callFailure(err, x402.KindSettlementProofInvalid, "Facilitator settlement call failed", x402.ReasonSettleCallFailed),
			opts, x402.ReasonSettleCallFailed)
	}
	if err := checkSettleResponse(resp); err != nil {
		return nil, err
	}

	if resp.Status == x402.SettleFailed {
		reason := resp.Reason
		if reason == "" {
			reason = "Facilitator settlement failed"
		}
		return nil, withRunbook(
			x402.NewSettlementProofInvalidError(reason, map[string]interface{}{"settlementId": resp.SettlementID}).
				WithCode(x402.ReasonSettleFailed),
			opts, x402.ReasonSettleFailed)
	}
	span.SetAttributes(attribute.String("x402.tx_hash", resp.TxHash))
	return resp, nil
}

func (e *Engine) checkFinality(ctx context.Context, fc x402.FinalityContext, opts *ExecutionOptions) error {
	ctx, span := e.tracer.Start(ctx, "settlement.finality",
		trace.WithAttributes(attribute.String("x402.chain_id", fc.ChainID)))
	defer span.End()

	hook := opts.Finality.Hook
	start := time.Now()
	result, err := hook.CheckFinality(ctx, fc)
	recordAttempt(metrics.PhaseFinality, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		return withRunbook(
			x402.NewSettlementProofInvalidError("Finality check failed", nil).
				WithCode(x402.ReasonFinalityCheckFailed).WithCause(err),
			opts, x402.ReasonFinalityCheckFailed)
	}
	if result == nil {
		return withRunbook(
			x402.NewSettlementProofInvalidError("Finality check returned no result", nil).
				WithCode(x402.ReasonFinalityCheckFailed),
			opts, x402.ReasonFinalityCheckFailed)
	}

	if result.ReorgDetected {
		span.SetAttributes(attribute.Bool("x402.reorg_detected", true))
		reason := result.Reason
		if reason == "" {
			reason = "Reorg detected after settlement confirmation"
		}
		failure := x402.NewSettlementProofInvalidError(reason, x402.FieldDetails("txHash", "", fc.TxHash)).
			WithCode(x402.ReasonReorgDetected)
		if handler, ok := hook.(x402.ReorgHandler); ok {
			if err := handler.OnReorg(ctx, fc); err != nil {
				failure = failure.WithCause(err)
			}
		}
		return withRunbook(failure, opts, x402.ReasonReorgDetected)
	}

	if !result.Finalized {
		reason := result.Reason
		if reason == "" {
			reason = "Settlement finality is not confirmed"
		}
		return withRunbook(
			x402.NewSettlementProofInvalidError(reason, x402.FieldDetails("txHash", "", fc.TxHash)).
				WithCode(x402.ReasonFinalityNotConfirmed),
			opts, x402.ReasonFinalityNotConfirmed)
	}
	return nil
}

// callFailure types an exhausted or non-retryable facilitator call error.
// Payment errors from the adapter keep their kind.
func callFailure(err error, kind x402.ErrorKind, message string, code x402.ReasonCode) error {
	var pe *x402.PaymentError
	if errors.As(err, &pe) {
		if pe.Code == "" {
			copied := *pe
			copied.Code = code
			return &copied
		}
		return err
	}
	return x402.NewPaymentError(kind, message, nil).WithCode(code).WithCause(err)
}
