package settlement

import (
	"context"
	"time"

	x402 "github.com/xignet/x402/go"
)

// ============================================================================
// Hook Context Types
// ============================================================================

// ExecuteContext is passed to every engine hook
type ExecuteContext struct {
	Ctx         context.Context
	ExecutionID string
	Input       ExecuteInput
	Options     *ExecutionOptions
	IntentID    string
	Timestamp   time.Time
}

// ExecuteResultContext carries a persisted settlement
type ExecuteResultContext struct {
	ExecuteContext
	Result   x402.SettlementExecutionResult
	Duration time.Duration
}

// ExecuteFailureContext carries a terminal failure
type ExecuteFailureContext struct {
	ExecuteContext
	Error      error
	ReasonCode x402.ReasonCode
	Duration   time.Duration
}

// ============================================================================
// Hook Result Types
// ============================================================================

// BeforeHookResult aborts execution when Abort is true. The abort surfaces as
// a verification decline carrying Reason.
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Hook Function Types
// ============================================================================

// BeforeVerifyHook runs after the replay lookup misses and before the
// facilitator is contacted.
type BeforeVerifyHook func(ExecuteContext) (*BeforeHookResult, error)

// AfterSettleHook runs after a new record is persisted. Errors are logged and
// do not affect the result.
type AfterSettleHook func(ExecuteResultContext) error

// OnFailureHook observes terminal failures after input validation.
type OnFailureHook func(ExecuteFailureContext)

// OnBeforeVerify registers a hook run before facilitator verification
func (e *Engine) OnBeforeVerify(hook BeforeVerifyHook) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.beforeVerifyHooks = append(e.beforeVerifyHooks, hook)
	return e
}

// OnAfterSettle registers a hook run after a settlement is persisted
func (e *Engine) OnAfterSettle(hook AfterSettleHook) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.afterSettleHooks = append(e.afterSettleHooks, hook)
	return e
}

// OnFailure registers a hook run on terminal failures
func (e *Engine) OnFailure(hook OnFailureHook) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFailureHooks = append(e.onFailureHooks, hook)
	return e
}

func (e *Engine) hooks() ([]BeforeVerifyHook, []AfterSettleHook, []OnFailureHook) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.beforeVerifyHooks, e.afterSettleHooks, e.onFailureHooks
}
