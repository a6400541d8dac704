package settlement

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	x402 "github.com/xignet/x402/go"
)

// RetryPolicy bounds one facilitator phase.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt. Must be at least 1.
	MaxAttempts int
	// Timeout applies to each attempt. Must be positive.
	Timeout time.Duration
	// Backoff is the base delay; attempt n waits Backoff * 2^(n-1).
	Backoff time.Duration
	// Jitter adds a uniform random delay in [0, Jitter]. Ignored when Backoff is zero.
	Jitter time.Duration
}

// RetryOptions holds a policy per facilitator phase
type RetryOptions struct {
	Verify RetryPolicy
	Settle RetryPolicy
}

// FinalityOptions configures the post-settlement finality check
type FinalityOptions struct {
	PolicyID string
	Hook     x402.FinalityHook
}

// ExecutionOptions enables retries, finality checks and runbook directives.
type ExecutionOptions struct {
	FacilitatorPolicyID string
	RunbookPolicyID     string
	Retry               RetryOptions

	// RecommendedActions overrides the generated recommended action per
	// reason code.
	RecommendedActions map[x402.ReasonCode]string

	Finality *FinalityOptions
}

// Validate checks the options before any external call is made. A nil
// receiver is valid.
func (o *ExecutionOptions) Validate() error {
	if o == nil {
		return nil
	}

	if _, err := requireString(o.FacilitatorPolicyID, "facilitatorPolicyId", "settlement options"); err != nil {
		return err
	}
	if _, err := requireString(o.RunbookPolicyID, "runbookPolicyId", "settlement options"); err != nil {
		return err
	}
	if err := o.Retry.Verify.validate("verify"); err != nil {
		return err
	}
	if err := o.Retry.Settle.validate("settle"); err != nil {
		return err
	}

	if o.Finality == nil {
		return x402.NewProtocolError("settlement options missing required field: finality",
			x402.FieldDetails("finality", "object", ""))
	}
	if _, err := requireString(o.Finality.PolicyID, "finalityPolicyId", "settlement options"); err != nil {
		return err
	}
	if o.Finality.Hook == nil {
		return x402.NewProtocolError("settlement options missing required field: finality.hook",
			x402.FieldDetails("finality.hook", "FinalityHook", ""))
	}
	return nil
}

func (p RetryPolicy) validate(phase string) error {
	invalid := func(field, rule string, got interface{}) error {
		name := "retry." + field
		return x402.NewProtocolError(
			fmt.Sprintf("settlement %s %s must be %s", phase, name, rule),
			x402.FieldDetails(phase+"."+name, rule, fmt.Sprint(got)),
		)
	}

	if p.MaxAttempts < 1 {
		return invalid("maxAttempts", "a positive integer", p.MaxAttempts)
	}
	if p.Timeout <= 0 {
		return invalid("timeout", "a positive duration", p.Timeout)
	}
	if p.Backoff < 0 {
		return invalid("backoff", "a non-negative duration", p.Backoff)
	}
	if p.Jitter < 0 {
		return invalid("jitter", "a non-negative duration", p.Jitter)
	}
	return nil
}

func (o *ExecutionOptions) policy(phase string) *RetryPolicy {
	if o == nil {
		return nil
	}
	if phase == phaseSettle {
		return &o.Retry.Settle
	}
	return &o.Retry.Verify
}

func (o *ExecutionOptions) facilitatorPolicyID() string {
	if o == nil {
		return ""
	}
	return o.FacilitatorPolicyID
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracerProvider sets where engine spans are recorded. Defaults to the
// global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(instrumentationName)
		}
	}
}
