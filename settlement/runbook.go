package settlement

import (
	"strings"

	x402 "github.com/xignet/x402/go"
)

// RecommendedAction returns the action for code: the caller override if set,
// else manual_review_<code>.
func (o *ExecutionOptions) RecommendedAction(code x402.ReasonCode) string {
	if o != nil {
		if action := strings.TrimSpace(o.RecommendedActions[code]); action != "" {
			return action
		}
	}
	return "manual_review_" + strings.ToLower(string(code))
}

// Directive builds the runbook directive for code
func (o *ExecutionOptions) Directive(code x402.ReasonCode) x402.RunbookDirective {
	return x402.RunbookDirective{
		RunbookPolicyID:      o.RunbookPolicyID,
		ManualActionRequired: true,
		ReasonCode:           code,
		RecommendedAction:    o.RecommendedAction(code),
	}
}

// withRunbook attaches a directive to err when options are in effect
func withRunbook(err error, opts *ExecutionOptions, code x402.ReasonCode) error {
	if opts == nil {
		return err
	}
	return &x402.RunbookError{Directive: opts.Directive(code), Err: err}
}
