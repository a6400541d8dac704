// Package settlement executes verified payments against a facilitator.
//
// Execution is strictly sequential: replay lookup, facilitator verify,
// facilitator settle, optional finality check, then receipt construction and
// persistence under the caller's idempotency key.
//
//	store := idempotency.NewReplayStore()
//	engine := settlement.NewEngine(facilitatorClient, store,
//	    settlement.WithLogger(logger),
//	)
//
//	result, err := engine.Execute(ctx, settlement.ExecuteInput{
//	    Invoice:        invoice,
//	    Proof:          proof,
//	    IdempotencyKey: "order-42",
//	    TTMHash:        ttmHash,
//	}, &settlement.ExecutionOptions{...})
//
// Without ExecutionOptions each facilitator call is attempted once with no
// deadline beyond ctx, finality is not checked and failures carry no runbook
// directive. With options, every call runs under a per-attempt timeout with
// exponential backoff between retries, and terminal failures wrap an
// *x402.RunbookError.
package settlement
