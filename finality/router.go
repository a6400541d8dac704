// Package finality routes settlement finality checks to chain-specific hooks.
//
//	router := finality.NewRouter().
//	    Register("eip155:*", evm.NewHook(ethClient, evm.WithConfirmations(12))).
//	    Register("solana:*", svm.NewHook(solanaClient))
//
// The router is itself an x402.FinalityHook and x402.ReorgHandler, so it can
// be passed straight to settlement.FinalityOptions.
package finality

import (
	"context"
	"fmt"
	"sync"

	x402 "github.com/xignet/x402/go"
)

type route struct {
	pattern x402.Network
	hook    x402.FinalityHook
}

// Router dispatches by CAIP-2 chain id. Patterns may use a trailing wildcard
// reference ("eip155:*"). Routes are tried in registration order.
type Router struct {
	mu     sync.RWMutex
	routes []route
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{}
}

// Register adds hook for chain ids matching pattern
func (r *Router) Register(pattern x402.Network, hook x402.FinalityHook) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{pattern: pattern, hook: hook})
	return r
}

// Resolve returns the hook for chainID. Aliases such as "base" are
// normalised first.
func (r *Router) Resolve(chainID string) (x402.FinalityHook, error) {
	network, err := x402.NormalizeNetwork(chainID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.routes {
		if network.Match(rt.pattern) {
			return rt.hook, nil
		}
	}
	return nil, x402.NewProtocolError(
		fmt.Sprintf("no finality hook registered for chain %s", network),
		x402.FieldDetails("chainId", "registered chain", string(network)),
	)
}

// CheckFinality delegates to the hook registered for fc.ChainID
func (r *Router) CheckFinality(ctx context.Context, fc x402.FinalityContext) (*x402.FinalityResult, error) {
	hook, err := r.Resolve(fc.ChainID)
	if err != nil {
		return nil, err
	}
	return hook.CheckFinality(ctx, fc)
}

// OnReorg forwards to the matched hook when it handles reorgs
func (r *Router) OnReorg(ctx context.Context, fc x402.FinalityContext) error {
	hook, err := r.Resolve(fc.ChainID)
	if err != nil {
		return err
	}
	if handler, ok := hook.(x402.ReorgHandler); ok {
		return handler.OnReorg(ctx, fc)
	}
	return nil
}

var (
	_ x402.FinalityHook = (*Router)(nil)
	_ x402.ReorgHandler = (*Router)(nil)
)
