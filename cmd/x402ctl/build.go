package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	x402 "github.com/xignet/x402/go"
	"github.com/xignet/x402/go/extensions/idempotency"
	"github.com/xignet/x402/go/finality"
	"github.com/xignet/x402/go/finality/evm"
	"github.com/xignet/x402/go/finality/svm"
	x402http "github.com/xignet/x402/go/http"
	"github.com/xignet/x402/go/internal/config"
	"github.com/xignet/x402/go/settlement"
)

type closer func() error

// consentTable holds issued consent next to settlement_replays
const consentTable = "consent_receipts"

// buildStores opens the configured backend and returns the replay store and
// the consent ledger on it. The two never share keys.
func buildStores(ctx context.Context, cfg config.StoreConfig, consentTTL time.Duration) (*idempotency.ReplayStore, *idempotency.ConsentLedger, closer, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.StoreMemory:
		replays := idempotency.NewReplayStore(idempotency.WithTTL(cfg.TTL))
		consents := idempotency.NewConsentLedger(idempotency.NewInMemoryStore(consentTTL))
		return replays, consents, noop, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}

		replayPrefix := cfg.RedisPrefix
		if replayPrefix == "" {
			replayPrefix = idempotency.DefaultRedisPrefix
		}
		consentPrefix := "x402:consent:"
		if cfg.RedisPrefix != "" {
			consentPrefix = cfg.RedisPrefix + "consent:"
		}

		replays := idempotency.NewReplayStore(idempotency.WithBackend(
			idempotency.NewRedisStore(client, cfg.TTL).WithPrefix(replayPrefix)))
		consents := idempotency.NewConsentLedger(
			idempotency.NewRedisStore(client, consentTTL).WithPrefix(consentPrefix))
		return replays, consents, client.Close, nil

	case config.StoreSQLite, config.StorePostgres:
		dialect := idempotency.DialectSQLite
		if cfg.Backend == config.StorePostgres {
			dialect = idempotency.DialectPostgres
		}
		db, err := sql.Open(string(dialect), cfg.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
		}
		if dialect == idempotency.DialectSQLite {
			db.SetMaxOpenConns(1)
		}
		replayBackend, err := idempotency.NewSQLStore(ctx, db, dialect, idempotency.WithSQLTTL(cfg.TTL))
		if err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		consentBackend, err := idempotency.NewSQLStore(ctx, db, dialect,
			idempotency.WithSQLTTL(consentTTL), idempotency.WithSQLTable(consentTable))
		if err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		return idempotency.NewReplayStore(idempotency.WithBackend(replayBackend)),
			idempotency.NewConsentLedger(consentBackend), db.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend: %q", cfg.Backend)
	}
}

// buildVerifier returns nil when no assertion verifier URL is configured
func buildVerifier(cfg config.ConsentConfig) (x402.AssertionVerifier, error) {
	if cfg.VerifierURL == "" {
		return nil, nil
	}
	return x402http.NewAssertionVerifierClient(&x402http.AssertionVerifierConfig{
		URL:     cfg.VerifierURL,
		Timeout: cfg.Timeout,
		Headers: cfg.Headers,
	})
}

// buildFacilitator returns nil when no facilitator URL is configured
func buildFacilitator(cfg config.FacilitatorConfig) (x402.FacilitatorAdapter, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	fc := &x402http.FacilitatorConfig{
		URL:        cfg.URL,
		Timeout:    cfg.Timeout,
		Identifier: cfg.Identifier,
	}
	if len(cfg.Headers) > 0 {
		fc.AuthProvider = x402http.StaticAuth(cfg.Headers)
	}
	return x402http.NewFacilitatorClient(fc)
}

// buildFinality registers a hook per configured chain family
func buildFinality(ctx context.Context, cfg config.FinalityConfig, logger *slog.Logger) (*finality.Router, closer, error) {
	router := finality.NewRouter()
	closeFn := func() error { return nil }

	if cfg.EVM.RPCURL != "" {
		client, err := evm.Dial(ctx, cfg.EVM.RPCURL)
		if err != nil {
			return nil, nil, err
		}
		opts := []evm.Option{
			evm.WithConfirmations(cfg.EVM.Confirmations),
			evm.WithReorgHandler(func(ctx context.Context, fc x402.FinalityContext) error {
				logger.Warn("chain reorg affected settlement",
					"tx_hash", fc.TxHash,
					"chain_id", fc.ChainID,
					"invoice_id", fc.InvoiceID,
					"idempotency_key", fc.IdempotencyKey)
				return nil
			}),
		}
		if cfg.EVM.FinalizedTag {
			opts = append(opts, evm.WithFinalizedTag())
		}
		router.Register("eip155:*", evm.NewHook(client, opts...))
		closeFn = func() error {
			client.Close()
			return nil
		}
	}

	if cfg.SVM.RPCURL != "" {
		var opts []svm.Option
		if cfg.SVM.SearchHistory {
			opts = append(opts, svm.WithHistorySearch())
		}
		router.Register("solana:*", svm.NewRPCHook(cfg.SVM.RPCURL, opts...))
	}

	return router, closeFn, nil
}

// executionOptions maps settlement config onto engine options. Disabled
// settlement config yields nil options.
func executionOptions(cfg config.SettlementConfig, hook x402.FinalityHook) *settlement.ExecutionOptions {
	if !cfg.Enabled {
		return nil
	}

	actions := make(map[x402.ReasonCode]string, len(cfg.RecommendedActions))
	for code, action := range cfg.RecommendedActions {
		actions[x402.ReasonCode(strings.ToUpper(code))] = action
	}

	retry := func(r config.RetryConfig) settlement.RetryPolicy {
		return settlement.RetryPolicy{
			MaxAttempts: r.MaxAttempts,
			Timeout:     r.Timeout,
			Backoff:     r.Backoff,
			Jitter:      r.Jitter,
		}
	}

	return &settlement.ExecutionOptions{
		FacilitatorPolicyID: cfg.FacilitatorPolicyID,
		RunbookPolicyID:     cfg.RunbookPolicyID,
		Retry: settlement.RetryOptions{
			Verify: retry(cfg.Verify),
			Settle: retry(cfg.Settle),
		},
		RecommendedActions: actions,
		Finality: &settlement.FinalityOptions{
			PolicyID: cfg.FinalityPolicyID,
			Hook:     hook,
		},
	}
}
