package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "x402.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8402", cfg.Server.Addr)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Store.TTL)
	assert.Equal(t, 3, cfg.Settlement.Verify.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Settlement.Settle.Timeout)
	assert.Equal(t, uint64(12), cfg.Finality.EVM.Confirmations)
	assert.False(t, cfg.Settlement.Enabled)
	assert.Empty(t, cfg.Consent.VerifierURL)
	assert.Equal(t, 15*time.Minute, cfg.Consent.TTL)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
facilitator:
  url: https://facilitator.example.com
  timeout: 5s
  headers:
    X-Api-Key: secret
consent:
  verifier_url: https://authn.example.com
  ttl: 5m
store:
  backend: sqlite
  dsn: file:replays.db
  ttl: 1h
settlement:
  enabled: true
  facilitator_policy_id: fac_1
  runbook_policy_id: runbook_1
  finality_policy_id: finality_1
  verify:
    max_attempts: 5
    backoff: 1s
  recommended_actions:
    REORG_DETECTED: reconcile_ledger
finality:
  evm:
    rpc_url: https://mainnet.base.org
    finalized_tag: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "https://facilitator.example.com", cfg.Facilitator.URL)
	assert.Equal(t, 5*time.Second, cfg.Facilitator.Timeout)
	assert.Equal(t, "secret", cfg.Facilitator.Headers["x-api-key"])
	assert.Equal(t, "https://authn.example.com", cfg.Consent.VerifierURL)
	assert.Equal(t, 5*time.Minute, cfg.Consent.TTL)
	assert.Equal(t, 10*time.Second, cfg.Consent.Timeout)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, time.Hour, cfg.Store.TTL)
	assert.Equal(t, 5, cfg.Settlement.Verify.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Settlement.Verify.Backoff)
	assert.Equal(t, 10*time.Second, cfg.Settlement.Verify.Timeout)
	assert.Equal(t, "reconcile_ledger", cfg.Settlement.RecommendedActions["reorg_detected"])
	assert.True(t, cfg.Finality.EVM.FinalizedTag)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("X402_SERVER_ADDR", ":7000")
	t.Setenv("X402_STORE_BACKEND", "redis")
	t.Setenv("X402_SETTLEMENT_VERIFY_MAX_ATTEMPTS", "7")
	t.Setenv("X402_LOG_FORMAT", "json")

	path := writeConfig(t, "server:\n  addr: \":9000\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.Equal(t, 7, cfg.Settlement.Verify.MaxAttempts)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown backend", "store:\n  backend: etcd\n", "unknown store backend"},
		{"sql without dsn", "store:\n  backend: postgres\n", "store.dsn is required"},
		{"settlement without policies", "settlement:\n  enabled: true\n", "facilitator_policy_id"},
		{"settlement without finality", "settlement:\n  enabled: true\n", "finality rpc_url"},
		{"negative consent ttl", "consent:\n  ttl: -1m\n", "consent.ttl must not be negative"},
		{"bad log format", "log:\n  format: xml\n", "unknown log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), out)
	assert.Contains(t, out, `"key":"value"`)
}
