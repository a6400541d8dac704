// Package config loads x402ctl configuration from YAML and X402_ environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// X402_FACILITATOR_URL or X402_STORE_BACKEND.
const EnvPrefix = "X402"

// Store backends
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config is the complete x402ctl configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Facilitator FacilitatorConfig `mapstructure:"facilitator"`
	Consent     ConsentConfig     `mapstructure:"consent"`
	Store       StoreConfig       `mapstructure:"store"`
	Settlement  SettlementConfig  `mapstructure:"settlement"`
	Finality    FinalityConfig    `mapstructure:"finality"`
	Protocol    ProtocolConfig    `mapstructure:"protocol"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig controls logging
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FacilitatorConfig locates the facilitator service
type FacilitatorConfig struct {
	URL        string            `mapstructure:"url"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	Identifier string            `mapstructure:"identifier"`
	Headers    map[string]string `mapstructure:"headers"`
}

// ConsentConfig locates the WebAuthn assertion verifier and bounds how long
// issued consent can be settled against
type ConsentConfig struct {
	VerifierURL string            `mapstructure:"verifier_url"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Headers     map[string]string `mapstructure:"headers"`
	TTL         time.Duration     `mapstructure:"ttl"`
}

// StoreConfig selects the replay store backend
type StoreConfig struct {
	Backend string        `mapstructure:"backend"`
	DSN     string        `mapstructure:"dsn"`
	TTL     time.Duration `mapstructure:"ttl"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// RetryConfig mirrors settlement.RetryPolicy
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Jitter      time.Duration `mapstructure:"jitter"`
}

// SettlementConfig carries the execution options. Settlement runs without
// execution options (single attempt, no finality) when Enabled is false.
type SettlementConfig struct {
	Enabled             bool              `mapstructure:"enabled"`
	FacilitatorPolicyID string            `mapstructure:"facilitator_policy_id"`
	RunbookPolicyID     string            `mapstructure:"runbook_policy_id"`
	FinalityPolicyID    string            `mapstructure:"finality_policy_id"`
	Verify              RetryConfig       `mapstructure:"verify"`
	Settle              RetryConfig       `mapstructure:"settle"`
	RecommendedActions  map[string]string `mapstructure:"recommended_actions"`
}

// FinalityConfig configures per-chain finality hooks
type FinalityConfig struct {
	EVM EVMFinalityConfig `mapstructure:"evm"`
	SVM SVMFinalityConfig `mapstructure:"svm"`
}

type EVMFinalityConfig struct {
	RPCURL        string `mapstructure:"rpc_url"`
	Confirmations uint64 `mapstructure:"confirmations"`
	FinalizedTag  bool   `mapstructure:"finalized_tag"`
}

type SVMFinalityConfig struct {
	RPCURL        string `mapstructure:"rpc_url"`
	SearchHistory bool   `mapstructure:"search_history"`
}

// ProtocolConfig controls challenge parsing and consent strictness
type ProtocolConfig struct {
	RequirePolicyRefs             bool `mapstructure:"require_policy_refs"`
	RequireTTMHash                bool `mapstructure:"require_ttm_hash"`
	FailClosedOnMissingPolicyRefs bool `mapstructure:"fail_closed_on_missing_policy_refs"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8402")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("facilitator.url", "")
	v.SetDefault("facilitator.timeout", 30*time.Second)
	v.SetDefault("facilitator.identifier", "")

	v.SetDefault("consent.verifier_url", "")
	v.SetDefault("consent.timeout", 10*time.Second)
	v.SetDefault("consent.ttl", 15*time.Minute)

	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.ttl", 24*time.Hour)
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "")

	v.SetDefault("settlement.enabled", false)
	v.SetDefault("settlement.facilitator_policy_id", "")
	v.SetDefault("settlement.runbook_policy_id", "")
	v.SetDefault("settlement.finality_policy_id", "")
	for _, phase := range []string{"verify", "settle"} {
		v.SetDefault("settlement."+phase+".max_attempts", 3)
		v.SetDefault("settlement."+phase+".timeout", 10*time.Second)
		v.SetDefault("settlement."+phase+".backoff", 250*time.Millisecond)
		v.SetDefault("settlement."+phase+".jitter", 100*time.Millisecond)
	}

	v.SetDefault("finality.evm.rpc_url", "")
	v.SetDefault("finality.evm.confirmations", 12)
	v.SetDefault("finality.evm.finalized_tag", false)
	v.SetDefault("finality.svm.rpc_url", "")
	v.SetDefault("finality.svm.search_history", false)

	v.SetDefault("protocol.require_policy_refs", false)
	v.SetDefault("protocol.require_ttm_hash", false)
	v.SetDefault("protocol.fail_closed_on_missing_policy_refs", false)
}

// Load reads path (optional) and applies environment overrides
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case StoreMemory, StoreRedis:
	case StoreSQLite, StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for %s backend", c.Store.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend: %q", c.Store.Backend))
	}
	if c.Store.TTL < 0 {
		errs = append(errs, errors.New("store.ttl must not be negative"))
	}
	if c.Consent.TTL < 0 {
		errs = append(errs, errors.New("consent.ttl must not be negative"))
	}

	if c.Settlement.Enabled {
		if c.Settlement.FacilitatorPolicyID == "" {
			errs = append(errs, errors.New("settlement.facilitator_policy_id is required"))
		}
		if c.Settlement.RunbookPolicyID == "" {
			errs = append(errs, errors.New("settlement.runbook_policy_id is required"))
		}
		if c.Settlement.FinalityPolicyID == "" {
			errs = append(errs, errors.New("settlement.finality_policy_id is required"))
		}
		if c.Finality.EVM.RPCURL == "" && c.Finality.SVM.RPCURL == "" {
			errs = append(errs, errors.New("settlement requires at least one finality rpc_url"))
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format: %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// NewLogger builds a slog logger writing to w
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
