// Package server exposes the payment compliance pipeline over a JSON HTTP API.
//
// Routes:
//
//	POST /v1/challenges/parse      parse a PAYMENT-REQUIRED or legacy challenge
//	POST /v1/ttm/hash              canonical terms digest
//	POST /v1/consent/verify-gate   build request, verify assertion, gate, record
//	POST /v1/settlements           issued-consent gate, then settlement engine
//	GET  /healthz
//	GET  /metrics
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	x402 "github.com/xignet/x402/go"
	"github.com/xignet/x402/go/extensions/idempotency"
	"github.com/xignet/x402/go/protocol"
	"github.com/xignet/x402/go/settlement"
)

// Config holds the server dependencies
type Config struct {
	// Engine executes settlements. Required.
	Engine *settlement.Engine

	// Verifier checks WebAuthn assertions on the verify-gate route. When nil
	// the route responds 501.
	Verifier x402.AssertionVerifier

	// Consents records consent issued by the verify-gate route. Settlements
	// are accepted only for consent found here. Defaults to an in-memory
	// ledger.
	Consents *idempotency.ConsentLedger

	// ExecutionOptions are applied to every settlement (optional)
	ExecutionOptions *settlement.ExecutionOptions

	// ParseOptions are the defaults for challenge parsing
	ParseOptions protocol.ParseOptions

	// FailClosedOnMissingPolicyRefs rejects consent requests without policy ids
	FailClosedOnMissingPolicyRefs bool

	// Logger defaults to slog.Default()
	Logger *slog.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the HTTP API
type Server struct {
	engine     *settlement.Engine
	verifier   x402.AssertionVerifier
	consents   *idempotency.ConsentLedger
	execOpts   *settlement.ExecutionOptions
	parse      protocol.ParseOptions
	failClosed bool
	logger     *slog.Logger
	router     *gin.Engine
	cfg        Config
}

// New creates a Server
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("settlement engine is required")
	}
	if err := cfg.ExecutionOptions.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Consents == nil {
		cfg.Consents = idempotency.NewConsentLedger(idempotency.NewInMemoryStore(0))
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	s := &Server{
		engine:     cfg.Engine,
		verifier:   cfg.Verifier,
		consents:   cfg.Consents,
		execOpts:   cfg.ExecutionOptions,
		parse:      cfg.ParseOptions,
		failClosed: cfg.FailClosedOnMissingPolicyRefs,
		logger:     cfg.Logger,
		cfg:        cfg,
	}
	s.router = s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(s.loggingMiddleware())
	r.Use(metricsMiddleware())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/challenges/parse", s.handleParseChallenge)
	v1.POST("/ttm/hash", s.handleTTMHash)
	v1.POST("/consent/verify-gate", s.handleVerifyGate)
	v1.POST("/settlements", s.handleSettlement)

	return r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("x402 server listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("x402 server stopped")
	return nil
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
