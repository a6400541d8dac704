package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xignet/x402/go/internal/config"
	"github.com/xignet/x402/go/protocol"
	"github.com/xignet/x402/go/server"
	"github.com/xignet/x402/go/settlement"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the consent and settlement API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := cfg.Log.NewLogger(os.Stderr)

	facilitator, err := buildFacilitator(cfg.Facilitator)
	if err != nil {
		return err
	}
	if facilitator == nil {
		return errors.New("facilitator.url is required to serve settlements")
	}

	verifier, err := buildVerifier(cfg.Consent)
	if err != nil {
		return err
	}
	if verifier == nil {
		return errors.New("consent.verifier_url is required to serve settlements")
	}

	store, consents, closeStore, err := buildStores(ctx, cfg.Store, cfg.Consent.TTL)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("failed to close replay store", "error", err)
		}
	}()

	router, closeFinality, err := buildFinality(ctx, cfg.Finality, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeFinality() }()

	engine := settlement.NewEngine(facilitator, store, settlement.WithLogger(logger))
	srv, err := server.New(server.Config{
		Engine:           engine,
		Verifier:         verifier,
		Consents:         consents,
		ExecutionOptions: executionOptions(cfg.Settlement, router),
		ParseOptions: protocol.ParseOptions{
			RequirePolicyRefs: cfg.Protocol.RequirePolicyRefs,
			RequireTTMHash:    cfg.Protocol.RequireTTMHash,
		},
		FailClosedOnMissingPolicyRefs: cfg.Protocol.FailClosedOnMissingPolicyRefs,
		Logger:                        logger,
		ReadTimeout:                   cfg.Server.ReadTimeout,
		WriteTimeout:                  cfg.Server.WriteTimeout,
	})
	if err != nil {
		return err
	}

	logger.Info("starting x402 server",
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Backend,
		"facilitator", cfg.Facilitator.URL,
		"assertion_verifier", cfg.Consent.VerifierURL,
		"settlement_options", cfg.Settlement.Enabled)
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}
