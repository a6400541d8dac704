package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "x402ctl",
		Short: "x402 payment compliance and settlement tool",
		Long: `x402ctl works with HTTP 402 payment challenges.

It parses PAYMENT-REQUIRED and legacy WWW-Authenticate challenges, computes
transaction terms digests, and serves the consent and settlement API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "",
		"config file (YAML); X402_* environment variables override it")

	cmd.AddCommand(newParseCmd())
	cmd.AddCommand(newHashCmd())
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
