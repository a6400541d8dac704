package main

import (
	"github.com/spf13/cobra"

	"github.com/xignet/x402/go/protocol"
)

func newParseCmd() *cobra.Command {
	var opts protocol.ParseOptions

	cmd := &cobra.Command{
		Use:   "parse <header>",
		Short: "Parse a payment challenge header",
		Long: `Parse a PAYMENT-REQUIRED (base64url) or legacy WWW-Authenticate header
value and print the canonical payment requirement.`,
		Example: `  x402ctl parse 'L402 invoice="inv_1", amount="1.00", currency="USDC", network="base", pay_to="0xabc"'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			challenge, err := protocol.ParseChallenge(args[0], opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), challenge)
		},
	}

	cmd.Flags().BoolVar(&opts.RequireTTMHash, "require-ttm-hash", false, "reject v2 challenges without ttmHash")
	cmd.Flags().BoolVar(&opts.RequirePolicyRefs, "require-policy-refs", false, "reject v2 challenges without policyRefs")
	return cmd
}
