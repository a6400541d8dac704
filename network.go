package x402

import (
	"fmt"
	"regexp"
	"strings"
)

var caip2Pattern = regexp.MustCompile(`^[a-z0-9-]{3,8}:[a-zA-Z0-9-]{1,32}$`)

// networkAliases maps common human network names to CAIP-2 identifiers
var networkAliases = map[string]Network{
	"base":             "eip155:8453",
	"base-mainnet":     "eip155:8453",
	"base-sepolia":     "eip155:84532",
	"ethereum":         "eip155:1",
	"ethereum-mainnet": "eip155:1",
	"eth-mainnet":      "eip155:1",
	"polygon":          "eip155:137",
	"polygon-mainnet":  "eip155:137",
	"arbitrum":         "eip155:42161",
	"arbitrum-mainnet": "eip155:42161",
}

// NormalizeNetwork trims and lower-cases network, resolves aliases and
// validates the CAIP-2 shape.
//
// Examples:
//
//	NormalizeNetwork("Base-Mainnet") // "eip155:8453"
//	NormalizeNetwork("solana:mainnet") // "solana:mainnet"
func NormalizeNetwork(network string) (Network, error) {
	normalized := strings.ToLower(strings.TrimSpace(network))
	resolved, ok := networkAliases[normalized]
	if !ok {
		resolved = Network(normalized)
	}

	if !caip2Pattern.MatchString(string(resolved)) {
		return "", NewProtocolError(
			fmt.Sprintf("Invalid CAIP-2 network: %s", network),
			FieldDetails("network", "namespace:reference", network),
		)
	}
	return resolved, nil
}

// IsCAIP2 reports whether n already has canonical CAIP-2 shape
func (n Network) IsCAIP2() bool {
	return caip2Pattern.MatchString(string(n))
}
