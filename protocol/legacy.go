package protocol

import (
	"regexp"
	"strings"

	x402 "github.com/xignet/x402/go"
)

var tokenPattern = regexp.MustCompile(`^\s*(\S+)\s+(.+)$`)

// LegacyChallenge is a parsed WWW-Authenticate payment challenge
type LegacyChallenge struct {
	Scheme     string `json:"scheme"`
	InvoiceURL string `json:"invoiceUrl"`
	Amount     string `json:"amount,omitempty"`
	Currency   string `json:"currency,omitempty"`
	Merchant   string `json:"merchant,omitempty"`
	Network    string `json:"network,omitempty"`
	PayTo      string `json:"payTo,omitempty"`
	Resource   string `json:"resource,omitempty"`
	Asset      string `json:"asset,omitempty"`
	Nonce      string `json:"nonce,omitempty"`
	ExpiresAt  string `json:"expiresAt,omitempty"`
	RawHeader  string `json:"rawHeader"`
}

// ParseLegacyHeader parses `<scheme> key=value[, key=value...]`. Parameters
// may be separated by commas or semicolons, keys are case-insensitive and
// values may be double-quoted.
func ParseLegacyHeader(header string) (*LegacyChallenge, error) {
	matched := tokenPattern.FindStringSubmatch(header)
	if matched == nil {
		return nil, x402.NewProtocolError("Invalid WWW-Authenticate format", x402.FieldDetails("WWW-Authenticate", "<scheme> <params>", header))
	}

	params := parseAuthParams(matched[2])

	invoice := params["invoice"]
	if invoice == "" {
		return nil, missingField("invoice")
	}

	challenge := &LegacyChallenge{
		Scheme:     matched[1],
		InvoiceURL: invoice,
		RawHeader:  header,
	}

	if amount, ok := params["amount"]; ok && amount != "" {
		if !isNumeric(amount) {
			return nil, x402.NewProtocolError("Invalid amount in x402 challenge", x402.FieldDetails("amount", "number", amount))
		}
		challenge.Amount = strings.TrimSpace(amount)
	}

	challenge.Currency = params["currency"]
	challenge.Merchant = params["merchant"]
	challenge.Network = params["network"]
	if payTo, ok := params["pay_to"]; ok {
		challenge.PayTo = payTo
	} else {
		challenge.PayTo = params["payto"]
	}
	challenge.Resource = params["resource"]
	challenge.Asset = params["asset"]
	challenge.Nonce = params["nonce"]
	challenge.ExpiresAt = params["expires_at"]

	return challenge, nil
}

func parseAuthParams(params string) map[string]string {
	result := make(map[string]string)
	normalized := strings.ReplaceAll(params, ";", ",")

	for _, chunk := range strings.Split(normalized, ",") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		key, value, found := strings.Cut(chunk, "=")
		key = strings.TrimSpace(key)
		if key == "" || !found {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.TrimPrefix(value, `"`)
		value = strings.TrimSuffix(value, `"`)
		result[strings.ToLower(key)] = value
	}

	return result
}

var numericPattern = regexp.MustCompile(`^\s*[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?\s*$`)

// isNumeric accepts anything that reads as a finite number, including
// exponents. Plain-decimal enforcement happens when the challenge is adapted.
func isNumeric(s string) bool {
	return numericPattern.MatchString(s)
}
