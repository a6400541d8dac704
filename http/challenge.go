package http

import (
	"encoding/json"
	"net/http"
	"strings"

	x402 "github.com/xignet/x402/go"
	"github.com/xignet/x402/go/protocol"
)

// HeaderWWWAuthenticate carries legacy challenges
const HeaderWWWAuthenticate = "WWW-Authenticate"

// ChallengeFromResponse extracts the payment challenge from a 402 response.
// The v2 PAYMENT-REQUIRED header wins over a legacy WWW-Authenticate header.
func ChallengeFromResponse(resp *http.Response, opts protocol.ParseOptions) (*protocol.CompatibilityParsedChallenge, error) {
	if resp == nil {
		return nil, x402.NewProtocolError("response is nil", nil)
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, x402.NewProtocolError("response is not a payment challenge",
			x402.FieldDetails("status", "402", http.StatusText(resp.StatusCode)))
	}
	return ChallengeFromHeaders(resp.Header, opts)
}

// ChallengeFromHeaders extracts a payment challenge from response headers
func ChallengeFromHeaders(headers http.Header, opts protocol.ParseOptions) (*protocol.CompatibilityParsedChallenge, error) {
	if v2 := strings.TrimSpace(headers.Get(protocol.HeaderPaymentRequired)); v2 != "" {
		req, err := protocol.ParsePaymentRequired(v2, opts)
		if err != nil {
			return nil, err
		}
		return &protocol.CompatibilityParsedChallenge{
			Source:             protocol.SourceV2,
			PaymentRequirement: *req,
			RawHeader:          v2,
		}, nil
	}

	if legacy := strings.TrimSpace(headers.Get(HeaderWWWAuthenticate)); legacy != "" {
		req, err := protocol.AdaptLegacy(legacy)
		if err != nil {
			return nil, err
		}
		return &protocol.CompatibilityParsedChallenge{
			Source:             protocol.SourceLegacy,
			PaymentRequirement: *req,
			RawHeader:          legacy,
		}, nil
	}

	return nil, x402.NewProtocolError("response carries no payment challenge header",
		x402.FieldDetails(protocol.HeaderPaymentRequired, "header", ""))
}

// WritePaymentRequired sends a 402 with the encoded requirement in the
// PAYMENT-REQUIRED header and as the JSON body.
func WritePaymentRequired(w http.ResponseWriter, requirement x402.PaymentRequirement) error {
	header, err := protocol.EncodePaymentRequired(requirement)
	if err != nil {
		return err
	}
	w.Header().Set(protocol.HeaderPaymentRequired, header)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	return json.NewEncoder(w).Encode(requirement)
}
