package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	x402 "github.com/xignet/x402/go"
)

// HeaderPaymentRequired is the v2 challenge header
const HeaderPaymentRequired = "PAYMENT-REQUIRED"

// ParseOptions selects which optional envelope fields are mandatory
type ParseOptions struct {
	RequirePolicyRefs bool
	RequireTTMHash    bool
}

// ParsePaymentRequired decodes and validates a PAYMENT-REQUIRED header value
func ParsePaymentRequired(header string, opts ParseOptions) (*x402.PaymentRequirement, error) {
	if strings.TrimSpace(header) == "" {
		return nil, missingField(HeaderPaymentRequired)
	}

	decoded, err := decodeBase64URL(strings.TrimSpace(header))
	if err != nil {
		return nil, x402.NewProtocolError("Invalid PAYMENT-REQUIRED base64url payload", nil).WithCause(err)
	}

	dec := json.NewDecoder(bytes.NewReader(decoded))
	dec.UseNumber()
	var payload interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, x402.NewProtocolError("Invalid PAYMENT-REQUIRED JSON payload", nil).WithCause(err)
	}

	raw, err := assertObject(payload, HeaderPaymentRequired)
	if err != nil {
		return nil, err
	}

	if !isVersion2(raw["x402Version"]) {
		return nil, x402.NewProtocolError("Invalid x402 field: x402Version must be 2", x402.FieldDetails("x402Version", "2", fmt.Sprint(raw["x402Version"])))
	}

	list, ok := raw["accepts"].([]interface{})
	if !ok || len(list) == 0 {
		return nil, missingField("accepts")
	}

	accepts := make([]x402.Acceptance, 0, len(list))
	for i, item := range list {
		acceptance, err := normalizeAcceptance(item, i)
		if err != nil {
			return nil, err
		}
		accepts = append(accepts, acceptance)
	}

	ttmHash, err := normalizeTTMHash(raw, opts.RequireTTMHash)
	if err != nil {
		return nil, err
	}
	policyRefs, err := normalizePolicyRefs(raw, opts.RequirePolicyRefs)
	if err != nil {
		return nil, err
	}

	return &x402.PaymentRequirement{
		X402Version: x402.ProtocolVersion,
		Accepts:     accepts,
		TTMHash:     ttmHash,
		PolicyRefs:  policyRefs,
	}, nil
}

// EncodePaymentRequired renders a requirement as a PAYMENT-REQUIRED header value
func EncodePaymentRequired(requirement x402.PaymentRequirement) (string, error) {
	data, err := json.Marshal(requirement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment requirement: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// decodeBase64URL accepts unpadded base64url and tolerates standard-alphabet
// characters and trailing padding.
func decodeBase64URL(s string) ([]byte, error) {
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}

func isVersion2(v interface{}) bool {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return err == nil && f == 2
	case string:
		return t == "2"
	}
	return false
}

func normalizeAcceptance(item interface{}, index int) (x402.Acceptance, error) {
	prefix := fmt.Sprintf("accepts[%d]", index)
	raw, err := assertObject(item, prefix)
	if err != nil {
		return x402.Acceptance{}, err
	}

	scheme, err := readRequiredString(raw, "scheme", prefix+".scheme")
	if err != nil {
		return x402.Acceptance{}, err
	}
	networkValue, err := readRequiredString(raw, "network", prefix+".network")
	if err != nil {
		return x402.Acceptance{}, err
	}
	network, err := x402.NormalizeNetwork(networkValue)
	if err != nil {
		return x402.Acceptance{}, err
	}

	amountField := prefix + ".maxAmountRequired"
	amount, err := x402.NormalizeAmount(amountText(raw["maxAmountRequired"]), amountField)
	if err != nil {
		return x402.Acceptance{}, err
	}

	acceptance := x402.Acceptance{
		Scheme:            scheme,
		Network:           network,
		MaxAmountRequired: amount,
	}

	if scaleValue, present := raw["assetScale"]; present {
		scale, err := readScale(scaleValue, prefix+".assetScale")
		if err != nil {
			return x402.Acceptance{}, err
		}
		atomic, err := x402.DecimalToAtomic(amount, scale, amountField)
		if err != nil {
			return x402.Acceptance{}, err
		}
		acceptance.AssetScale = &scale
		acceptance.MaxAmountRequiredAtomic = atomic
	}

	if acceptance.PayTo, err = readRequiredString(raw, "payTo", prefix+".payTo"); err != nil {
		return x402.Acceptance{}, err
	}
	if acceptance.Resource, err = readRequiredString(raw, "resource", prefix+".resource"); err != nil {
		return x402.Acceptance{}, err
	}
	if acceptance.Asset, err = readRequiredString(raw, "asset", prefix+".asset"); err != nil {
		return x402.Acceptance{}, err
	}

	return acceptance, nil
}

// amountText returns the textual form of a JSON amount. Non-string,
// non-number values yield "" and fail the decimal check.
func amountText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	}
	return ""
}

// readScale accepts any JSON number with an integral value, so 6 and 6.0
// are the same scale.
func readScale(v interface{}, field string) (int, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, scaleError(field, v)
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < 0 || f > x402.MaxAssetScale {
		return 0, scaleError(field, v)
	}
	return int(f), nil
}

func scaleError(field string, v interface{}) error {
	return x402.NewProtocolError(
		fmt.Sprintf("Invalid amount scale in x402 field: %s (expected integer 0-%d)", field, x402.MaxAssetScale),
		x402.FieldDetails(field, "integer 0-36", fmt.Sprint(v)),
	)
}

func normalizeTTMHash(raw map[string]interface{}, required bool) (string, error) {
	value, present := raw["ttmHash"]
	if !present {
		if required {
			return "", missingField("ttmHash")
		}
		return "", nil
	}

	s, ok := value.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", x402.NewProtocolError("Invalid x402 field: ttmHash must be a non-empty string", x402.FieldDetails("ttmHash", "string", fmt.Sprint(value)))
	}
	if required {
		return x402.ValidateTTMHash(s, "ttmHash")
	}
	return strings.TrimSpace(s), nil
}

func normalizePolicyRefs(raw map[string]interface{}, required bool) (*x402.PolicyRefs, error) {
	value, present := raw["policyRefs"]
	if !present {
		if required {
			return nil, missingField("policyRefs")
		}
		return nil, nil
	}

	record, err := assertObject(value, "policyRefs")
	if err != nil {
		return nil, err
	}

	refs := &x402.PolicyRefs{}
	fields := []struct {
		key string
		dst *string
	}{
		{"legalPolicyId", &refs.LegalPolicyID},
		{"webauthnPolicyId", &refs.WebAuthnPolicyID},
		{"retentionPolicyId", &refs.RetentionPolicyID},
		{"runbookPolicyId", &refs.RunbookPolicyID},
		{"finalityPolicyId", &refs.FinalityPolicyID},
	}
	for _, f := range fields {
		v, err := readRequiredString(record, f.key, "policyRefs."+f.key)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	return refs, nil
}

func assertObject(v interface{}, field string) (map[string]interface{}, error) {
	m, ok := v.(map[string]interface{})
	if !ok || m == nil {
		return nil, x402.NewProtocolError(fmt.Sprintf("Invalid x402 field: %s must be an object", field), x402.FieldDetails(field, "object", ""))
	}
	return m, nil
}

func readRequiredString(raw map[string]interface{}, key, field string) (string, error) {
	s, ok := raw[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", missingField(field)
	}
	return strings.TrimSpace(s), nil
}

func missingField(field string) error {
	return x402.NewProtocolError(fmt.Sprintf("Missing required x402 field: %s", field), x402.FieldDetails(field, "non-empty value", ""))
}
