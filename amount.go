package x402

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAssetScale bounds the number of fractional digits an asset may declare
const MaxAssetScale = 36

var decimalPattern = regexp.MustCompile(`^(0|[1-9]\d*)(\.\d+)?$`)

// IsDecimalAmount reports whether s is a plain decimal amount: no exponent,
// no sign, no leading zeros.
func IsDecimalAmount(s string) bool {
	return decimalPattern.MatchString(s)
}

// NormalizeAmount trims s and checks it is a plain decimal amount. field names
// the offending input in the error.
func NormalizeAmount(s, field string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if !decimalPattern.MatchString(trimmed) {
		return "", NewProtocolError(
			fmt.Sprintf("Invalid amount in x402 field: %s", field),
			FieldDetails(field, "decimal string", s),
		)
	}
	return trimmed, nil
}

// ValidateScale checks an asset scale is an integer in [0, MaxAssetScale]
func ValidateScale(scale int, field string) error {
	if scale < 0 || scale > MaxAssetScale {
		return NewProtocolError(
			fmt.Sprintf("Invalid amount scale in x402 field: %s (expected integer 0-%d)", field, MaxAssetScale),
			FieldDetails(field, "integer 0-36", fmt.Sprint(scale)),
		)
	}
	return nil
}

// DecimalToAtomic converts a decimal amount to its integer representation at
// the given scale. Amounts with more fractional digits than scale are
// rejected, never rounded.
//
//	DecimalToAtomic("1.23", 2, "amount")  // "123"
//	DecimalToAtomic("1.234", 2, "amount") // scale overflow error
func DecimalToAtomic(amount string, scale int, field string) (string, error) {
	normalized, err := NormalizeAmount(amount, field)
	if err != nil {
		return "", err
	}
	if err := ValidateScale(scale, field+"Scale"); err != nil {
		return "", err
	}

	fraction := ""
	if i := strings.IndexByte(normalized, '.'); i >= 0 {
		fraction = normalized[i+1:]
	}
	if len(fraction) > scale {
		return "", NewProtocolError(
			fmt.Sprintf("Invalid amount in x402 field: %s scale overflow (fraction=%d, scale=%d)", field, len(fraction), scale),
			FieldDetails(field, fmt.Sprintf("at most %d fractional digits", scale), normalized),
		)
	}

	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return "", NewProtocolError(fmt.Sprintf("Invalid amount in x402 field: %s", field), FieldDetails(field, "decimal string", amount)).WithCause(err)
	}
	return d.Shift(int32(scale)).BigInt().String(), nil
}
