package x402

import (
	"fmt"
	"regexp"
	"strings"
)

var ttmHashPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// IsTTMHash reports whether s is a 64-char lowercase hex digest
func IsTTMHash(s string) bool {
	return ttmHashPattern.MatchString(s)
}

// ValidateTTMHash trims value and checks it is a JCS + SHA-256 digest.
func ValidateTTMHash(value, field string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !ttmHashPattern.MatchString(trimmed) {
		return "", NewProtocolError(
			fmt.Sprintf("Invalid x402 field: %s must be 64-char lowercase hex (JCS RFC8785 + SHA-256)", field),
			FieldDetails(field, "64-char lowercase hex", value),
		)
	}
	return trimmed, nil
}
