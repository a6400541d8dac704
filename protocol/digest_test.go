package protocol

import (
	"errors"
	"strings"
	"testing"

	x402 "github.com/xignet/x402/go"
)

func TestValidateTTMHash(t *testing.T) {
	requirement := *sampleRequirement()

	if err := ValidateTTMHash(requirement, sampleHash, nil); err != nil {
		t.Fatalf("Expected matching digest to pass, got %v", err)
	}

	other := strings.Repeat("a", 64)
	err := ValidateTTMHash(requirement, other, nil)
	if !errors.Is(err, x402.ErrProtocolCompatibility) {
		t.Fatalf("Expected protocol error, got %v", err)
	}
	want := "TTM hash validation failed: expected=" + other + ", received=" + sampleHash
	var pe *x402.PaymentError
	if errors.As(err, &pe) && pe.Message != want {
		t.Errorf("Expected %q, got %q", want, pe.Message)
	}
}

func TestValidateTTMHashMissing(t *testing.T) {
	requirement := *sampleRequirement()
	requirement.TTMHash = ""

	err := ValidateTTMHash(requirement, sampleHash, nil)
	var pe *x402.PaymentError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected PaymentError, got %v", err)
	}
	if !strings.HasSuffix(pe.Message, "received=<missing>") {
		t.Errorf("Expected <missing> label, got %q", pe.Message)
	}
}

func TestValidateTTMHashHookOverrides(t *testing.T) {
	requirement := *sampleRequirement()
	other := strings.Repeat("b", 64)
	accepted := map[string]bool{sampleHash: true, other: true}

	var seen TTMHashCheck
	hook := func(check TTMHashCheck) bool {
		seen = check
		return accepted[check.Received]
	}

	if err := ValidateTTMHash(requirement, other, hook); err != nil {
		t.Fatalf("Expected hook to accept alternate digest, got %v", err)
	}
	if seen.Expected != other || seen.Received != sampleHash {
		t.Errorf("Unexpected hook input %+v", seen)
	}

	reject := func(TTMHashCheck) bool { return false }
	if err := ValidateTTMHash(requirement, sampleHash, reject); err == nil {
		t.Errorf("Expected hook to override equality")
	}
}

func TestValidateTTMHashRejectsBadExpected(t *testing.T) {
	requirement := *sampleRequirement()
	if err := ValidateTTMHash(requirement, "", nil); err == nil {
		t.Errorf("Expected empty expected digest to fail")
	}
	if err := ValidateTTMHash(requirement, "XYZ", nil); err == nil {
		t.Errorf("Expected malformed expected digest to fail")
	}
}
