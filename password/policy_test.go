package password

import (
	"slices"
	"strings"
	"testing"
)

func TestPolicyAcceptsStrongPassword(t *testing.T) {
	res := DefaultPolicy().Validate("Tr0ub4dor&Horse")
	if !res.Valid {
		t.Fatalf("expected valid password, violations=%v", res.Violations)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("expected no violations, got %v", res.Violations)
	}
}

func TestPolicyReportsEveryViolation(t *testing.T) {
	res := DefaultPolicy().Validate("abc")
	if res.Valid {
		t.Fatal("expected weak password to fail")
	}

	want := []string{
		"password must be between 8 and 128 characters",
		ViolationUppercase,
		ViolationDigit,
		ViolationSymbol,
	}
	for _, v := range want {
		if !slices.Contains(res.Violations, v) {
			t.Fatalf("expected violation %q in %v", v, res.Violations)
		}
	}
}

func TestPolicyRules(t *testing.T) {
	tests := []struct {
		name      string
		password  string
		violation string
	}{
		{"too long", "Aa1!" + strings.Repeat("xy", 63), "password must be between 8 and 128 characters"},
		{"no lowercase", "ABCDEFG1!", ViolationLowercase},
		{"no uppercase", "abcdefg1!", ViolationUppercase},
		{"no digit", "Abcdefgh!", ViolationDigit},
		{"no symbol", "Abcdefgh1", ViolationSymbol},
		{"triple repeat", "Abccc1!xyz", ViolationRepeat},
		{"blocklisted", "MyPassWord1!", ViolationCommon},
		{"blocklisted digits", "Xy!123456z", ViolationCommon},
	}

	policy := DefaultPolicy()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := policy.Validate(tc.password)
			if res.Valid {
				t.Fatalf("expected %q to be rejected", tc.password)
			}
			if !slices.Contains(res.Violations, tc.violation) {
				t.Fatalf("expected violation %q, got %v", tc.violation, res.Violations)
			}
		})
	}
}

func TestPolicyCountsRunesNotBytes(t *testing.T) {
	// 8 runes, more than 8 bytes.
	res := DefaultPolicy().Validate("Ünï1!abé")
	if slices.Contains(res.Violations, "password must be between 8 and 128 characters") {
		t.Fatalf("unexpected length violation: %v", res.Violations)
	}
}

func TestPolicyDoubleRepeatAllowed(t *testing.T) {
	res := DefaultPolicy().Validate("Abcc1!xyzz")
	if !res.Valid {
		t.Fatalf("expected double repeat to pass, got %v", res.Violations)
	}
}
