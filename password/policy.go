package password

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultSymbols is the punctuation set that satisfies the symbol rule.
const DefaultSymbols = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?~`"

// DefaultBlocklist holds trivial sequences rejected as case-insensitive
// substrings.
var DefaultBlocklist = []string{
	"123456",
	"qwerty",
	"password",
	"admin",
	"letmein",
	"welcome",
	"abc123",
	"111111",
}

// Violation messages reported by Policy.Validate.
const (
	ViolationLength    = "password must be between %d and %d characters"
	ViolationLowercase = "password must contain a lowercase letter"
	ViolationUppercase = "password must contain an uppercase letter"
	ViolationDigit     = "password must contain a digit"
	ViolationSymbol    = "password must contain a symbol"
	ViolationRepeat    = "password must not repeat a character 3 or more times in a row"
	ViolationCommon    = "password must not contain common sequences"
)

// Policy is the password strength policy. The zero value is not usable;
// start from DefaultPolicy.
type Policy struct {
	MinLength int
	MaxLength int
	Symbols   string
	MaxRepeat int
	Blocklist []string
}

// Result is the outcome of a strength check. Violations is empty, not nil,
// when Valid is true.
type Result struct {
	Valid      bool
	Violations []string
}

// DefaultPolicy returns the policy enforced by the engine: 8 to 128
// characters, mixed case, digit, symbol, no triple repeats, no trivial
// sequences.
func DefaultPolicy() Policy {
	blocklist := make([]string, len(DefaultBlocklist))
	copy(blocklist, DefaultBlocklist)
	return Policy{
		MinLength: 8,
		MaxLength: 128,
		Symbols:   DefaultSymbols,
		MaxRepeat: 2,
		Blocklist: blocklist,
	}
}

// Validate checks every rule independently so multiple violations are
// reported together. It has no side effects.
func (p Policy) Validate(password string) Result {
	violations := make([]string, 0, 2)

	n := utf8.RuneCountInString(password)
	if n < p.MinLength || n > p.MaxLength {
		violations = append(violations, formatLength(p.MinLength, p.MaxLength))
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
		if strings.ContainsRune(p.Symbols, r) {
			symbol = true
		}
	}
	if !lower {
		violations = append(violations, ViolationLowercase)
	}
	if !upper {
		violations = append(violations, ViolationUppercase)
	}
	if !digit {
		violations = append(violations, ViolationDigit)
	}
	if !symbol {
		violations = append(violations, ViolationSymbol)
	}
	if p.MaxRepeat > 0 && longestRun(password) > p.MaxRepeat {
		violations = append(violations, ViolationRepeat)
	}
	if containsBlocked(password, p.Blocklist) {
		violations = append(violations, ViolationCommon)
	}

	return Result{
		Valid:      len(violations) == 0,
		Violations: violations,
	}
}

func longestRun(s string) int {
	var (
		prev    rune
		run     int
		longest int
	)
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		prev = r
	}
	return longest
}

func containsBlocked(password string, blocklist []string) bool {
	lowered := strings.ToLower(password)
	for _, seq := range blocklist {
		if seq == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(seq)) {
			return true
		}
	}
	return false
}

func formatLength(min, max int) string {
	return fmt.Sprintf(ViolationLength, min, max)
}
