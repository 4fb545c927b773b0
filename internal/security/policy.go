package security

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// PasswordPolicy lists the rules a new password must satisfy. Each character-class
// requirement is toggled independently.
type PasswordPolicy struct {
	MinLength        int
	MaxLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RequireSpecial   bool
}

// DefaultPasswordPolicy returns min 8, max 128, upper/lower/digit required, special optional.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		MaxLength:        128,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
	}
}

// PolicyResult is the outcome of ValidatePolicy. Errors holds every violated rule.
type PolicyResult struct {
	Valid  bool
	Errors []string
}

// ValidatePolicy checks password against p and reports all violations, not only the first.
// Length is counted in runes.
func ValidatePolicy(password string, p PasswordPolicy) PolicyResult {
	var errs []string
	n := utf8.RuneCountInString(password)
	if p.MinLength > 0 && n < p.MinLength {
		errs = append(errs, fmt.Sprintf("password must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		errs = append(errs, fmt.Sprintf("password must be at most %d characters", p.MaxLength))
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if p.RequireUppercase && !upper {
		errs = append(errs, "password must contain an uppercase letter")
	}
	if p.RequireLowercase && !lower {
		errs = append(errs, "password must contain a lowercase letter")
	}
	if p.RequireDigit && !digit {
		errs = append(errs, "password must contain a digit")
	}
	if p.RequireSpecial && !special {
		errs = append(errs, "password must contain a special character")
	}
	return PolicyResult{Valid: len(errs) == 0, Errors: errs}
}
