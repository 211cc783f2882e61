package api

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// emailPattern is deliberately permissive; the mailbox is verified out
	// of band, this only rejects obviously malformed input.
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	// slugPattern: lowercase alphanumerics and single hyphens, 2-63 chars.
	slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
)

// NormalizeEmail lowercases and trims an email address. All store lookups
// and comparisons use the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that the email is plausibly well-formed.
// Returns an *Error with code INVALID_CREDENTIALS on failure so the
// response never reveals whether the address exists.
func ValidateEmail(email string) *Error {
	if !emailPattern.MatchString(NormalizeEmail(email)) {
		return NewError(CodeInvalidCredentials, "invalid email or password")
	}
	return nil
}

// ValidateSlug checks that a tenant slug is well-formed.
func ValidateSlug(slug string) error {
	if len(slug) < 2 {
		return fmt.Errorf("slug must be at least 2 characters")
	}
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("slug %q must contain only lowercase letters, digits, and hyphens", slug)
	}
	if strings.Contains(slug, "--") {
		return fmt.Errorf("slug %q must not contain consecutive hyphens", slug)
	}
	return nil
}
