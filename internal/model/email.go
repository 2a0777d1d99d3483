package model

import (
	"regexp"
	"strings"
)

var emailSyntax = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?)*\.[a-z]{2,}$`)

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmailSyntax reports whether s is a syntactically valid address.
func ValidEmailSyntax(s string) bool {
	s = NormalizeEmail(s)
	if len(s) > 254 || strings.Contains(s, "..") {
		return false
	}
	return emailSyntax.MatchString(s)
}

// EmailDomain returns the lowercased domain part of an address.
func EmailDomain(s string) string {
	s = NormalizeEmail(s)
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		return s[i+1:]
	}
	return ""
}
