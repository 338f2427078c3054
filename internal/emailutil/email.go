package emailutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize trims whitespace, applies Unicode NFC and folds case so that
// visually identical addresses compare equal.
func Normalize(email string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(email)))
}

// ExtractDomain extracts domain from email address
func ExtractDomain(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// HasDomain reports whether the normalized email ends with "@"+domain.
// The domain may be given with or without the leading "@".
func HasDomain(email, domain string) bool {
	domain = strings.TrimPrefix(Normalize(domain), "@")
	if domain == "" {
		return false
	}
	return strings.HasSuffix(Normalize(email), "@"+domain)
}
