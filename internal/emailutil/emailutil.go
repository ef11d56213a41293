package emailutil

import "strings"

// Normalize normalizes an email address for consistent comparison
// by converting to lowercase and trimming whitespace
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LocalPart extracts the part before the @ sign.
// Values without an @ are returned unchanged, which lets callers pass
// provider usernames that are not email-shaped.
func LocalPart(address string) string {
	if i := strings.Index(address, "@"); i >= 0 {
		return address[:i]
	}
	return address
}
