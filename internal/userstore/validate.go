package userstore

import (
	"regexp"
	"strings"
)

var invalidIdentRe = regexp.MustCompile(`[^a-z0-9_\-.]+`)

// CleanIdentifier normalizes a raw username or group name: lowercase, colons
// become underscores (colon is the field separator on disk), and anything
// outside the identifier alphabet is stripped.
func CleanIdentifier(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, ":", "_")
	return invalidIdentRe.ReplaceAllString(s, "")
}
