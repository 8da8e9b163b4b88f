package util

import (
	"errors"
	"strings"
	"unicode"
)

const maxKeySegment = 128

// ErrInvalidKeySegment is returned for values that cannot be used as one
// object-store path segment.
var ErrInvalidKeySegment = errors.New("invalid key segment")

// KeySegment turns a caller-supplied id into a single object-store path
// segment. Separators and whitespace become underscores, control characters
// are dropped and traversal patterns are rejected.
func KeySegment(value string) (string, error) {
	if strings.Contains(value, "..") {
		return "", ErrInvalidKeySegment
	}
	var sb strings.Builder
	for _, r := range strings.TrimSpace(value) {
		switch {
		case r == '/' || r == '\\' || unicode.IsSpace(r):
			sb.WriteByte('_')
		case unicode.IsControl(r):
		default:
			sb.WriteRune(r)
		}
	}
	s := sb.String()
	if s == "" {
		return "", ErrInvalidKeySegment
	}
	if runes := []rune(s); len(runes) > maxKeySegment {
		s = string(runes[:maxKeySegment])
	}
	return s, nil
}
