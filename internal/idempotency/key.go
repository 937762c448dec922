package idempotency

import (
	"strings"
	"unicode"
)

// SanitizeKey maps key onto characters safe in a file name. Runs of other
// characters collapse to a single underscore.
func SanitizeKey(key string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.TrimSpace(key) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "default"
	}
	return out
}
