package secrets

import "strings"

// Redact keeps only the edges of a matched value.
func Redact(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if len(v) <= 8 {
		return "REDACTED"
	}
	return v[:3] + "..." + v[len(v)-3:]
}

// looksOpaque reports whether v reads like a generated credential: long, no
// dots, and a mix of letters and digits from a base64-ish alphabet.
func looksOpaque(v string) bool {
	v = strings.TrimSpace(v)
	if len(v) < 32 || strings.Contains(v, ".") || strings.Count(v, "-") >= 4 {
		return false
	}
	hasLetter, hasDigit := false, false
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			hasLetter = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '_' || r == '-' || r == '=' || r == '/' || r == '+':
		default:
			return false
		}
	}
	return hasLetter && hasDigit
}
