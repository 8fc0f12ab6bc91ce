package session

import "strings"

// HasWakePhrase reports whether phrase occurs in text, ignoring case and
// runs of whitespace.
func HasWakePhrase(text, phrase string) bool {
	p := normalize(phrase)
	if p == "" {
		return true
	}
	return strings.Contains(normalize(text), p)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
