package query

import "strings"

// hasWildcards reports whether term contains an unmasked * or ?.
func hasWildcards(term string) bool {
	runes := []rune(term)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			i++
		case '*', '?':
			return true
		}
	}
	return false
}

// likePattern translates CQL masking (*, ?, backslash) into a LIKE pattern
// using backslash as the escape character.
func likePattern(term string) string {
	var b strings.Builder
	runes := []rune(term)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '\\':
			if i+1 < len(runes) {
				i++
				writeLikeLiteral(&b, runes[i])
			} else {
				writeLikeLiteral(&b, r)
			}
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		default:
			writeLikeLiteral(&b, r)
		}
	}
	return b.String()
}

func writeLikeLiteral(b *strings.Builder, r rune) {
	switch r {
	case '%', '_', '\\':
		b.WriteByte('\\')
	}
	b.WriteRune(r)
}

// unescape drops CQL backslash masking for exact comparisons.
func unescape(term string) string {
	if !strings.ContainsRune(term, '\\') {
		return term
	}
	var b strings.Builder
	runes := []rune(term)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\\' && i+1 < len(runes) {
			i++
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}
