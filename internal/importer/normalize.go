package importer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// stripDiacritics removes combining marks, turning "Beyoncé" into "Beyonce".
// Falls back to the input when transformation fails.
func stripDiacritics(s string) string {
	out, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		return s
	}
	return out
}

// stripParenthetical removes a trailing parenthesized or bracketed qualifier
// such as "(Remastered 2011)" or "[Live]". Only trailing qualifiers are
// touched; parentheses elsewhere in the name stay.
func stripParenthetical(s string) string {
	trimmed := strings.TrimRight(s, " ")
	for {
		cut := trimTrailingGroup(trimmed, '(', ')')
		if cut == trimmed {
			cut = trimTrailingGroup(trimmed, '[', ']')
		}
		if cut == trimmed {
			return trimmed
		}
		trimmed = strings.TrimRight(cut, " ")
	}
}

func trimTrailingGroup(s string, open, close rune) string {
	if !strings.HasSuffix(s, string(close)) {
		return s
	}
	depth := 0
	for i := len(s) - 1; i >= 0; i-- {
		switch rune(s[i]) {
		case close:
			depth++
		case open:
			depth--
			if depth == 0 {
				return s[:i]
			}
		}
	}
	return s
}
