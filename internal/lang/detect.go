package lang

import (
	"strings"
	"unicode"
)

// Detect resolves the language of a message. An explicit hint always wins.
// Otherwise a Unicode-script scan classifies the dominant script; mixed or
// unrecognizable input is ambiguous and defaults to the session's last known
// language, then to English. The result is metadata only: both native and
// canonical rule tables run regardless of detection confidence.
func Detect(text, hint, lastKnown string) (language string, ambiguous bool) {
	if hint != "" {
		return strings.ToLower(hint), false
	}

	counts := map[string]int{}
	letters := 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		switch {
		case unicode.Is(unicode.Latin, r):
			counts["en"]++
		case unicode.Is(unicode.Devanagari, r):
			counts["hi"]++
		case unicode.Is(unicode.Arabic, r):
			counts["fa"]++
		case unicode.Is(unicode.Han, r):
			counts["zh"]++
		case unicode.Is(unicode.Cyrillic, r):
			counts["ru"]++
		}
	}
	if letters == 0 {
		return fallback(lastKnown), true
	}

	best, bestCount := "", 0
	for l, c := range counts {
		if c > bestCount {
			best, bestCount = l, c
		}
	}
	// Require a two-thirds majority; code-switched input is ambiguous.
	if best == "" || bestCount*3 < letters*2 {
		return fallback(lastKnown), true
	}
	return best, false
}

func fallback(lastKnown string) string {
	if lastKnown != "" {
		return lastKnown
	}
	return Canonical
}
