package spellbook

import "strings"

// Normalize lower-cases s, strips punctuation and apostrophes, and collapses
// runs of whitespace into single spaces. All rescorer comparisons operate on
// normalized text.
func Normalize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	lastSpace := true // swallow leading whitespace
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastSpace = false
		case r == '\'', r == '’':
			// Apostrophes vanish entirely: "dragon's" → "dragons".
		default:
			if !lastSpace {
				sb.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// PhoneticKey reduces normalized text to a coarse consonant skeleton:
// spaces are dropped, doubled letters collapse to one, and vowels after the
// first character disappear. Two words that sound alike tend to share a key
// even when the recognizer mangles their vowels ("stoo pe fy" and "stupefy"
// both reduce to "stpf").
func PhoneticKey(normalized string) string {
	compact := strings.ReplaceAll(normalized, " ", "")
	if compact == "" {
		return ""
	}

	var sb strings.Builder
	sb.Grow(len(compact))

	var prev rune
	for i, r := range compact {
		if r == prev {
			continue // collapse doubled letters
		}
		prev = r
		if i > 0 && isVowel(r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'y':
		return true
	}
	return false
}
