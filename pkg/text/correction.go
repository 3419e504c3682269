package text

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// maxTokenLen and maxLenDelta bound which tokens are even considered for
// correction: anything longer than 50 chars or differing from every target
// by more than 5 chars cannot plausibly be a misheard version of it.
const (
	maxTokenLen = 50
	maxLenDelta = 5

	// phonetic boost: soundex-equivalent matches with a length ratio above
	// this are scored as if half as distant.
	soundexLengthRatio = 0.8
	soundexBoost       = 0.5
)

// CorrectCustomWords scans text token by token and replaces any token whose
// normalized Levenshtein distance to some word in words is strictly below
// threshold with that word, preserving the token's case pattern and any
// non-alphabetic prefix/suffix punctuation.
func CorrectCustomWords(s string, words []string, threshold float64) string {
	if len(words) == 0 || s == "" {
		return s
	}

	tokens := strings.Fields(s)
	for i, tok := range tokens {
		prefix, core, suffix := splitPunct(tok)
		if core == "" {
			continue
		}
		cleaned := strings.ToLower(core)
		if len(cleaned) > maxTokenLen {
			continue
		}

		best := ""
		bestScore := threshold
		for _, target := range words {
			targetLower := strings.ToLower(target)
			if absInt(len(cleaned)-len(targetLower)) > maxLenDelta {
				continue
			}
			score := normalizedLevenshtein(cleaned, targetLower)
			if soundexEquivalent(cleaned, targetLower) && lengthRatio(cleaned, targetLower) > soundexLengthRatio {
				score *= soundexBoost
			}
			if score < bestScore {
				bestScore = score
				best = target
			}
		}

		if best != "" {
			tokens[i] = prefix + matchCase(core, best) + suffix
		}
	}
	return strings.Join(tokens, " ")
}

func normalizedLevenshtein(a, b string) float64 {
	if a == "" && b == "" {
		return 0
	}
	dist, err := matchr.Levenshtein(a, b)
	if err != nil {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	return float64(dist) / float64(maxLen)
}

func soundexEquivalent(a, b string) bool {
	sa, errA := matchr.Soundex(a)
	sb, errB := matchr.Soundex(b)
	if errA != nil || errB != nil {
		return false
	}
	return sa == sb
}

func lengthRatio(a, b string) float64 {
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	if la > lb {
		return float64(lb) / float64(la)
	}
	return float64(la) / float64(lb)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// splitPunct separates a token into a leading non-alphabetic run, the
// alphabetic core, and a trailing non-alphabetic run.
func splitPunct(tok string) (prefix, core, suffix string) {
	runes := []rune(tok)
	start := 0
	for start < len(runes) && !unicode.IsLetter(runes[start]) {
		start++
	}
	end := len(runes)
	for end > start && !unicode.IsLetter(runes[end-1]) {
		end--
	}
	return string(runes[:start]), string(runes[start:end]), string(runes[end:])
}

// matchCase reapplies original's case pattern to replacement. Custom words
// are assumed to already carry their correct spelling (e.g. a proper noun
// like "Zephyra"), so the default is to use replacement exactly as given;
// the original's case only overrides that when it signals all-caps or
// title-case emphasis.
func matchCase(original, replacement string) string {
	if original == strings.ToUpper(original) && original != strings.ToLower(original) {
		return strings.ToUpper(replacement)
	}
	runes := []rune(original)
	replRunes := []rune(replacement)
	if len(runes) > 0 && unicode.IsUpper(runes[0]) && len(replRunes) > 0 && unicode.IsLower(replRunes[0]) {
		return strings.ToUpper(string(replRunes[0])) + string(replRunes[1:])
	}
	return replacement
}
