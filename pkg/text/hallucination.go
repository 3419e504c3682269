// Package text implements the post-ASR cleanup stage: hallucination
// rejection, filler/stutter collapse, fuzzy custom-vocabulary correction,
// prefix-overlap trimming between consecutive chunks, and cross-channel
// duplicate detection. Word lists and thresholds are grounded on
// _examples/original_source/src-tauri/src/audio_toolkit/text.rs.
package text

import (
	"strings"
)

// greetings and acknowledgements are rejected outright when they are the
// entire (trimmed) utterance, across the languages the original source
// covers.
var greetings = map[string]bool{
	"thank you": true, "thanks": true, "hello": true, "hi": true, "okay": true, "ok": true,
	"gracias": true, "merci": true, "danke": true, "adios": true, "bye": true, "goodbye": true,
}

var acknowledgements = map[string]bool{
	"yes": true, "no": true, "yeah": true, "yep": true, "nope": true,
	"oh": true, "hmm": true, "hm": true, "mm": true, "uh-huh": true,
}

// IsHallucination reports whether text looks like ASR hallucination rather
// than a real utterance: too short, punctuation-only, a bare greeting or
// acknowledgement, a bracketed sound description, or excessive phrase
// repetition. It is stable under trimming and case (invariant 9):
// IsHallucination(x) == IsHallucination(trim(x)).
func IsHallucination(s string) bool {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 {
		return true
	}

	lower := strings.ToLower(trimmed)
	words := strings.Fields(lower)

	if len(words) == 1 && len(stripPunct(words[0])) < 3 {
		return true
	}

	if isOnlyPunctuation(trimmed) {
		return true
	}

	if len(words) <= 2 {
		normalized := stripPunct(lower)
		if greetings[normalized] || acknowledgements[normalized] {
			return true
		}
	}

	if isGreetingSpam(lower) {
		return true
	}

	if isBracketedSound(trimmed) {
		return true
	}

	if isRepetitive(words) {
		return true
	}

	return false
}

func stripPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return strings.ContainsRune(".,!?;:'\"-", r)
	})
}

func isOnlyPunctuation(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune(" .,!?;:'\"-…", r) {
			return false
		}
	}
	return true
}

// isGreetingSpam detects "thank you. thank you. thank you." style repeated
// greeting/acknowledgement phrases: 2 or more repetitions of the same
// greeting phrase, case-insensitive.
func isGreetingSpam(lower string) bool {
	parts := splitSentences(lower)
	if len(parts) < 2 {
		return false
	}
	count := map[string]int{}
	for _, p := range parts {
		p = stripPunct(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if greetings[p] || acknowledgements[p] {
			count[p]++
		}
	}
	for _, c := range count {
		if c >= 2 {
			return true
		}
	}
	return false
}

func splitSentences(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
}

func isBracketedSound(s string) bool {
	trimmed := strings.TrimSpace(s)
	return (strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) ||
		(strings.HasPrefix(trimmed, "(") && strings.HasSuffix(trimmed, ")"))
}

// isRepetitive rejects text where, for some phrase length 2..=4, three or
// more consecutive identical phrases occupy at least half of all words.
func isRepetitive(words []string) bool {
	n := len(words)
	if n < 6 {
		return false
	}
	for phraseLen := 2; phraseLen <= 4; phraseLen++ {
		if n < phraseLen*3 {
			continue
		}
		covered := 0
		i := 0
		for i+phraseLen*3 <= n {
			p1 := strings.Join(words[i:i+phraseLen], " ")
			p2 := strings.Join(words[i+phraseLen:i+2*phraseLen], " ")
			p3 := strings.Join(words[i+2*phraseLen:i+3*phraseLen], " ")
			if p1 == p2 && p2 == p3 {
				run := 3
				j := i + 3*phraseLen
				for j+phraseLen <= n && strings.Join(words[j:j+phraseLen], " ") == p1 {
					run++
					j += phraseLen
				}
				covered += run * phraseLen
				i = j
			} else {
				i++
			}
		}
		if covered*2 >= n {
			return true
		}
	}
	return false
}
