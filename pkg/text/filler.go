package text

import (
	"regexp"
	"strings"
)

// fillerWordSet is removed as whole-word tokens (including their own
// trailing punctuation), case-insensitive.
var fillerWordSet = map[string]bool{
	"uh": true, "um": true, "uhm": true, "umm": true, "uhh": true, "ah": true,
	"eh": true, "hmm": true, "hm": true, "mmm": true, "mm": true, "ha": true, "ehh": true,
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// shortWordPattern matches short (<=4 char) alphabetic words, the
// candidates for stutter-run collapsing.
var shortWordPattern = regexp.MustCompile(`^[a-zA-Z]{1,4}$`)

// FilterTranscriptionOutput removes filler words, collapses stutter runs,
// normalizes whitespace, and re-checks the result for hallucination. It is
// idempotent: FilterTranscriptionOutput(x) == FilterTranscriptionOutput(FilterTranscriptionOutput(x)).
func FilterTranscriptionOutput(s string) string {
	if IsHallucination(s) {
		return ""
	}

	cleaned := removeFillerWords(s)
	cleaned = collapseStutterRuns(cleaned)
	cleaned = whitespaceRun.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)

	if IsHallucination(cleaned) {
		return ""
	}
	return cleaned
}

// removeFillerWords drops whole tokens whose alphabetic core (trailing
// comma/period stripped) is a filler word, case-insensitive. Dropping the
// whole token removes its own trailing punctuation along with it, so
// "was, uh, thinking" collapses straight to "was, thinking" rather than
// leaving an orphaned comma behind.
func removeFillerWords(s string) string {
	words := strings.Fields(s)
	out := make([]string, 0, len(words))
	for _, w := range words {
		core := strings.ToLower(strings.TrimRight(w, ".,!?;:"))
		if fillerWordSet[core] {
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

// collapseStutterRuns collapses runs of 3+ consecutive identical short
// alphabetic words to a single occurrence.
func collapseStutterRuns(s string) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return s
	}

	out := make([]string, 0, len(words))
	i := 0
	for i < len(words) {
		j := i + 1
		for j < len(words) && strings.EqualFold(words[j], words[i]) {
			j++
		}
		run := j - i
		if run >= 3 && shortWordPattern.MatchString(words[i]) {
			out = append(out, words[i])
		} else {
			out = append(out, words[i:j]...)
		}
		i = j
	}
	return strings.Join(out, " ")
}
