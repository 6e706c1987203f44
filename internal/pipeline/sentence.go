package pipeline

import (
	"strings"
	"unicode"
)

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// splitSentences cuts a transcript at terminal punctuation followed by
// whitespace and a capital letter, or at end of string. Sentences missing
// terminal punctuation get a period appended. A non-empty transcript that
// yields no boundary comes back as one sentence.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		// Absorb a run of terminal punctuation.
		end := i
		for end+1 < len(runes) && isTerminal(runes[end+1]) {
			end++
		}
		next := end + 1
		for next < len(runes) && unicode.IsSpace(runes[next]) {
			next++
		}
		if next == len(runes) || (next > end+1 && unicode.IsUpper(runes[next])) {
			sentence := strings.TrimSpace(string(runes[start : end+1]))
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			start = next
			i = end
		}
	}

	if start < len(runes) {
		if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
			sentences = append(sentences, ensureTerminal(tail))
		}
	}
	if len(sentences) == 0 {
		return []string{ensureTerminal(text)}
	}
	return sentences
}

func ensureTerminal(sentence string) string {
	runes := []rune(sentence)
	if len(runes) > 0 && isTerminal(runes[len(runes)-1]) {
		return sentence
	}
	return sentence + "."
}
