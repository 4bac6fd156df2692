package summarize

import (
	"strings"
	"unicode/utf8"
)

// Extract is the deterministic, dependency-free fallback: pick the longest
// sentences that fit the character budget, else the tail of the transcript
// (closings tend to carry the emotional weight). Non-empty input always
// yields non-empty output.
func Extract(transcript string, names []string) string {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return NoConversationMarker
	}

	if picked := longestSentences(transcript, fallbackCharBudget); picked != "" {
		return picked
	}
	return tailWords(transcript, names)
}

// longestSentences selects sentences by descending length, restores their
// original order, and joins as many as fit the budget.
func longestSentences(text string, budget int) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}

	type ranked struct {
		idx  int
		text string
	}
	byLength := make([]ranked, 0, len(sentences))
	for i, s := range sentences {
		byLength = append(byLength, ranked{i, s})
	}
	for i := 0; i < len(byLength); i++ {
		for j := i + 1; j < len(byLength); j++ {
			if len(byLength[j].text) > len(byLength[i].text) {
				byLength[i], byLength[j] = byLength[j], byLength[i]
			}
		}
	}

	used := 0
	keep := make(map[int]bool)
	for _, r := range byLength {
		if used+len(r.text) > budget && used > 0 {
			continue
		}
		if len(r.text) > budget && used == 0 {
			// Single oversized sentence: truncate rather than return nothing.
			return strings.TrimSpace(truncateRunes(r.text, budget)) + "…"
		}
		keep[r.idx] = true
		used += len(r.text) + 1
	}

	var out []string
	for i, s := range sentences {
		if keep[i] {
			out = append(out, s)
		}
	}
	return strings.TrimSpace(strings.Join(out, " "))
}

func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(cur.String()); len(s) > 1 {
				sentences = append(sentences, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); len(s) > 1 {
		sentences = append(sentences, s)
	}
	return sentences
}

// truncateRunes cuts text to at most max bytes without splitting a rune.
func truncateRunes(text string, max int) string {
	if len(text) <= max {
		return text
	}
	for max > 0 && !utf8.RuneStart(text[max]) {
		max--
	}
	return text[:max]
}

// tailWords falls back to the last ~25 words of the transcript.
func tailWords(transcript string, names []string) string {
	words := strings.Fields(transcript)
	const tail = 25
	if len(words) > tail {
		words = words[len(words)-tail:]
	}
	focus := strings.TrimSuffix(strings.Join(words, " "), ".")

	if len(names) > 0 {
		return "Had a conversation with " + joinNames(names) + " about: " + focus + "."
	}
	return focus + "."
}
