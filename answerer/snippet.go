package answerer

import (
	"strings"
	"unicode"
)

// previewMaxLen bounds a citation preview's length.
const previewMaxLen = 200

// preview returns the 1-2 sentences of text most relevant to
// answerWords, falling back to a plain truncation when nothing
// overlaps or answerWords is empty.
func preview(text string, answerWords map[string]bool) string {
	if text == "" {
		return ""
	}
	if len(answerWords) == 0 {
		return truncate(text, previewMaxLen)
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return truncate(text, previewMaxLen)
	}

	type scored struct {
		text  string
		score int
	}
	scoredSentences := make([]scored, len(sentences))
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		overlap := 0
		for w := range significantWords(s) {
			if answerWords[w] {
				overlap++
			}
		}
		scoredSentences[i] = scored{text: s, score: overlap}
		if overlap > bestScore {
			bestScore = overlap
			bestIdx = i
		}
	}
	if bestScore <= 0 {
		return truncate(text, previewMaxLen)
	}

	result := scoredSentences[bestIdx].text
	if len(result) < previewMaxLen && len(scoredSentences) > 1 {
		candidateIdx, candidateScore := -1, 0
		for _, delta := range []int{1, -1} {
			adj := bestIdx + delta
			if adj >= 0 && adj < len(scoredSentences) && scoredSentences[adj].score > candidateScore {
				candidateScore = scoredSentences[adj].score
				candidateIdx = adj
			}
		}
		if candidateIdx >= 0 && candidateScore > 0 {
			combined := result + " " + scoredSentences[candidateIdx].text
			if candidateIdx < bestIdx {
				combined = scoredSentences[candidateIdx].text + " " + result
			}
			if len(combined) <= previewMaxLen {
				result = combined
			}
		}
	}
	return truncate(result, previewMaxLen)
}

// significantWords breaks text into a comparison token set: CJK
// characters compare one rune at a time (there is no whitespace
// between Chinese words), while Latin/digit runs compare as whole
// words >= 4 characters, excluding common English stop words.
func significantWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, field := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if hasCJK(field) {
			for _, r := range field {
				words[string(r)] = true
			}
			continue
		}
		lower := strings.ToLower(field)
		if len(lower) >= 4 && !previewStopWords[lower] {
			words[lower] = true
		}
	}
	return words
}

func hasCJK(s string) bool {
	for _, r := range s {
		if r >= 0x4e00 && r <= 0x9fff {
			return true
		}
	}
	return false
}

func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		r := runes[i]
		boundaryNeedsWhitespace := r == '.' || r == '?' || r == '!'
		atBoundary := isSentenceEnd(r) && (!boundaryNeedsWhitespace ||
			i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t')
		if atBoundary {
			s := strings.TrimSpace(cur.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '?', '!', '。', '！', '？':
		return true
	default:
		return false
	}
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

var previewStopWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true,
	"have": true, "been": true, "were": true, "they": true,
	"their": true, "will": true, "would": true, "could": true,
	"should": true, "about": true, "which": true, "there": true,
	"these": true, "those": true, "then": true, "than": true,
	"them": true, "what": true, "when": true, "where": true,
	"your": true, "more": true, "some": true, "such": true,
	"only": true, "also": true, "very": true, "just": true,
	"into": true, "over": true, "each": true, "does": true,
	"most": true, "after": true, "before": true, "other": true,
	"being": true, "same": true, "both": true, "between": true,
}
