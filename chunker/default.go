package chunker

import (
	"strings"

	"github.com/zaozao66/audit-rag/parser"
)

// chunkDefault groups blocks into semantic paragraphs bounded by size
// characters with overlap characters of trailing context carried
// forward, tracking a heading stack for section_path (spec.md §4.B,
// grounded on chunker/chunker.go's splitContent/splitBySentences
// paragraph-then-sentence backoff, generalized from token counts to
// character counts per the spec's chunk_size unit).
func chunkDefault(blocks []parser.Block, size, overlap int) []Chunk {
	var chunks []Chunk
	var headingStack []string
	var cur strings.Builder
	var curPages []int
	var curHeader string

	flush := func() {
		text := strings.TrimSpace(cur.String())
		if text == "" {
			cur.Reset()
			curPages = nil
			curHeader = ""
			return
		}
		chunks = append(chunks, Chunk{
			Text:             text,
			Header:           curHeader,
			SectionPath:      append([]string{}, headingStack...),
			SemanticBoundary: "paragraph",
			PageNumbers:      append([]int{}, curPages...),
		})
		overlapText := extractOverlapChars(text, overlap)
		cur.Reset()
		cur.WriteString(overlapText)
		curPages = nil
		curHeader = ""
	}

	for _, b := range blocks {
		if b.Kind == parser.BlockHeading {
			flush()
			headingStack = pushHeading(headingStack, b.Level, b.Text)
			continue
		}

		paragraphs := splitParagraphs(b.Text)
		for _, para := range paragraphs {
			if curHeader == "" {
				curHeader = headerOf(para)
			}
			if runeLen(cur.String())+runeLen(para) > size && cur.Len() > 0 {
				flush()
				if curHeader == "" {
					curHeader = headerOf(para)
				}
			}
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(para)
			curPages = append(curPages, b.PageNumber)

			if runeLen(para) > size {
				// a single paragraph exceeds size: flush immediately and
				// split it by sentence backoff rather than let it grow
				// past 2*size unbounded.
				flush()
			}
		}
	}
	flush()

	// Back off any oversized chunk at a sentence boundary.
	var out []Chunk
	for _, c := range chunks {
		if runeLen(c.Text) <= 2*size {
			out = append(out, c)
			continue
		}
		for _, frag := range splitOversized(c.Text, size, overlap) {
			cc := c
			cc.Text = frag
			cc.Header = headerOf(frag)
			out = append(out, cc)
		}
	}
	return out
}

func pushHeading(stack []string, level int, text string) []string {
	if level <= 0 {
		level = len(stack) + 1
	}
	if level > len(stack) {
		return append(stack, text)
	}
	next := append([]string{}, stack[:level-1]...)
	return append(next, text)
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return out
	}
	return out
}

func runeLen(s string) int { return len([]rune(s)) }

func extractOverlapChars(text string, overlap int) string {
	runes := []rune(text)
	if overlap <= 0 || overlap >= len(runes) {
		if overlap >= len(runes) {
			return text
		}
		return ""
	}
	return string(runes[len(runes)-overlap:])
}
