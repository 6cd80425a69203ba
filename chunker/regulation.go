package chunker

import (
	"regexp"
	"strings"

	"github.com/zaozao66/audit-rag/parser"
)

// regulationMarker detects the CJK legislative hierarchy this mode
// splits on: 第X章 (chapter), 第X节 (section), 第X条 (article).
var regulationMarker = regexp.MustCompile(`第[一二三四五六七八九十百千0-9]+[章节条]`)

var (
	chapterRe = regexp.MustCompile(`^第[一二三四五六七八九十百千0-9]+章`)
	sectionRe = regexp.MustCompile(`^第[一二三四五六七八九十百千0-9]+节`)
	articleRe = regexp.MustCompile(`^第[一二三四五六七八九十百千0-9]+条`)
	subEnumRe = regexp.MustCompile(`^（[一二三四五六七八九十]+）|^\d+\.`)
)

// chunkRegulation splits on chapter/section/article markers, keeping
// sub-enumerations attached to their parent article (spec.md §4.B,
// grounded on chunker/legal.go's numbered-clause splitter generalized
// from Arabic dotted numbering to the CJK legislative hierarchy).
func chunkRegulation(blocks []parser.Block, size, overlap int) []Chunk {
	var text strings.Builder
	pageOf := make(map[int]int) // byte offset -> page number, nearest preceding block
	var order []int

	for _, b := range blocks {
		order = append(order, text.Len())
		pageOf[text.Len()] = b.PageNumber
		text.WriteString(b.Text)
		text.WriteString("\n")
	}
	full := text.String()

	type boundary struct {
		offset int
		path   []string
	}

	var boundaries []boundary
	var chapter, section string
	lines := strings.Split(full, "\n")
	offset := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case chapterRe.MatchString(trimmed):
			chapter = trimmed
			section = ""
			boundaries = append(boundaries, boundary{offset: offset, path: []string{chapter}})
		case sectionRe.MatchString(trimmed):
			section = trimmed
			path := []string{}
			if chapter != "" {
				path = append(path, chapter)
			}
			path = append(path, section)
			boundaries = append(boundaries, boundary{offset: offset, path: path})
		case articleRe.MatchString(trimmed):
			path := []string{}
			if chapter != "" {
				path = append(path, chapter)
			}
			if section != "" {
				path = append(path, section)
			}
			boundaries = append(boundaries, boundary{offset: offset, path: path})
		}
		offset += len(line) + 1
	}

	if len(boundaries) == 0 {
		return chunkDefault(blocks, size, overlap)
	}

	var chunks []Chunk
	for i, b := range boundaries {
		end := len(full)
		if i+1 < len(boundaries) {
			end = boundaries[i+1].offset
		}
		segment := strings.TrimSpace(full[b.offset:end])
		if segment == "" {
			continue
		}
		// Sub-enumerations (（一）, 1.) stay inside this article's segment
		// because the next boundary only fires on chapter/section/article
		// markers, never on sub-enumeration markers.
		boundary := "article"
		if articleRe.FindString(segment) == "" {
			if sectionRe.FindString(segment) != "" {
				boundary = "section"
			} else if chapterRe.FindString(segment) != "" {
				boundary = "section"
			}
		}

		for _, frag := range splitOversized(segment, size, overlap) {
			chunks = append(chunks, Chunk{
				Text:             frag,
				Header:           headerOf(frag),
				SectionPath:      append([]string{}, b.path...),
				SemanticBoundary: boundary,
				PageNumbers:      []int{pageAtOffset(pageOf, order, b.offset)},
			})
		}
	}
	return chunks
}

func pageAtOffset(pageOf map[int]int, order []int, offset int) int {
	best := 1
	for _, o := range order {
		if o <= offset {
			if p, ok := pageOf[o]; ok && p > 0 {
				best = p
			}
		}
	}
	return best
}

// splitOversized further splits a segment exceeding 2*size characters
// at the nearest sentence terminator within a lookback window, so no
// chunk exceeds the invariant bound.
func splitOversized(text string, size, overlap int) []string {
	max := 2 * size
	runes := []rune(text)
	if len(runes) <= max {
		return []string{text}
	}

	var out []string
	start := 0
	const lookback = 80
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			out = append(out, strings.TrimSpace(string(runes[start:])))
			break
		}
		cut := end
		for j := end; j > end-lookback && j > start; j-- {
			if isSentenceTerminator(runes[j-1]) {
				cut = j
				break
			}
		}
		out = append(out, strings.TrimSpace(string(runes[start:cut])))
		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return nonEmpty(out)
}

func isSentenceTerminator(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?':
		return true
	}
	return false
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
