package chunker

import (
	"regexp"
	"strings"

	"github.com/zaozao66/audit-rag/parser"
)

// auditReportMarker detects the numbered-list hierarchy this mode
// splits on: 一、二、三、(top), （一）（二）(sub), 1. 2. 3. (leaf).
var auditReportMarker = regexp.MustCompile(`^[一二三四五六七八九十]+、|^（[一二三四五六七八九十]+）|^\d+\.\s`)

var (
	topRe  = regexp.MustCompile(`^[一二三四五六七八九十]+、`)
	subRe  = regexp.MustCompile(`^（[一二三四五六七八九十]+）`)
	leafRe = regexp.MustCompile(`^\d+\.\s`)
)

// chunkAuditReport splits on the 一、/（一）/1. hierarchy, attaching each
// boundary's path the same way chunkRegulation attaches chapter/section
// ancestry (spec.md §4.B).
func chunkAuditReport(blocks []parser.Block, size, overlap int) []Chunk {
	var text strings.Builder
	var pages []int
	for _, b := range blocks {
		pages = append(pages, b.PageNumber)
		text.WriteString(b.Text)
		text.WriteString("\n")
	}
	full := text.String()

	type boundary struct {
		offset int
		path   []string
	}

	var boundaries []boundary
	var top, sub string
	lines := strings.Split(full, "\n")
	offset := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case topRe.MatchString(trimmed):
			top = trimmed
			sub = ""
			boundaries = append(boundaries, boundary{offset: offset, path: []string{top}})
		case subRe.MatchString(trimmed):
			sub = trimmed
			path := []string{}
			if top != "" {
				path = append(path, top)
			}
			path = append(path, sub)
			boundaries = append(boundaries, boundary{offset: offset, path: path})
		case leafRe.MatchString(trimmed):
			path := []string{}
			if top != "" {
				path = append(path, top)
			}
			if sub != "" {
				path = append(path, sub)
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
		boundary := "paragraph"
		if leafRe.MatchString(segment) {
			boundary = "paragraph"
		} else if subRe.MatchString(segment) || topRe.MatchString(segment) {
			boundary = "section"
		}
		for _, frag := range splitOversized(segment, size, overlap) {
			chunks = append(chunks, Chunk{
				Text:             frag,
				Header:           headerOf(frag),
				SectionPath:      append([]string{}, b.path...),
				SemanticBoundary: boundary,
				PageNumbers:      []int{firstPage(pages)},
			})
		}
	}
	return chunks
}

func firstPage(pages []int) int {
	for _, p := range pages {
		if p > 0 {
			return p
		}
	}
	return 1
}
