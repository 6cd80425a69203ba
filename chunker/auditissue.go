package chunker

import (
	"strings"

	"github.com/zaozao66/audit-rag/parser"
)

// chunkAuditIssue treats each table_row block as one chunk, matching
// the audit-issue ledger contract in spec.md §4.B. Non-row blocks
// (sheet heading, preamble) are dropped — they carry no per-issue
// content and would otherwise orphan a structural chunk.
func chunkAuditIssue(blocks []parser.Block) []Chunk {
	var chunks []Chunk
	var lastHeading string
	for _, b := range blocks {
		if b.Kind == parser.BlockHeading {
			lastHeading = b.Text
			continue
		}
		if b.Kind != parser.BlockTableRow {
			continue
		}
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		header := b.Heading
		if header == "" {
			header = lastHeading
		}
		cells := strings.Split(text, "\t")
		rowLabel := text
		if len(cells) > 0 && strings.TrimSpace(cells[0]) != "" {
			rowLabel = strings.TrimSpace(cells[0])
		}
		path := []string{}
		if header != "" {
			path = append(path, header)
		}
		chunks = append(chunks, Chunk{
			Text:             text,
			Header:           rowLabel,
			SectionPath:      path,
			SemanticBoundary: "row",
			PageNumbers:      []int{firstPageOf(b)},
		})
	}
	return chunks
}

func firstPageOf(b parser.Block) int {
	if b.PageNumber > 0 {
		return b.PageNumber
	}
	return 1
}
