// Package chunker splits parsed document blocks into semantically
// coherent chunks with structural metadata (spec.md §4.B).
package chunker

import (
	"strings"

	auditrag "github.com/zaozao66/audit-rag"
	"github.com/zaozao66/audit-rag/parser"
)

// Chunk is the chunker's output unit.
type Chunk struct {
	Text             string
	CharCount        int
	PageNumbers      []int
	Header           string
	SectionPath      []string
	SemanticBoundary string // article | section | paragraph | row | generic
	Ordinal          int
}

const (
	defaultSize    = 1200
	defaultOverlap = 150
)

// Chunker converts parser blocks into chunks per a ChunkerOptions mode.
type Chunker struct {
	opts auditrag.ChunkerOptions
}

// New returns a Chunker; zero-value Size/Overlap fall back to defaults.
func New(opts auditrag.ChunkerOptions) *Chunker {
	if opts.Size == 0 {
		opts.Size = defaultSize
	}
	if opts.Overlap == 0 {
		opts.Overlap = defaultOverlap
	}
	if opts.Mode == "" {
		opts.Mode = auditrag.ChunkerModeSmart
	}
	return &Chunker{opts: opts}
}

// Chunk dispatches to the selected (or auto-selected) mode and enforces
// the zero-chunk-document rejection decided in Open Question (iii).
func (c *Chunker) Chunk(blocks []parser.Block) ([]Chunk, error) {
	mode := c.opts.Mode
	if mode == auditrag.ChunkerModeSmart {
		mode = selectSmartMode(blocks)
	}

	var chunks []Chunk
	switch mode {
	case auditrag.ChunkerModeAuditIssue:
		chunks = chunkAuditIssue(blocks)
	case auditrag.ChunkerModeRegulation:
		chunks = chunkRegulation(blocks, c.opts.Size, c.opts.Overlap)
	case auditrag.ChunkerModeAuditReport:
		chunks = chunkAuditReport(blocks, c.opts.Size, c.opts.Overlap)
	default:
		chunks = chunkDefault(blocks, c.opts.Size, c.opts.Overlap)
	}

	chunks = mergeOrphanFragments(chunks, c.opts.Size)
	for i := range chunks {
		chunks[i].Ordinal = i
		chunks[i].CharCount = len([]rune(chunks[i].Text))
	}

	if len(chunks) == 0 {
		return nil, auditrag.NewChunkError("document", errEmptyDocument)
	}
	return chunks, nil
}

var errEmptyDocument = chunkErrEmpty{}

type chunkErrEmpty struct{}

func (chunkErrEmpty) Error() string { return "chunker produced zero chunks" }

// selectSmartMode scans a prefix of the block stream and returns the
// first matching heuristic in the fixed order decided in Open Question
// (i): {audit_issue, regulation, audit_report, default}.
func selectSmartMode(blocks []parser.Block) auditrag.ChunkerMode {
	const prefixBlocks = 20
	n := len(blocks)
	if n > prefixBlocks {
		n = prefixBlocks
	}
	prefix := blocks[:n]

	var prefixText strings.Builder
	tableRows := 0
	for _, b := range prefix {
		prefixText.WriteString(b.Text)
		prefixText.WriteString("\n")
		if b.Kind == parser.BlockTableRow {
			tableRows++
		}
	}
	text := prefixText.String()

	if tableRows >= 2 {
		return auditrag.ChunkerModeAuditIssue
	}
	if regulationMarker.MatchString(text) {
		return auditrag.ChunkerModeRegulation
	}
	if auditReportMarker.MatchString(text) {
		return auditrag.ChunkerModeAuditReport
	}
	return auditrag.ChunkerModeDefault
}

// mergeOrphanFragments merges a chunk shorter than size/4 forward into
// its successor to avoid orphan fragments at heading boundaries
// (spec.md §4.B tie-break rule).
func mergeOrphanFragments(chunks []Chunk, size int) []Chunk {
	threshold := size / 4
	if threshold <= 0 || len(chunks) < 2 {
		return chunks
	}

	out := make([]Chunk, 0, len(chunks))
	for i := 0; i < len(chunks); i++ {
		cur := chunks[i]
		if len([]rune(cur.Text)) < threshold && i+1 < len(chunks) &&
			sameSemanticFamily(cur, chunks[i+1]) {
			next := chunks[i+1]
			next.Text = cur.Text + "\n" + next.Text
			if next.Header == "" {
				next.Header = cur.Header
			}
			next.PageNumbers = mergePageNumbers(cur.PageNumbers, next.PageNumbers)
			if len(cur.SectionPath) > len(next.SectionPath) {
				next.SectionPath = cur.SectionPath
			}
			chunks[i+1] = next
			continue
		}
		out = append(out, cur)
	}
	return out
}

func sameSemanticFamily(a, b Chunk) bool {
	return a.SemanticBoundary == b.SemanticBoundary || a.SemanticBoundary == "generic" || b.SemanticBoundary == "generic"
}

func mergePageNumbers(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	var out []int
	for _, p := range append(append([]int{}, a...), b...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// headerOf returns the first line of text as a chunk header, prefixed
// with its clause number when ExtractClauseNumber recognizes one
// (IsHeading is consulted first so markdown/uppercase/Article-style
// headings are returned unchanged rather than re-split).
func headerOf(text string) string {
	lines := strings.SplitN(strings.TrimSpace(text), "\n", 2)
	if len(lines) == 0 {
		return ""
	}
	first := strings.TrimSpace(lines[0])
	if first == "" {
		return ""
	}
	if IsHeading(first) {
		return first
	}
	if num, ok := ExtractClauseNumber(first); ok {
		return num + " " + strings.TrimSpace(strings.TrimPrefix(first, num))
	}
	return first
}
