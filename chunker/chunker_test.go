package chunker

import (
	"strings"
	"testing"

	auditrag "github.com/zaozao66/audit-rag"
	"github.com/zaozao66/audit-rag/parser"
)

// ---------------------------------------------------------------------------
// Core chunker tests
// ---------------------------------------------------------------------------

func TestChunk_DefaultMode(t *testing.T) {
	c := New(auditrag.ChunkerOptions{Mode: auditrag.ChunkerModeDefault, Size: 40, Overlap: 8})
	blocks := []parser.Block{
		{Kind: parser.BlockHeading, Text: "Overview", Level: 1},
		{Kind: parser.BlockParagraph, Text: "This is the first paragraph of the document.", PageNumber: 1},
		{Kind: parser.BlockParagraph, Text: "This is a second, unrelated paragraph.", PageNumber: 1},
	}

	chunks, err := c.Chunk(blocks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for i, ch := range chunks {
		if ch.Ordinal != i {
			t.Errorf("chunk[%d].Ordinal = %d, want %d", i, ch.Ordinal, i)
		}
		if ch.CharCount != len([]rune(ch.Text)) {
			t.Errorf("chunk[%d].CharCount = %d, want %d", i, ch.CharCount, len([]rune(ch.Text)))
		}
	}
}

func TestChunk_EmptyDocumentRejected(t *testing.T) {
	c := New(auditrag.ChunkerOptions{Mode: auditrag.ChunkerModeDefault})
	_, err := c.Chunk(nil)
	if err == nil {
		t.Fatal("expected ChunkError for a document producing zero chunks")
	}
	if !auditrag.IsKind(err, auditrag.KindChunkError) {
		t.Errorf("expected KindChunkError, got %v", err)
	}
}

func TestChunk_NoChunkExceedsDoubleSize(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("一段没有任何标点符号可供换行的长文本片段用于测试上界约束 ")
	}
	c := New(auditrag.ChunkerOptions{Mode: auditrag.ChunkerModeDefault, Size: 100, Overlap: 10})
	blocks := []parser.Block{{Kind: parser.BlockParagraph, Text: sb.String(), PageNumber: 1}}

	chunks, err := c.Chunk(blocks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, ch := range chunks {
		if ch.CharCount > 200 {
			t.Errorf("chunk[%d] has %d chars, exceeds 2*size bound of 200", i, ch.CharCount)
		}
	}
}

// ---------------------------------------------------------------------------
// Smart-mode selection (Open Question i: audit_issue, regulation, audit_report, default)
// ---------------------------------------------------------------------------

func TestSelectSmartMode_AuditIssue(t *testing.T) {
	blocks := []parser.Block{
		{Kind: parser.BlockHeading, Text: "问题台账"},
		{Kind: parser.BlockTableRow, Text: "问题1\t描述1\t责任部门1"},
		{Kind: parser.BlockTableRow, Text: "问题2\t描述2\t责任部门2"},
	}
	if got := selectSmartMode(blocks); got != auditrag.ChunkerModeAuditIssue {
		t.Errorf("selectSmartMode = %q, want audit_issue", got)
	}
}

func TestSelectSmartMode_Regulation(t *testing.T) {
	blocks := []parser.Block{
		{Kind: parser.BlockParagraph, Text: "第一章 总则"},
		{Kind: parser.BlockParagraph, Text: "第一条 为规范审计工作，制定本办法。"},
	}
	if got := selectSmartMode(blocks); got != auditrag.ChunkerModeRegulation {
		t.Errorf("selectSmartMode = %q, want regulation", got)
	}
}

func TestSelectSmartMode_AuditReport(t *testing.T) {
	blocks := []parser.Block{
		{Kind: parser.BlockParagraph, Text: "一、审计发现的主要问题"},
		{Kind: parser.BlockParagraph, Text: "（一）内部控制执行不到位"},
	}
	if got := selectSmartMode(blocks); got != auditrag.ChunkerModeAuditReport {
		t.Errorf("selectSmartMode = %q, want audit_report", got)
	}
}

func TestSelectSmartMode_DefaultFallback(t *testing.T) {
	blocks := []parser.Block{
		{Kind: parser.BlockParagraph, Text: "Plain narrative text with no structural markers at all."},
	}
	if got := selectSmartMode(blocks); got != auditrag.ChunkerModeDefault {
		t.Errorf("selectSmartMode = %q, want default", got)
	}
}

// ---------------------------------------------------------------------------
// Regulation mode (S1/S2/S3 style scenarios, spec.md §8)
// ---------------------------------------------------------------------------

func TestChunkRegulation_ArticleBoundaries(t *testing.T) {
	blocks := []parser.Block{
		{Kind: parser.BlockParagraph, Text: "第一章 总则\n第一条 为规范审计工作，制定本办法。\n第二条 本办法适用于所有下属单位。", PageNumber: 1},
	}
	chunks := chunkRegulation(blocks, 1200, 150)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 article chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c.SectionPath) == 0 {
			t.Error("expected non-empty section path carrying chapter ancestry")
		}
	}
}

func TestChunkRegulation_FallsBackToDefaultWithoutMarkers(t *testing.T) {
	blocks := []parser.Block{
		{Kind: parser.BlockParagraph, Text: "No CJK legislative markers appear anywhere in this text.", PageNumber: 1},
	}
	chunks := chunkRegulation(blocks, 200, 20)
	if len(chunks) == 0 {
		t.Fatal("expected fallback chunkDefault to still produce chunks")
	}
}

// ---------------------------------------------------------------------------
// Audit report mode
// ---------------------------------------------------------------------------

func TestChunkAuditReport_Hierarchy(t *testing.T) {
	blocks := []parser.Block{
		{Kind: parser.BlockParagraph, Text: "一、审计发现\n（一）内控问题\n1. 审批流程缺失\n二、审计建议", PageNumber: 1},
	}
	chunks := chunkAuditReport(blocks, 1200, 150)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 hierarchy chunks, got %d", len(chunks))
	}
}

// ---------------------------------------------------------------------------
// Audit issue mode
// ---------------------------------------------------------------------------

func TestChunkAuditIssue_OneChunkPerRow(t *testing.T) {
	blocks := []parser.Block{
		{Kind: parser.BlockHeading, Text: "问题台账"},
		{Kind: parser.BlockTableRow, Text: "问题1\t描述1\t责任部门1", PageNumber: 1},
		{Kind: parser.BlockTableRow, Text: "问题2\t描述2\t责任部门2", PageNumber: 1},
	}
	chunks := chunkAuditIssue(blocks)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 row chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if c.SemanticBoundary != "row" {
			t.Errorf("SemanticBoundary = %q, want row", c.SemanticBoundary)
		}
	}
}

func TestChunkAuditIssue_DropsNonRowBlocks(t *testing.T) {
	blocks := []parser.Block{
		{Kind: parser.BlockParagraph, Text: "preamble, not a row"},
		{Kind: parser.BlockTableRow, Text: "问题1\t描述1", PageNumber: 2},
	}
	chunks := chunkAuditIssue(blocks)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk (preamble dropped), got %d", len(chunks))
	}
}

// ---------------------------------------------------------------------------
// Legal helper tests (retained from the teacher's clause/definition toolkit,
// reused by the graph builder's clause extractor)
// ---------------------------------------------------------------------------

func TestDetectClauseBoundaries(t *testing.T) {
	text := `Preamble text here.
1.1 First clause of the agreement.
Some continuation text.
1.2 Second clause of the agreement.
1.2.1 Subclause detail.`

	boundaries := DetectClauseBoundaries(text)
	if len(boundaries) < 3 {
		t.Fatalf("expected at least 3 clause boundaries, got %d", len(boundaries))
	}
}

func TestExtractDefinitions(t *testing.T) {
	text := `"Force Majeure" means any event beyond the reasonable control of the parties.
Regular text that is not a definition.
Liability: The obligation of a party to compensate for damages.`

	defs := ExtractDefinitions(text)
	if len(defs) < 2 {
		t.Fatalf("expected at least 2 definitions, got %d", len(defs))
	}
}

func TestDetectCrossReferences(t *testing.T) {
	text := "See clause 1.2.3 for details. Refer to section 4.5 and article IV."
	refs := DetectCrossReferences(text)
	if len(refs) < 3 {
		t.Fatalf("expected at least 3 cross-references, got %d", len(refs))
	}
}

// ---------------------------------------------------------------------------
// Structure / engineering helper tests (content classification reused by the
// graph builder's topic extractor)
// ---------------------------------------------------------------------------

func TestIsHeading(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"1. Introduction", true},
		{"INTRODUCTION", true},
		{"# Main Title", true},
		{"This is a normal sentence.", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsHeading(tt.line); got != tt.want {
			t.Errorf("IsHeading(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestDetectRequirements(t *testing.T) {
	text := `The system shall operate at temperatures from -40C to 85C.
The contractor must provide documentation.`
	reqs := DetectRequirements(text)
	if len(reqs) < 2 {
		t.Fatalf("expected at least 2 requirements, got %d", len(reqs))
	}
}

func TestDetectStandardsReferences(t *testing.T) {
	text := "The system complies with ISO 9001:2015 and IEEE 802.11."
	refs := DetectStandardsReferences(text)
	if len(refs) < 2 {
		t.Fatalf("expected at least 2 standards references, got %d", len(refs))
	}
}
