package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestTextParser_ParagraphGroups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "regs.txt")
	if err := os.WriteFile(path, []byte("第一条 A内容。\n\n第二条 B内容。\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &TextParser{}
	res, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Blocks) != 2 {
		t.Fatalf("got %d blocks, want 2: %+v", len(res.Blocks), res.Blocks)
	}
	for _, b := range res.Blocks {
		if b.Kind != BlockParagraph {
			t.Errorf("block kind = %s, want paragraph", b.Kind)
		}
	}
}

func TestTextParser_Empty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	os.WriteFile(path, []byte("   \n\n  "), 0o644)

	p := &TextParser{}
	res, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Blocks) != 0 {
		t.Fatalf("expected no blocks, got %d", len(res.Blocks))
	}
}

func TestTableRowBlocks_AggregatesWrappedLines(t *testing.T) {
	content := "col1\tcol2\tcol3\ncontinuation of col3\nrowB1\trowB2\trowB3"
	blocks := tableRowBlocks(content, 1, "Sheet1")
	if len(blocks) != 2 {
		t.Fatalf("got %d rows, want 2: %+v", len(blocks), blocks)
	}
	if blocks[0].Kind != BlockTableRow {
		t.Errorf("kind = %s, want table_row", blocks[0].Kind)
	}
}

func TestIsLikelyHeading(t *testing.T) {
	cases := map[string]bool{
		"ARTICLE OVERVIEW":    true,
		"第一章 总则":             true,
		"1.2 Scope":           true,
		"the rain in spain":   false,
	}
	for in, want := range cases {
		if got := isLikelyHeading(in); got != want {
			t.Errorf("isLikelyHeading(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRegistry_GetUnknownFormat(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("pptx"); err == nil {
		t.Fatal("expected error for unregistered format")
	}
	if _, err := r.Get("pdf"); err != nil {
		t.Fatalf("expected pdf parser registered: %v", err)
	}
}
