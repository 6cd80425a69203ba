package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TextParser handles plain text (.txt) files.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt"} }

// Parse yields one paragraph block per non-empty line group, splitting
// on blank lines (spec.md §4.A).
func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	if strings.TrimSpace(content) == "" {
		return &ParseResult{Method: "native"}, nil
	}

	var blocks []Block
	for _, group := range strings.Split(content, "\n\n") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		blocks = append(blocks, Block{Text: group, PageNumber: 1, Kind: BlockParagraph})
	}

	return &ParseResult{Blocks: blocks, Method: "native"}, nil
}
