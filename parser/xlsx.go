package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser reads tabular audit-issue ledgers: one heading block per
// sheet, one table_row block per non-empty physical spreadsheet row after
// the first. The first row of each sheet (the column header row) is not
// emitted.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx", "xls"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var blocks []Block

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		blocks = append(blocks, Block{Text: sheet, Kind: BlockHeading, Level: 1, Heading: sheet})

		for _, row := range rows[1:] {
			rowText := strings.TrimSpace(strings.Join(row, "\t"))
			if rowText == "" {
				continue
			}
			blocks = append(blocks, Block{Text: rowText, Kind: BlockTableRow, Heading: sheet})
		}
	}

	if len(blocks) == 0 {
		return nil, fmt.Errorf("no data found in XLSX")
	}

	return &ParseResult{Blocks: blocks, Method: "native"}, nil
}
