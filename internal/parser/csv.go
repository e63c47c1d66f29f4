package parser

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/dgallion1/docards/internal/doctree"
)

// CSVParser handles CSV files. The whole file becomes one table, header row
// first.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	doc := &doctree.Document{Title: baseTitle(filename)}
	if len(records) == 0 {
		return doc, nil
	}

	table := &doctree.Table{Rows: make([][][]doctree.Node, 0, len(records))}
	for _, rec := range records {
		cells := make([][]doctree.Node, len(rec))
		for i, field := range rec {
			cells[i] = []doctree.Node{doctree.Text(field)}
		}
		table.Rows = append(table.Rows, cells)
	}
	doc.Body = []doctree.Node{table}
	return doc, nil
}
