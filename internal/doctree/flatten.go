package doctree

import "strings"

// Flatten renders a node tree as linear text with markdown-like markers.
// Nil nodes and unknown node kinds contribute nothing.
func Flatten(n Node) string {
	var sb strings.Builder
	writeNode(&sb, n)
	return sb.String()
}

// FlattenDocument renders every top-level element of doc in order.
func FlattenDocument(doc *Document) string {
	if doc == nil {
		return ""
	}
	var sb strings.Builder
	for _, n := range doc.Body {
		writeNode(&sb, n)
	}
	return sb.String()
}

func writeNode(sb *strings.Builder, n Node) {
	switch v := n.(type) {
	case *TextRun:
		if v != nil {
			sb.WriteString(v.Text)
		}
	case *Paragraph:
		if v != nil {
			writeParagraph(sb, v)
		}
	case *Table:
		if v != nil {
			writeTable(sb, v)
		}
	case *ListMarker:
		if v != nil {
			sb.WriteString(strings.Repeat("  ", max(v.Level, 0)))
			sb.WriteString("- ")
		}
	case *Container:
		if v != nil {
			for _, c := range v.Children {
				writeNode(sb, c)
			}
		}
	}
}

func writeParagraph(sb *strings.Builder, p *Paragraph) {
	var inner strings.Builder
	for _, c := range p.Children {
		writeNode(&inner, c)
	}
	// Heading markers win over bullet markers.
	switch {
	case p.HeadingLevel > 0:
		sb.WriteString(strings.Repeat("#", p.HeadingLevel))
		sb.WriteString(" ")
	case p.IsBullet:
		sb.WriteString("- ")
	}
	sb.WriteString(inner.String())
	sb.WriteString("\n")
}

func writeTable(sb *strings.Builder, t *Table) {
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			var cb strings.Builder
			for _, c := range cell {
				writeNode(&cb, c)
			}
			// Multi-paragraph cells stay on one row line.
			cells[i] = strings.ReplaceAll(strings.TrimSpace(cb.String()), "\n", " ")
		}
		sb.WriteString("| ")
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteString(" |\n")
	}
	sb.WriteString("\n")
}
