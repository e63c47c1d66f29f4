package gdocs

import (
	"strconv"
	"strings"

	"github.com/dgallion1/docards/internal/doctree"
)

// The subset of the documents API resource that contributes text.
type apiDocument struct {
	Title string `json:"title"`
	Body  struct {
		Content []structuralElement `json:"content"`
	} `json:"body"`
}

type structuralElement struct {
	Paragraph       *apiParagraph       `json:"paragraph,omitempty"`
	Table           *apiTable           `json:"table,omitempty"`
	TableOfContents *apiTableOfContents `json:"tableOfContents,omitempty"`
}

type apiParagraph struct {
	Elements []struct {
		TextRun *struct {
			Content string `json:"content"`
		} `json:"textRun,omitempty"`
	} `json:"elements"`
	ParagraphStyle *struct {
		NamedStyleType string `json:"namedStyleType"`
	} `json:"paragraphStyle,omitempty"`
	Bullet *struct {
		NestingLevel int `json:"nestingLevel"`
	} `json:"bullet,omitempty"`
}

type apiTable struct {
	TableRows []struct {
		TableCells []struct {
			Content []structuralElement `json:"content"`
		} `json:"tableCells"`
	} `json:"tableRows"`
}

type apiTableOfContents struct {
	Content []structuralElement `json:"content"`
}

func (d *apiDocument) toDocument() *doctree.Document {
	return &doctree.Document{
		Title: d.Title,
		Body:  convertElements(d.Body.Content),
	}
}

func convertElements(elems []structuralElement) []doctree.Node {
	nodes := make([]doctree.Node, 0, len(elems))
	for _, el := range elems {
		switch {
		case el.Paragraph != nil:
			nodes = append(nodes, convertParagraph(el.Paragraph))
		case el.Table != nil:
			nodes = append(nodes, convertTable(el.Table))
		case el.TableOfContents != nil:
			nodes = append(nodes, &doctree.Container{Children: convertElements(el.TableOfContents.Content)})
		}
	}
	return nodes
}

// convertParagraph maps one paragraph. The API terminates every paragraph with
// "\n"; the walker adds its own, so the final one is dropped.
func convertParagraph(p *apiParagraph) *doctree.Paragraph {
	out := &doctree.Paragraph{}
	if p.ParagraphStyle != nil {
		out.HeadingLevel = headingLevel(p.ParagraphStyle.NamedStyleType)
	}
	if p.Bullet != nil && out.HeadingLevel == 0 {
		out.Children = append(out.Children, &doctree.ListMarker{Level: p.Bullet.NestingLevel})
	}

	var runs []*doctree.TextRun
	for _, el := range p.Elements {
		if el.TextRun != nil {
			runs = append(runs, doctree.Text(el.TextRun.Content))
		}
	}
	if n := len(runs); n > 0 {
		runs[n-1].Text = strings.TrimSuffix(runs[n-1].Text, "\n")
	}
	for _, r := range runs {
		out.Children = append(out.Children, r)
	}
	return out
}

func convertTable(t *apiTable) *doctree.Table {
	out := &doctree.Table{Rows: make([][][]doctree.Node, 0, len(t.TableRows))}
	for _, row := range t.TableRows {
		cells := make([][]doctree.Node, 0, len(row.TableCells))
		for _, cell := range row.TableCells {
			cells = append(cells, convertElements(cell.Content))
		}
		out.Rows = append(out.Rows, cells)
	}
	return out
}

// headingLevel maps HEADING_1..HEADING_6 to 1..6 and TITLE to 1.
func headingLevel(style string) int {
	if style == "TITLE" {
		return 1
	}
	n, ok := strings.CutPrefix(style, "HEADING_")
	if !ok {
		return 0
	}
	level, err := strconv.Atoi(n)
	if err != nil || level < 1 || level > 6 {
		return 0
	}
	return level
}
