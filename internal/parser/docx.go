package parser

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dgallion1/docards/internal/doctree"
	"github.com/fumiama/go-docx"
)

// DOCXParser handles .docx files: heading and list paragraph styles, plain
// paragraphs and tables.
type DOCXParser struct{}

func (p *DOCXParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	// go-docx needs a ReadSeeker+size, so write to temp file.
	tmp, err := os.CreateTemp("", "docards-docx-*.docx")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("seek temp file: %w", err)
	}

	parsed, err := docx.Parse(tmp, size)
	tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	doc := &doctree.Document{Title: baseTitle(filename)}
	for _, item := range parsed.Document.Body.Items {
		switch v := item.(type) {
		case *docx.Paragraph:
			if n := docxParagraph(v); n != nil {
				doc.Body = append(doc.Body, n)
			}
		case *docx.Table:
			doc.Body = append(doc.Body, docxTable(v))
		}
	}
	return doc, nil
}

func docxParagraph(para *docx.Paragraph) doctree.Node {
	text := docxParagraphText(para)
	if text == "" {
		return nil
	}
	style := docxStyle(para)
	if level := docxHeadingLevel(style); level > 0 {
		return doctree.Heading(level, text)
	}
	if level, ok := docxListLevel(style); ok {
		return listItem(level, text)
	}
	return doctree.Para(text)
}

func docxTable(t *docx.Table) *doctree.Table {
	out := &doctree.Table{Rows: make([][][]doctree.Node, 0, len(t.TableRows))}
	for _, row := range t.TableRows {
		cells := make([][]doctree.Node, 0, len(row.TableCells))
		for _, cell := range row.TableCells {
			var content []doctree.Node
			for _, para := range cell.Paragraphs {
				if text := docxParagraphText(para); text != "" {
					content = append(content, doctree.Para(text))
				}
			}
			cells = append(cells, content)
		}
		out.Rows = append(out.Rows, cells)
	}
	return out
}

func docxStyle(para *docx.Paragraph) string {
	if para.Properties == nil || para.Properties.Style == nil {
		return ""
	}
	return para.Properties.Style.Val
}

// docxHeadingLevel maps "Heading1" / "heading 1" style IDs to 1..6 and
// "Title" to 1.
func docxHeadingLevel(style string) int {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	if s == "title" {
		return 1
	}
	rest, ok := strings.CutPrefix(s, "heading")
	if !ok || len(rest) != 1 || rest[0] < '1' || rest[0] > '6' {
		return 0
	}
	return int(rest[0] - '0')
}

// docxListLevel recognises the built-in list styles: "ListParagraph",
// "ListBullet", "ListBullet2", "List Number 3" and so on.
func docxListLevel(style string) (int, bool) {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	for _, prefix := range []string{"listparagraph", "listbullet", "listnumber"} {
		rest, ok := strings.CutPrefix(s, prefix)
		if !ok {
			continue
		}
		if rest == "" {
			return 0, true
		}
		if len(rest) == 1 && rest[0] >= '2' && rest[0] <= '9' {
			return int(rest[0]-'0') - 1, true
		}
	}
	return 0, false
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}
