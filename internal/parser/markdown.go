package parser

import (
	"bytes"
	"io"
	"strings"

	"github.com/dgallion1/docards/internal/doctree"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser handles Markdown files using goldmark with GFM tables.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	root := md.Parser().Parse(text.NewReader(src))

	doc := &doctree.Document{Title: baseTitle(filename)}
	doc.Body = markdownBlocks(root, src, 0)
	return doc, nil
}

func markdownBlocks(parent ast.Node, src []byte, depth int) []doctree.Node {
	var nodes []doctree.Node
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			nodes = append(nodes, doctree.Heading(node.Level, inlineText(node, src)))
		case *ast.Paragraph, *ast.TextBlock:
			if t := inlineText(node, src); t != "" {
				nodes = append(nodes, doctree.Para(t))
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if t := blockLines(node, src); t != "" {
				nodes = append(nodes, doctree.Para(t))
			}
		case *ast.List:
			nodes = append(nodes, markdownList(node, src, depth)...)
		case *ast.Blockquote:
			nodes = append(nodes, markdownBlocks(node, src, depth)...)
		case *east.Table:
			nodes = append(nodes, markdownTable(node, src))
		}
	}
	return nodes
}

// markdownList emits one list paragraph per item; nested lists follow their
// parent item one level deeper.
func markdownList(list *ast.List, src []byte, depth int) []doctree.Node {
	var nodes []doctree.Node
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		var lead []string
		var nested []doctree.Node
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			switch child := c.(type) {
			case *ast.List:
				nested = append(nested, markdownList(child, src, depth+1)...)
			case *ast.Paragraph, *ast.TextBlock:
				if t := inlineText(child, src); t != "" {
					lead = append(lead, t)
				}
			default:
				nested = append(nested, markdownBlocks(child, src, depth+1)...)
			}
		}
		nodes = append(nodes, listItem(depth, strings.Join(lead, " ")))
		nodes = append(nodes, nested...)
	}
	return nodes
}

func markdownTable(table *east.Table, src []byte) *doctree.Table {
	out := &doctree.Table{}
	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		switch row.(type) {
		case *east.TableHeader, *east.TableRow:
		default:
			continue
		}
		var cells [][]doctree.Node
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			if _, ok := cell.(*east.TableCell); !ok {
				continue
			}
			cells = append(cells, []doctree.Node{doctree.Text(inlineText(cell, src))})
		}
		out.Rows = append(out.Rows, cells)
	}
	return out
}

// FirstMarkdownHeading returns the text of the first non-empty level-1
// heading in src. Lines inside code blocks are never headings.
func FirstMarkdownHeading(src []byte) (string, bool) {
	root := goldmark.New().Parser().Parse(text.NewReader(src))
	var title string
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 1 {
			return ast.WalkContinue, nil
		}
		if t := inlineText(h, src); t != "" {
			title = t
			return ast.WalkStop, nil
		}
		return ast.WalkSkipChildren, nil
	})
	return title, title != ""
}

// inlineText concatenates the text of n's inline descendants.
func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	writeInline(&buf, n, src)
	return strings.TrimSpace(buf.String())
}

func writeInline(buf *bytes.Buffer, n ast.Node, src []byte) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(t.Value)
		case *ast.AutoLink:
			buf.Write(t.Label(src))
		case *ast.RawHTML:
		default:
			writeInline(buf, c, src)
		}
	}
}

func blockLines(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(src))
	}
	return strings.TrimRight(buf.String(), "\n")
}
