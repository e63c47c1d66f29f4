package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docards/internal/doctree"
	"golang.org/x/net/html"
)

// HTMLParser handles HTML files.
type HTMLParser struct{}

func (p *HTMLParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	doc := &doctree.Document{Title: baseTitle(filename)}
	if title := findTitle(root); title != "" {
		doc.Title = title
	}

	body := findBody(root)
	if body == nil {
		body = root
	}
	doc.Body = htmlBlocks(body, 0)
	return doc, nil
}

func htmlBlocks(parent *html.Node, depth int) []doctree.Node {
	var nodes []doctree.Node
	for n := parent.FirstChild; n != nil; n = n.NextSibling {
		if n.Type != html.ElementNode {
			continue
		}
		if level := headingLevel(n.Data); level > 0 {
			if t := textContent(n); t != "" {
				nodes = append(nodes, doctree.Heading(level, t))
			}
			continue
		}
		switch n.Data {
		case "script", "style", "nav", "footer", "header", "template":
		case "p", "blockquote", "pre", "figcaption", "dt", "dd":
			if t := textContent(n); t != "" {
				nodes = append(nodes, doctree.Para(t))
			}
		case "ul", "ol":
			nodes = append(nodes, htmlList(n, depth)...)
		case "table":
			nodes = append(nodes, htmlTable(n))
		default:
			nodes = append(nodes, htmlBlocks(n, depth)...)
		}
	}
	return nodes
}

func htmlList(list *html.Node, depth int) []doctree.Node {
	var nodes []doctree.Node
	for li := list.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.Data != "li" {
			continue
		}
		var lead strings.Builder
		var nested []doctree.Node
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.Data == "ul" || c.Data == "ol") {
				nested = append(nested, htmlList(c, depth+1)...)
				continue
			}
			collectText(&lead, c)
		}
		nodes = append(nodes, listItem(depth, strings.Join(strings.Fields(lead.String()), " ")))
		nodes = append(nodes, nested...)
	}
	return nodes
}

func htmlTable(table *html.Node) *doctree.Table {
	out := &doctree.Table{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "tr":
				var cells [][]doctree.Node
				for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
					if cell.Type == html.ElementNode && (cell.Data == "td" || cell.Data == "th") {
						cells = append(cells, []doctree.Node{doctree.Text(textContent(cell))})
					}
				}
				out.Rows = append(out.Rows, cells)
			case "table":
				// Nested tables belong to their cell.
			default:
				walk(c)
			}
		}
	}
	walk(table)
	return out
}

func headingLevel(tag string) int {
	switch tag {
	case "h1":
		return 1
	case "h2":
		return 2
	case "h3":
		return 3
	case "h4":
		return 4
	case "h5":
		return 5
	case "h6":
		return 6
	}
	return 0
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	collectText(&buf, n)
	return strings.TrimSpace(buf.String())
}

func collectText(buf *strings.Builder, n *html.Node) {
	if n.Type == html.TextNode {
		buf.WriteString(n.Data)
	}
	if n.Type == html.ElementNode && n.Data == "br" {
		buf.WriteString("\n")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(buf, c)
	}
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		return textContent(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
