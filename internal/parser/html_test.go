package parser

import (
	"strings"
	"testing"

	"github.com/dgallion1/docards/internal/doctree"
)

func TestHTMLParser_Structure(t *testing.T) {
	input := `<html><head><title>Design Notes</title><style>p{}</style></head>
<body>
<nav>skip me</nav>
<h1>Design</h1>
<p>Intro  <b>bold</b> text.</p>
<ul>
  <li>first</li>
  <li>second
    <ul><li>inner</li></ul>
  </li>
</ul>
<table>
  <thead><tr><th>Key</th><th>Value</th></tr></thead>
  <tbody><tr><td>a</td><td>1</td></tr></tbody>
</table>
<script>var x = 1;</script>
</body></html>`

	p := &HTMLParser{}
	doc, err := p.Parse(strings.NewReader(input), "page.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "Design Notes" {
		t.Errorf("expected title %q, got %q", "Design Notes", doc.Title)
	}

	want := "# Design\n" +
		"Intro  bold text.\n" +
		"- first\n" +
		"- second\n" +
		"  - inner\n" +
		"| Key | Value |\n| a | 1 |\n\n"
	if got := doctree.FlattenDocument(doc); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestHTMLParser_TitleFallsBackToFilename(t *testing.T) {
	p := &HTMLParser{}
	doc, err := p.Parse(strings.NewReader("<p>hi</p>"), "notes.htm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "notes" {
		t.Errorf("expected title %q, got %q", "notes", doc.Title)
	}
}
