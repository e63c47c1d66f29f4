package parser

import (
	"strings"
	"testing"

	"github.com/dgallion1/docards/internal/doctree"
)

func TestMarkdownParser_HeadingsAndParagraphs(t *testing.T) {
	input := `# Title

Intro text.

## Section A

Section A content.

### Subsection A1

Subsection A1 content.
`
	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(input), "doc.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Title != "doc" {
		t.Errorf("expected title %q, got %q", "doc", doc.Title)
	}

	want := "# Title\nIntro text.\n## Section A\nSection A content.\n### Subsection A1\nSubsection A1 content.\n"
	if got := doctree.FlattenDocument(doc); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestMarkdownParser_NestedLists(t *testing.T) {
	input := "- one\n- two\n  - two.a\n    - deep\n- three\n"
	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(input), "list.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "- one\n- two\n  - two.a\n    - deep\n- three\n"
	if got := doctree.FlattenDocument(doc); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestMarkdownParser_Table(t *testing.T) {
	input := "| Name | Owner |\n|------|-------|\n| api | ops |\n| web | ui |\n"
	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(input), "table.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "| Name | Owner |\n| api | ops |\n| web | ui |\n\n"
	if got := doctree.FlattenDocument(doc); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestMarkdownParser_CodeBlocksAndInline(t *testing.T) {
	input := "## Endpoints\n\nCall `GET /api` with **care**.\n\n```\nGET /api/users\nPOST /api/users\n```\n\nMore text after code.\n"

	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(input), "api.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := doctree.FlattenDocument(doc)
	for _, want := range []string{"## Endpoints\n", "Call GET /api with care.\n", "GET /api/users\nPOST /api/users\n", "More text after code.\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected output to contain %q, got %q", want, got)
		}
	}
}

func TestMarkdownParser_EmptyInput(t *testing.T) {
	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(""), "empty.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Body) != 0 {
		t.Errorf("expected 0 nodes for empty input, got %d", len(doc.Body))
	}
}

func TestMarkdownParser_TitleStripping(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"readme.md", "readme"},
		{"notes.markdown", "notes"},
		{"docs/plain.md", "plain"},
	}
	p := &MarkdownParser{}
	for _, tt := range tests {
		doc, err := p.Parse(strings.NewReader("text"), tt.filename)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tt.filename, err)
		}
		if doc.Title != tt.want {
			t.Errorf("filename=%q: expected title %q, got %q", tt.filename, tt.want, doc.Title)
		}
	}
}
