package fallback

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docards/internal/doctree"
	"github.com/dgallion1/docards/internal/normalize"
	"github.com/dgallion1/docards/internal/parser"
)

// Load reads a local document and normalizes it. Markdown is used as is;
// other supported formats are imported and flattened first. The title is the
// first top-level heading, else the file's base name.
func Load(path string) (*normalize.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fallback file: %w", err)
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var text string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", "":
		text = string(data)
	default:
		p, err := parser.ForFile(path)
		if err != nil {
			return nil, err
		}
		doc, err := p.Parse(bytes.NewReader(data), filepath.Base(path))
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", path, err)
		}
		title = doc.Title
		text = doctree.FlattenDocument(doc)
	}

	if h, ok := FirstHeading(text); ok {
		title = h
	}
	return normalize.New(title, text), nil
}

// FirstHeading returns the text of the first top-level markdown heading,
// ignoring fenced and indented code.
func FirstHeading(text string) (string, bool) {
	return parser.FirstMarkdownHeading([]byte(text))
}
