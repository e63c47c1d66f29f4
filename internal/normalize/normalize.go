// Package normalize cleans flattened document text and injects the title heading.
package normalize

import (
	"regexp"
	"strings"
)

var (
	excessNewlinesRe = regexp.MustCompile(`\n{3,}`)
	blankRunRe       = regexp.MustCompile(`[ \t]+`)
	lineIndentRe     = regexp.MustCompile(`\n[ \t]+`)
)

// Document is a normalized document read. It is built once and not mutated.
type Document struct {
	Title          string `json:"title"`
	RawText        string `json:"raw_text"`
	NormalizedText string `json:"normalized_text"`
}

// New normalizes raw under title and returns the resulting document.
func New(title, raw string) *Document {
	title = CleanTitle(title)
	return &Document{
		Title:          title,
		RawText:        raw,
		NormalizedText: Normalize(title, raw),
	}
}

// Normalize collapses blank lines and whitespace runs, strips line indentation,
// trims the text, and makes sure it opens with "# <title>" followed by a blank line.
// Normalize(t, Normalize(t, s)) == Normalize(t, s).
func Normalize(title, text string) string {
	title = CleanTitle(title)
	heading := "# " + title

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = excessNewlinesRe.ReplaceAllString(text, "\n\n")
	text = blankRunRe.ReplaceAllString(text, " ")
	text = lineIndentRe.ReplaceAllString(text, "\n")
	// Whitespace-only lines become empty above and may form new runs.
	text = excessNewlinesRe.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	first, rest, _ := strings.Cut(text, "\n")
	if strings.TrimRight(first, " ") == heading {
		if strings.TrimSpace(rest) == "" {
			return heading + "\n\n"
		}
		return text
	}
	if text == "" {
		return heading + "\n\n"
	}
	return heading + "\n\n" + text
}

// UntitledTitle stands in for a blank title.
const UntitledTitle = "Untitled"

// CleanTitle collapses all whitespace in a title to single spaces. A blank
// title becomes UntitledTitle.
func CleanTitle(title string) string {
	if t := strings.Join(strings.Fields(title), " "); t != "" {
		return t
	}
	return UntitledTitle
}
