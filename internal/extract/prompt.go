package extract

import (
	"fmt"
	"strings"

	"github.com/dgallion1/docards/internal/normalize"
)

const CardPrompt = `Break the following document into work items for an issue tracker. Return a JSON array of cards. Each card object must have these fields:

- "summary": one-line title of the work item (string, max 80 chars)
- "description": what needs to be done and why (string)
- "acceptanceCriteria": testable conditions for done (list of strings, at least one)

Optional fields, include only when the document supports them:

- "labels": short lowercase tags (list of strings)
- "priority": one of %s
- "storyPoints": relative effort estimate (number)
- "component": the system component affected (string)
- "epicLink": key of the parent epic, if the document names one (string)
- "linkedIssues": keys of related issues named in the document (list of strings)

Rules:
- One card per independently deliverable piece of work
- Do not invent requirements the document does not state
- Keep summaries short and imperative: "Add CSV export" not "CSV export should be added"
- Return an empty array [] if the document describes no work

Respond with ONLY the JSON array, no other text.`

// BuildPrompt creates the card-extraction prompt for a normalized document.
func BuildPrompt(doc *normalize.Document) string {
	quoted := make([]string, len(Priorities))
	for i, p := range Priorities {
		quoted[i] = fmt.Sprintf("%q", p)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(CardPrompt, strings.Join(quoted, ", ")))
	sb.WriteString("\n\n---\n")
	sb.WriteString(fmt.Sprintf("Document: %q\n", doc.Title))
	sb.WriteString("---\n")
	sb.WriteString(doc.NormalizedText)
	return sb.String()
}

// EstimateTokens gives a rough token count using a words-based heuristic.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	tokens := int(float64(len(strings.Fields(text))) * 1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
