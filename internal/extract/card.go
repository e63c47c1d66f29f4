package extract

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// MaxSummaryLen is the longest summary a card may carry, in characters.
const MaxSummaryLen = 80

// Card is one structured record describing a single unit of work.
type Card struct {
	Summary            string   `json:"summary"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	Labels             []string `json:"labels,omitempty"`
	Priority           string   `json:"priority,omitempty"`
	StoryPoints        *float64 `json:"storyPoints,omitempty"`
	Component          string   `json:"component,omitempty"`
	EpicLink           string   `json:"epicLink,omitempty"`
	LinkedIssues       []string `json:"linkedIssues,omitempty"`
}

// Priorities is the fixed label set a card priority is drawn from.
var Priorities = []string{"Highest", "High", "Medium", "Low", "Lowest"}

var priorityByKey = func() map[string]string {
	m := make(map[string]string, len(Priorities))
	for _, p := range Priorities {
		m[strings.ToLower(p)] = p
	}
	return m
}()

// InvalidCard is a card that failed validation, with the reasons.
type InvalidCard struct {
	Index    int      `json:"index"`
	Card     Card     `json:"card"`
	Problems []string `json:"problems"`
}

// Result partitions a recovered batch.
type Result struct {
	Valid    []Card        `json:"valid"`
	Invalid  []InvalidCard `json:"invalid"`
	Repaired bool          `json:"repaired"` // the reply needed the repair heuristics
}

// Summary renders the "N records invalid" line reported for partial batches.
func (r Result) Summary() string {
	return fmt.Sprintf("%d valid, %d records invalid", len(r.Valid), len(r.Invalid))
}

// ValidateCard checks the card invariants and returns the problems found.
// It also tidies optional fields: labels are de-duplicated, blank criteria
// dropped and the priority mapped onto the fixed set (unknown values cleared).
func ValidateCard(c *Card) []string {
	if c == nil {
		return []string{"card is null"}
	}
	c.Summary = strings.TrimSpace(c.Summary)
	c.Description = strings.TrimSpace(c.Description)

	var problems []string
	switch n := utf8.RuneCountInString(c.Summary); {
	case n == 0:
		problems = append(problems, "summary is empty")
	case n > MaxSummaryLen:
		problems = append(problems, "summary exceeds 80 characters")
	}
	if c.Description == "" {
		problems = append(problems, "description is empty")
	}

	criteria := c.AcceptanceCriteria[:0:0]
	for _, ac := range c.AcceptanceCriteria {
		if ac = strings.TrimSpace(ac); ac != "" {
			criteria = append(criteria, ac)
		}
	}
	c.AcceptanceCriteria = criteria
	if len(c.AcceptanceCriteria) == 0 {
		problems = append(problems, "acceptanceCriteria is empty")
	}

	c.Labels = dedupe(c.Labels)
	if c.Priority != "" {
		c.Priority = priorityByKey[strings.ToLower(strings.TrimSpace(c.Priority))]
	}
	return problems
}

// Validate partitions cards into valid and invalid sets. An invalid card never
// aborts the batch.
func Validate(cards []Card) Result {
	decoded := make([]DecodedCard, len(cards))
	for i, c := range cards {
		decoded[i].Card = c
	}
	return validateDecoded(decoded)
}

func validateDecoded(cards []DecodedCard) Result {
	res := Result{Valid: []Card{}, Invalid: []InvalidCard{}}
	for i, dc := range cards {
		c := dc.Card
		problems := append(slices.Clone(dc.Problems), ValidateCard(&c)...)
		if len(problems) > 0 {
			res.Invalid = append(res.Invalid, InvalidCard{Index: i, Card: c, Problems: problems})
			continue
		}
		res.Valid = append(res.Valid, c)
	}
	return res
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
