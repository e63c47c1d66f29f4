package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Pre-compiled patterns for locating and repairing a card array in a model reply.
var (
	jsonFenceRe = regexp.MustCompile("(?is)```json[ \\t]*\\r?\\n?(.*?)```")
	anyFenceRe  = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \\t]*\\r?\\n?(.*?)```")

	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_$][A-Za-z0-9_$-]*)(\s*):`)
	bareValueRe     = regexp.MustCompile(`:(\s*)([^\s"{\[\],}][^,}\]\n]*)`)
	colonSpaceRe    = regexp.MustCompile(`\s*:\s*`)
	jsonNumberRe    = regexp.MustCompile(`^-?(0|[1-9]\d*)(\.\d+)?([eE][+-]?\d+)?$`)
)

// ErrNotArray is returned when a candidate parses but is not a JSON array.
var ErrNotArray = errors.New("reply is not a JSON array")

// ParseError reports that no card array could be recovered, even after repair.
type ParseError struct {
	Original string // candidate text before repair
	Repaired string // candidate text after the repair heuristics
	Err      error  // strict parse error on the repaired text
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("recover cards: %v (raw: %s)", e.Err, truncate(e.Original, 200))
}

func (e *ParseError) Unwrap() error { return e.Err }

// Recover extracts the card array from a model reply, repairing near-JSON when
// the strict parse fails, and partitions the cards into valid and invalid sets.
func Recover(raw string) (Result, error) {
	cards, repaired, err := ParseCards(raw)
	if err != nil {
		return Result{}, err
	}
	res := validateDecoded(cards)
	res.Repaired = repaired
	return res, nil
}

// DecodedCard is one element of a recovered array. Problems lists the fields
// whose JSON type did not fit the card; they are decoded as zero values.
type DecodedCard struct {
	Card     Card
	Problems []string
}

// ParseCards runs extraction, strict parse, and at most one repair-and-retry.
// The boolean reports whether the repair pass was needed. A mistyped field
// marks only its own element; it never fails the array.
func ParseCards(raw string) ([]DecodedCard, bool, error) {
	candidate := ExtractCandidate(raw)
	if cards, err := parseStrict(candidate); err == nil {
		return cards, false, nil
	}

	repaired := Repair(candidate)
	cards, err := parseStrict(repaired)
	if err != nil {
		return nil, true, &ParseError{Original: candidate, Repaired: repaired, Err: err}
	}
	return cards, true, nil
}

// ExtractCandidate returns the body of the first ```json fence, else of the
// first fence of any kind, else the whole reply.
func ExtractCandidate(raw string) string {
	if m := jsonFenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

func parseStrict(s string) ([]DecodedCard, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") {
		return nil, ErrNotArray
	}
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(s), &elems); err != nil {
		return nil, err
	}
	cards := make([]DecodedCard, len(elems))
	for i, elem := range elems {
		cards[i] = decodeCard(elem)
	}
	return cards, nil
}

// decodeCard decodes one array element. The decoder keeps filling the
// remaining fields after a type mismatch, so only the offending field is lost.
func decodeCard(elem json.RawMessage) DecodedCard {
	var dc DecodedCard
	err := json.Unmarshal(elem, &dc.Card)
	if err == nil {
		return dc
	}
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) {
		dc.Problems = []string{err.Error()}
		return dc
	}
	if typeErr.Field == "" {
		dc.Problems = []string{"card is not an object"}
		return dc
	}
	if typeErr.Field == "storyPoints" {
		dc.Card.StoryPoints = nil
	}
	dc.Problems = []string{fieldTypeProblem(typeErr)}
	return dc
}

// listFields names the card fields that hold string lists.
var listFields = map[string]bool{"acceptanceCriteria": true, "labels": true, "linkedIssues": true}

func fieldTypeProblem(e *json.UnmarshalTypeError) string {
	field := e.Field
	switch {
	case e.Type.Kind() == reflect.Slice:
		return field + " is not a list"
	case listFields[field]:
		return field + " entries must be strings"
	case e.Type.Kind() == reflect.String:
		return field + " is not a string"
	case e.Type.Kind() == reflect.Float64:
		return field + " is not a number"
	}
	return fmt.Sprintf("%s has the wrong type (%s)", field, e.Value)
}

// Repair applies the best-effort textual fixes, in order: crop to the outermost
// brackets, drop trailing commas, quote bare keys, quote bare scalar values and
// normalize spacing around colons. Text inside string literals is left alone.
// The result is not guaranteed to be valid JSON.
func Repair(candidate string) string {
	s := candidate
	if start := strings.Index(s, "["); start >= 0 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = s[start : end+1]
		} else {
			s = s[start:]
		}
	}

	s = mapUnquoted(s, func(code string) string {
		return trailingCommaRe.ReplaceAllString(code, "$1")
	})
	s = mapUnquoted(s, func(code string) string {
		return bareKeyRe.ReplaceAllString(code, `$1"$2"$3:`)
	})
	s = mapUnquoted(s, quoteBareValues)
	s = mapUnquoted(s, func(code string) string {
		return colonSpaceRe.ReplaceAllString(code, ": ")
	})
	return s
}

func quoteBareValues(code string) string {
	return bareValueRe.ReplaceAllStringFunc(code, func(m string) string {
		sub := bareValueRe.FindStringSubmatch(m)
		value := strings.TrimRight(sub[2], " \t\r")
		trailing := sub[2][len(value):]
		if isJSONScalar(value) {
			return m
		}
		quoted, _ := json.Marshal(value)
		return ":" + sub[1] + string(quoted) + trailing
	})
}

func isJSONScalar(v string) bool {
	switch v {
	case "true", "false", "null":
		return true
	}
	return jsonNumberRe.MatchString(v)
}

// mapUnquoted applies fn to every stretch of s that lies outside a
// double-quoted string literal.
func mapUnquoted(s string, fn func(string) string) string {
	var out strings.Builder
	out.Grow(len(s))

	codeStart := 0
	i := 0
	for i < len(s) {
		if s[i] != '"' {
			i++
			continue
		}
		out.WriteString(fn(s[codeStart:i]))

		// Copy the string literal verbatim, honouring escapes.
		j := i + 1
		for j < len(s) {
			if s[j] == '\\' {
				j += 2
				continue
			}
			if s[j] == '"' {
				j++
				break
			}
			j++
		}
		j = min(j, len(s))
		out.WriteString(s[i:j])
		i = j
		codeStart = j
	}
	out.WriteString(fn(s[codeStart:]))
	return out.String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
