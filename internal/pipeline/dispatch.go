package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dgallion1/docards/internal/config"
	"github.com/dgallion1/docards/internal/extract"
	"github.com/dgallion1/docards/internal/retry"
)

// CardSink receives validated cards one at a time.
type CardSink interface {
	Send(ctx context.Context, card extract.Card) error
}

// Dispatch sends cards to sink in order, waiting delay between items to stay
// under the consumer's rate limit. The first failure aborts the remaining
// items. It returns the number of cards sent.
func Dispatch(ctx context.Context, cards []extract.Card, sink CardSink, delay time.Duration) (int, error) {
	if sink == nil {
		return 0, nil
	}
	for i, card := range cards {
		if i > 0 && delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return i, fmt.Errorf("dispatch interrupted before card %d: %w", i, ctx.Err())
			case <-t.C:
			}
		}
		if err := sink.Send(ctx, card); err != nil {
			return i, fmt.Errorf("dispatch card %d %q: %w", i, card.Summary, err)
		}
	}
	return len(cards), nil
}

// cardFields maps a card field identifier to its value. Empty optional values
// are reported as nil and left out of the mapped record.
var cardFields = map[string]func(c *extract.Card) any{
	"summary":            func(c *extract.Card) any { return c.Summary },
	"description":        func(c *extract.Card) any { return c.Description },
	"acceptanceCriteria": func(c *extract.Card) any { return c.AcceptanceCriteria },
	"labels":             func(c *extract.Card) any { return nilIfEmpty(c.Labels) },
	"priority":           func(c *extract.Card) any { return nilIfBlank(c.Priority) },
	"storyPoints": func(c *extract.Card) any {
		if c.StoryPoints == nil {
			return nil
		}
		return *c.StoryPoints
	},
	"component":    func(c *extract.Card) any { return nilIfBlank(c.Component) },
	"epicLink":     func(c *extract.Card) any { return nilIfBlank(c.EpicLink) },
	"linkedIssues": func(c *extract.Card) any { return nilIfEmpty(c.LinkedIssues) },
}

// CardFieldNames lists the mappable card fields in a stable order.
func CardFieldNames() []string {
	names := make([]string, 0, len(cardFields))
	for name := range cardFields {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// MapFields renders card as a flat record. Fields named in mapping are
// renamed to the target identifier; the rest keep the card field name.
func MapFields(card extract.Card, mapping map[string]string) map[string]any {
	out := make(map[string]any, len(cardFields))
	for name, get := range cardFields {
		v := get(&card)
		if v == nil {
			continue
		}
		key := name
		if target, ok := mapping[name]; ok {
			key = target
		}
		out[key] = v
	}
	return out
}

func nilIfBlank(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilIfEmpty(s []string) any {
	if len(s) == 0 {
		return nil
	}
	return s
}

// WebhookSink POSTs each mapped card as JSON to a downstream consumer.
type WebhookSink struct {
	url        string
	token      string
	fields     map[string]string
	policy     retry.Policy
	httpClient *http.Client
	log        *slog.Logger
}

// NewWebhookSink validates the field mapping against the known card fields.
func NewWebhookSink(url, token string, fields map[string]string, policy retry.Policy, log *slog.Logger) (*WebhookSink, error) {
	for name := range fields {
		if _, ok := cardFields[name]; !ok {
			return nil, &config.Error{Field: "DISPATCH_FIELDS", Problem: fmt.Sprintf("unknown card field %q (valid: %s)", name, strings.Join(CardFieldNames(), ", "))}
		}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &WebhookSink{
		url:    url,
		token:  token,
		fields: fields,
		policy: policy.Named("dispatch_card"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}, nil
}

func (s *WebhookSink) Send(ctx context.Context, card extract.Card) error {
	body, err := json.Marshal(MapFields(card, s.fields))
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}
	_, err = retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.post(ctx, body)
	})
	if err == nil {
		s.log.Debug("card dispatched", "summary", card.Summary)
	}
	return err
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return retry.NewStatusError(resp, respBody)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
