package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/docards/internal/config"
	"github.com/dgallion1/docards/internal/doctree"
	"github.com/dgallion1/docards/internal/extract"
	"github.com/dgallion1/docards/internal/retry"
	"github.com/dgallion1/docards/internal/snapshot"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDocID = "doc1234567890"

type fakeDocs struct {
	mu    sync.Mutex
	doc   *doctree.Document
	errs  []error // returned by successive calls before doc
	calls int
}

func (f *fakeDocs) FetchDocument(ctx context.Context, id string) (*doctree.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= len(f.errs) {
		return nil, f.errs[f.calls-1]
	}
	return f.doc, nil
}

type fakeCompleter struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	n := len(f.prompts)
	if n <= len(f.errs) && f.errs[n-1] != nil {
		return "", f.errs[n-1]
	}
	return f.replies[min(n, len(f.replies))-1], nil
}

func (f *fakeCompleter) Model() string { return "fake-model" }

type fakeLocator struct {
	path string
	err  error
}

func (f fakeLocator) Locate() (string, error) { return f.path, f.err }

type recordingSink struct {
	mu     sync.Mutex
	cards  []extract.Card
	failAt int // 1-based call index that fails; 0 never
}

func (s *recordingSink) Send(ctx context.Context, card extract.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.cards)+1 == s.failAt {
		return errors.New("consumer rejected card")
	}
	s.cards = append(s.cards, card)
	return nil
}

func testPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	p.Jitter = func(time.Duration) time.Duration { return 0 }
	return p
}

func cardsJSON(summaries ...string) string {
	parts := make([]string, len(summaries))
	for i, s := range summaries {
		parts[i] = fmt.Sprintf(`{"summary": %q, "description": "d", "acceptanceCriteria": ["a"]}`, s)
	}
	return "Here are the cards:\n```json\n[" + strings.Join(parts, ",") + "]\n```"
}

func sampleTree() *doctree.Document {
	return &doctree.Document{
		Title: "Release Plan",
		Body: []doctree.Node{
			doctree.Heading(2, "Goals"),
			doctree.Para("Ship   CSV export."),
		},
	}
}

type harness struct {
	docs      *fakeDocs
	completer *fakeCompleter
	sink      *recordingSink
	store     *snapshot.Store
	metrics   *Metrics
	deps      Deps
}

func newHarness(t *testing.T, reply string) *harness {
	t.Helper()
	h := &harness{
		docs:      &fakeDocs{doc: sampleTree()},
		completer: &fakeCompleter{replies: []string{reply}},
		sink:      &recordingSink{},
		store:     snapshot.New(filepath.Join(t.TempDir(), "cache"), nil),
		metrics:   NewMetrics(nil),
	}
	h.deps = Deps{
		Docs:      h.docs,
		Completer: h.completer,
		Snapshots: h.store,
		Sink:      h.sink,
		Policy:    testPolicy(),
		Metrics:   h.metrics,
	}
	return h
}

func TestRun_HappyPath(t *testing.T) {
	h := newHarness(t, cardsJSON("Add CSV export", "Document the export"))

	out, err := NewRunner(h.deps).Run(context.Background(), testDocID)
	require.NoError(t, err)

	assert.Equal(t, SourceRemote, out.Source)
	assert.Equal(t, "Release Plan", out.Title)
	assert.Equal(t, "fake-model", out.Model)
	assert.Len(t, out.Cards.Valid, 2)
	assert.Equal(t, 2, out.Dispatched)
	assert.False(t, out.Partial())
	require.Len(t, h.sink.cards, 2)
	assert.Equal(t, "Add CSV export", h.sink.cards[0].Summary)

	require.Len(t, h.completer.prompts, 1)
	assert.Contains(t, h.completer.prompts[0], "# Release Plan\n\n## Goals\nShip CSV export.")

	latest, err := h.store.LatestDocument()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(latest, "# Release Plan\n\n"))
	cards, err := h.store.LatestCards()
	require.NoError(t, err)
	assert.Len(t, cards, 2)
	assert.Equal(t, ContentHashHex([]byte(latest)), out.ContentHash)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Cards.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Runs.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(h.metrics.CompletionLatency))
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t, cardsJSON("One"))
	h.docs.errs = []error{&retry.StatusError{StatusCode: 503}}
	h.completer.errs = []error{&retry.StatusError{StatusCode: 429}, &retry.StatusError{StatusCode: 500}}

	out, err := NewRunner(h.deps).Run(context.Background(), testDocID)
	require.NoError(t, err)
	assert.Len(t, out.Cards.Valid, 1)
	assert.Equal(t, 2, h.docs.calls)
	assert.Len(t, h.completer.prompts, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Retries.WithLabelValues("fetch_document")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Retries.WithLabelValues("completion")))
}

func TestRun_CompletionExhaustedReturnsOriginalError(t *testing.T) {
	h := newHarness(t, "unused")
	orig := &retry.StatusError{StatusCode: 502, Message: "bad gateway"}
	h.completer.errs = []error{orig, orig, orig}

	_, err := NewRunner(h.deps).Run(context.Background(), testDocID)
	require.Error(t, err)
	var se *retry.StatusError
	require.ErrorAs(t, err, &se)
	assert.Same(t, orig, se)
	assert.Len(t, h.completer.prompts, 3)
	assert.Empty(t, h.sink.cards)
}

func TestRun_PermissionErrorUsesFallback(t *testing.T) {
	h := newHarness(t, cardsJSON("From local copy"))
	h.docs.errs = []error{&retry.StatusError{StatusCode: 403, Message: "forbidden"}}

	local := filepath.Join(t.TempDir(), "plan.md")
	require.NoError(t, os.WriteFile(local, []byte("# Local Plan\n\nOffline notes."), 0o644))
	h.deps.Locator = fakeLocator{path: local}

	out, err := NewRunner(h.deps).Run(context.Background(), testDocID)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, out.Source)
	assert.Equal(t, local, out.FallbackPath)
	assert.Equal(t, "Local Plan", out.Title)
	assert.Equal(t, 1, h.docs.calls, "permission errors are not retried")
	assert.Contains(t, h.completer.prompts[0], "Offline notes.")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Fallbacks))
}

func TestRun_PermissionErrorWithoutCandidates(t *testing.T) {
	h := newHarness(t, "unused")
	h.docs.errs = []error{errors.New("Insufficient permissions for this file")}
	h.deps.Locator = fakeLocator{err: errors.New("no local fallback candidates found")}

	_, err := NewRunner(h.deps).Run(context.Background(), testDocID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local fallback")
	assert.Empty(t, h.completer.prompts)
}

func TestRun_NonPermissionErrorSkipsFallback(t *testing.T) {
	h := newHarness(t, "unused")
	h.docs.errs = []error{&retry.StatusError{StatusCode: 404, Message: "not found"}}
	h.deps.Locator = fakeLocator{path: "/should/not/be/used.md"}

	_, err := NewRunner(h.deps).Run(context.Background(), testDocID)
	var se *retry.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 404, se.StatusCode)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.Fallbacks))
}

func TestRun_ParseErrorSavesReply(t *testing.T) {
	h := newHarness(t, "Sorry, I cannot help with that.")

	out, err := NewRunner(h.deps).Run(context.Background(), testDocID)
	var pe *extract.ParseError
	require.ErrorAs(t, err, &pe)
	require.NotNil(t, out)
	require.NotEmpty(t, out.ReplySnapshot)

	data, err := os.ReadFile(out.ReplySnapshot)
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I cannot help with that.", string(data))
	assert.Empty(t, h.sink.cards)
}

func TestRun_NoValidCards(t *testing.T) {
	h := newHarness(t, cardsJSON(strings.Repeat("x", 85)))

	out, err := NewRunner(h.deps).Run(context.Background(), testDocID)
	assert.ErrorIs(t, err, ErrNoValidCards)
	require.NotNil(t, out)
	assert.Len(t, out.Cards.Invalid, 1)
	assert.NotEmpty(t, out.ReplySnapshot)
	assert.Empty(t, h.sink.cards)
}

func TestRun_PartialSuccess(t *testing.T) {
	h := newHarness(t, cardsJSON("First", strings.Repeat("x", 85), "Third"))

	out, err := NewRunner(h.deps).Run(context.Background(), testDocID)
	require.NoError(t, err)
	assert.True(t, out.Partial())
	assert.Len(t, out.Cards.Valid, 2)
	assert.Len(t, out.Cards.Invalid, 1)
	assert.Equal(t, "2 valid, 1 records invalid", out.Cards.Summary())
	assert.Equal(t, 2, out.Dispatched)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Cards.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Runs.WithLabelValues("partial")))
}

func TestRun_DispatchFailureAborts(t *testing.T) {
	h := newHarness(t, cardsJSON("One", "Two", "Three"))
	h.sink.failAt = 2

	out, err := NewRunner(h.deps).Run(context.Background(), testDocID)
	require.Error(t, err)
	assert.Equal(t, 1, out.Dispatched)
	assert.Len(t, h.sink.cards, 1)
}

func TestRun_UnresolvableReference(t *testing.T) {
	h := newHarness(t, "unused")
	_, err := NewRunner(h.deps).Run(context.Background(), "not a ref")
	assert.True(t, config.IsConfigError(err))
	assert.Equal(t, 0, h.docs.calls)
}

func TestRun_NoSinkOrSnapshots(t *testing.T) {
	h := newHarness(t, cardsJSON("Solo"))
	h.deps.Sink = nil
	h.deps.Snapshots = nil

	out, err := NewRunner(h.deps).Run(context.Background(), testDocID)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Dispatched)
	assert.Empty(t, out.DocumentSnapshot)
}
