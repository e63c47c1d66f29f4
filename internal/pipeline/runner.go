package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/docards/internal/doctree"
	"github.com/dgallion1/docards/internal/extract"
	"github.com/dgallion1/docards/internal/fallback"
	"github.com/dgallion1/docards/internal/gdocs"
	"github.com/dgallion1/docards/internal/normalize"
	"github.com/dgallion1/docards/internal/retry"
	"github.com/dgallion1/docards/internal/snapshot"
)

// ErrNoValidCards means the run produced nothing usable.
var ErrNoValidCards = errors.New("no valid cards recovered")

// DocumentSource fetches a remote document tree by ID.
type DocumentSource interface {
	FetchDocument(ctx context.Context, id string) (*doctree.Document, error)
}

// Locator finds a local stand-in for a document that could not be fetched.
type Locator interface {
	Locate() (string, error)
}

// Source values reported in Outcome.
const (
	SourceRemote   = "remote"
	SourceFallback = "fallback"
)

// Run phases, in order.
const (
	PhaseFetching    = "fetching"
	PhaseFallback    = "fallback"
	PhaseCompleting  = "completing"
	PhaseRecovering  = "recovering"
	PhaseDispatching = "dispatching"
	PhaseDone        = "done"
)

// Deps are the collaborators of a Runner. Snapshots, Sink and Locator are
// optional.
type Deps struct {
	Docs          DocumentSource
	Completer     extract.Completer
	Locator       Locator
	Snapshots     *snapshot.Store
	Sink          CardSink
	Policy        retry.Policy
	DispatchDelay time.Duration
	Metrics       *Metrics
	Log           *slog.Logger
}

// Outcome summarizes one pipeline run.
type Outcome struct {
	DocumentID   string         `json:"document_id"`
	Title        string         `json:"title"`
	Source       string         `json:"source"`
	FallbackPath string         `json:"fallback_path,omitempty"`
	ContentHash  string         `json:"content_hash"`
	Model        string         `json:"model"`
	Cards        extract.Result `json:"cards"`
	Dispatched   int            `json:"dispatched"`

	DocumentSnapshot string `json:"document_snapshot,omitempty"`
	CardsSnapshot    string `json:"cards_snapshot,omitempty"`
	ReplySnapshot    string `json:"reply_snapshot,omitempty"`
}

// Partial reports a usable run with some invalid records.
func (o *Outcome) Partial() bool {
	return o != nil && len(o.Cards.Valid) > 0 && len(o.Cards.Invalid) > 0
}

// Runner performs pipeline runs: fetch, normalize, complete, recover, dispatch.
type Runner struct {
	d Deps
}

func NewRunner(d Deps) *Runner {
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	if d.Log == nil {
		d.Log = slog.New(slog.DiscardHandler)
	}
	if d.Policy.Log == nil {
		d.Policy.Log = d.Log
	}
	return &Runner{d: d}
}

// Run executes one pipeline run for the document reference. On
// ErrNoValidCards and on recovery failures the partial Outcome is returned
// alongside the error.
func (r *Runner) Run(ctx context.Context, ref string) (*Outcome, error) {
	return r.run(ctx, ref, nil)
}

func (r *Runner) run(ctx context.Context, ref string, phase func(string)) (*Outcome, error) {
	setPhase := func(p string) {
		if phase != nil {
			phase(p)
		}
	}
	m := r.d.Metrics

	id, err := gdocs.ResolveDocumentID(ref)
	if err != nil {
		m.Runs.WithLabelValues("config_error").Inc()
		return nil, err
	}
	log := r.d.Log.With("document_id", id)
	out := &Outcome{DocumentID: id, Model: r.d.Completer.Model()}

	setPhase(PhaseFetching)
	doc, err := r.readDocument(ctx, id, out, log, setPhase)
	if err != nil {
		m.Runs.WithLabelValues("fetch_error").Inc()
		return nil, err
	}
	out.Title = doc.Title
	out.ContentHash = ContentHashHex([]byte(doc.NormalizedText))
	log.Info("document ready", "title", doc.Title, "source", out.Source, "bytes", len(doc.NormalizedText))

	if r.d.Snapshots != nil {
		if out.DocumentSnapshot, err = r.d.Snapshots.SaveDocument(doc); err != nil {
			m.Runs.WithLabelValues("snapshot_error").Inc()
			return out, err
		}
	}

	setPhase(PhaseCompleting)
	prompt := extract.BuildPrompt(doc)
	log.Debug("requesting completion", "model", out.Model, "prompt_tokens_est", extract.EstimateTokens(prompt))
	start := time.Now()
	reply, err := retry.Do(ctx, m.Instrument(r.d.Policy.Named("completion")), func(ctx context.Context) (string, error) {
		return r.d.Completer.Complete(ctx, prompt)
	})
	m.observeCompletion(start)
	if err != nil {
		m.Runs.WithLabelValues("completion_error").Inc()
		return out, fmt.Errorf("completion: %w", err)
	}

	setPhase(PhaseRecovering)
	res, err := extract.Recover(reply)
	if err != nil {
		r.saveReply(out, reply, log)
		m.Runs.WithLabelValues("parse_error").Inc()
		return out, err
	}
	out.Cards = res
	m.Cards.WithLabelValues("valid").Add(float64(len(res.Valid)))
	m.Cards.WithLabelValues("invalid").Add(float64(len(res.Invalid)))
	for _, inv := range res.Invalid {
		log.Warn("invalid card", "index", inv.Index, "summary", inv.Card.Summary, "problems", inv.Problems)
	}
	if res.Repaired {
		log.Info("reply needed json repair")
	}

	if len(res.Valid) == 0 {
		r.saveReply(out, reply, log)
		m.Runs.WithLabelValues("no_cards").Inc()
		return out, ErrNoValidCards
	}

	if r.d.Snapshots != nil {
		if out.CardsSnapshot, err = r.d.Snapshots.SaveCards(res.Valid); err != nil {
			m.Runs.WithLabelValues("snapshot_error").Inc()
			return out, err
		}
	}

	setPhase(PhaseDispatching)
	out.Dispatched, err = Dispatch(ctx, res.Valid, r.d.Sink, r.d.DispatchDelay)
	if err != nil {
		m.Runs.WithLabelValues("dispatch_error").Inc()
		return out, err
	}

	setPhase(PhaseDone)
	if len(res.Invalid) > 0 {
		log.Warn("run finished with invalid records", "summary", res.Summary())
		m.Runs.WithLabelValues("partial").Inc()
	} else {
		log.Info("run finished", "cards", len(res.Valid), "dispatched", out.Dispatched)
		m.Runs.WithLabelValues("ok").Inc()
	}
	return out, nil
}

// readDocument fetches the remote document, switching to the local fallback
// when the fetch is refused for lack of permission.
func (r *Runner) readDocument(ctx context.Context, id string, out *Outcome, log *slog.Logger, setPhase func(string)) (*normalize.Document, error) {
	policy := r.d.Metrics.Instrument(r.d.Policy.Named("fetch_document"))
	tree, err := retry.Do(ctx, policy, func(ctx context.Context) (*doctree.Document, error) {
		return r.d.Docs.FetchDocument(ctx, id)
	})
	if err == nil {
		out.Source = SourceRemote
		title := tree.Title
		if title == "" {
			title = id
		}
		return normalize.New(title, doctree.FlattenDocument(tree)), nil
	}
	if !fallback.IsPermissionError(err) || r.d.Locator == nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}

	log.Warn("remote fetch refused, using local fallback", "error", err)
	setPhase(PhaseFallback)
	r.d.Metrics.Fallbacks.Inc()
	path, lerr := r.d.Locator.Locate()
	if lerr != nil {
		return nil, fmt.Errorf("fetch document: %v; local fallback: %w", err, lerr)
	}
	doc, lerr := fallback.Load(path)
	if lerr != nil {
		return nil, fmt.Errorf("fetch document: %v; local fallback: %w", err, lerr)
	}
	out.Source = SourceFallback
	out.FallbackPath = path
	return doc, nil
}

func (r *Runner) saveReply(out *Outcome, reply string, log *slog.Logger) {
	if r.d.Snapshots == nil {
		return
	}
	path, err := r.d.Snapshots.SaveReply(reply)
	if err != nil {
		log.Error("failed to save raw reply", "error", err)
		return
	}
	out.ReplySnapshot = path
	log.Info("raw reply saved for inspection", "path", path)
}
