package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/docards/internal/config"
	"github.com/dgallion1/docards/internal/extract"
	"github.com/dgallion1/docards/internal/fallback"
	"github.com/dgallion1/docards/internal/gdocs"
	"github.com/dgallion1/docards/internal/pipeline"
	"github.com/dgallion1/docards/internal/retry"
	"github.com/dgallion1/docards/internal/snapshot"
	"github.com/prometheus/client_golang/prometheus"
)

// app holds the wired pipeline collaborators for one process.
type app struct {
	runner  *pipeline.Runner
	metrics *pipeline.Metrics
	closers []func()
}

func (a *app) Close() {
	for _, c := range a.closers {
		c()
	}
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger, reg prometheus.Registerer) (*app, error) {
	a := &app{metrics: pipeline.NewMetrics(reg)}

	completer, closeCompleter, err := newCompleter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closeCompleter != nil {
		a.closers = append(a.closers, closeCompleter)
	}

	docs := gdocs.NewClient(cfg.DocsBaseURL, cfg.DocsToken, cfg.FetchTimeout)
	a.closers = append(a.closers, docs.Close)

	policy := retryPolicy(cfg, log)
	var sink pipeline.CardSink
	if cfg.DispatchURL != "" {
		ws, err := pipeline.NewWebhookSink(cfg.DispatchURL, cfg.DispatchToken, cfg.DispatchFields,
			a.metrics.Instrument(policy.Named("dispatch_card")), log)
		if err != nil {
			a.Close()
			return nil, err
		}
		sink = ws
	} else {
		log.Info("no dispatch url configured, cards will only be snapshotted")
	}

	a.runner = pipeline.NewRunner(pipeline.Deps{
		Docs:          docs,
		Completer:     completer,
		Locator:       fallback.NewLocator(cfg.FallbackPath, cfg.FallbackBaseDir, cfg.FallbackPatterns, log),
		Snapshots:     snapshot.New(cfg.CacheDir, log),
		Sink:          sink,
		Policy:        policy,
		DispatchDelay: cfg.DispatchDelay,
		Metrics:       a.metrics,
		Log:           log,
	})
	return a, nil
}

// newCompleter builds the client for the configured provider. The returned
// close func may be nil.
func newCompleter(ctx context.Context, cfg config.Config) (extract.Completer, func(), error) {
	switch cfg.LLMProvider {
	case "openai":
		c := extract.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.MaxTokens)
		return c, c.Close, nil
	case "anthropic":
		c := extract.NewClaudeClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.MaxTokens)
		return c, c.Close, nil
	case "gemini":
		c, err := extract.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.MaxTokens)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	default:
		return nil, nil, &config.Error{Field: "LLM_PROVIDER", Problem: fmt.Sprintf("unknown provider %q", cfg.LLMProvider)}
	}
}

func retryPolicy(cfg config.Config, log *slog.Logger) retry.Policy {
	return retry.Policy{
		MaxAttempts:   cfg.RetryMaxAttempts,
		BaseDelay:     cfg.RetryBaseDelay,
		MaxDelay:      cfg.RetryMaxDelay,
		BackoffFactor: cfg.RetryBackoffFactor,
		Log:           log,
	}
}
