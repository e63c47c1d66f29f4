package pipeline

import (
	"time"

	"github.com/dgallion1/docards/internal/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pipeline's prometheus collectors.
type Metrics struct {
	Retries           *prometheus.CounterVec
	Cards             *prometheus.CounterVec
	Fallbacks         prometheus.Counter
	Runs              *prometheus.CounterVec
	CompletionLatency prometheus.Histogram
}

// NewMetrics registers the collectors with reg. A nil reg gets a private
// registry, which keeps tests independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docards",
			Name:      "retries_total",
			Help:      "Retried attempts by operation.",
		}, []string{"operation"}),
		Cards: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docards",
			Name:      "cards_total",
			Help:      "Recovered cards by validation result.",
		}, []string{"result"}),
		Fallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "docards",
			Name:      "fallbacks_total",
			Help:      "Runs that read a local file after a permission error.",
		}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docards",
			Name:      "runs_total",
			Help:      "Finished pipeline runs by outcome.",
		}, []string{"outcome"}),
		CompletionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docards",
			Name:      "completion_duration_seconds",
			Help:      "Wall time of the completion call, retries included.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}),
	}
}

func (m *Metrics) observeCompletion(start time.Time) {
	m.CompletionLatency.Observe(time.Since(start).Seconds())
}

// Instrument returns p with a retry counter hook labelled by p.Name, chained
// ahead of any existing OnRetry.
func (m *Metrics) Instrument(p retry.Policy) retry.Policy {
	prev := p.OnRetry
	counter := m.Retries.WithLabelValues(p.Name)
	p.OnRetry = func(st retry.State) {
		counter.Inc()
		if prev != nil {
			prev(st)
		}
	}
	return p
}
