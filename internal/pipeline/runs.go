package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the state of a pipeline run.
type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusPartial   RunStatus = "partial"
	StatusFailed    RunStatus = "failed"
)

// Run tracks the state of a single queued pipeline run.
type Run struct {
	mu sync.Mutex

	ID          string    `json:"run_id"`
	DocumentRef string    `json:"document"`
	Status      RunStatus `json:"status"`
	Phase       string    `json:"phase"`
	Progress    Progress  `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	outcome *Outcome
	errors  []string
}

// Progress tracks card counts for a run.
type Progress struct {
	Source          string   `json:"source,omitempty"`
	CardsValid      int      `json:"cards_valid"`
	CardsInvalid    int      `json:"cards_invalid"`
	CardsDispatched int      `json:"cards_dispatched"`
	Errors          []string `json:"errors"`
}

// NewRun creates a queued run with a fresh ID.
func NewRun(ref string) *Run {
	now := time.Now()
	return &Run{
		ID:          uuid.NewString(),
		DocumentRef: ref,
		Status:      StatusQueued,
		Phase:       "queued",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RunStore is a thread-safe in-memory run registry with TTL eviction.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]*Run
	ttl  time.Duration
}

func NewRunStore(ttl time.Duration) *RunStore {
	return &RunStore{
		runs: make(map[string]*Run),
		ttl:  ttl,
	}
}

func (s *RunStore) Put(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
}

func (s *RunStore) Get(id string) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

// Cleanup removes expired runs.
func (s *RunStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, run := range s.runs {
		run.mu.Lock()
		expired := now.Sub(run.UpdatedAt) > s.ttl
		run.mu.Unlock()
		if expired {
			delete(s.runs, id)
		}
	}
}

// Len returns the number of tracked runs.
func (s *RunStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// SetStatus updates run status atomically.
func (r *Run) SetStatus(status RunStatus, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = status
	r.Phase = phase
	r.UpdatedAt = time.Now()
}

// SetPhase records progress within a running run.
func (r *Run) SetPhase(phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Phase = phase
	r.UpdatedAt = time.Now()
}

// AddError records an error.
func (r *Run) AddError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
	r.Progress.Errors = r.errors
	r.UpdatedAt = time.Now()
}

// Finish records the result of the pipeline and derives the final status.
func (r *Run) Finish(out *Outcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = out
	if out != nil {
		r.Progress.Source = out.Source
		r.Progress.CardsValid = len(out.Cards.Valid)
		r.Progress.CardsInvalid = len(out.Cards.Invalid)
		r.Progress.CardsDispatched = out.Dispatched
	}
	switch {
	case err != nil:
		r.errors = append(r.errors, err.Error())
		r.Progress.Errors = r.errors
		r.Status = StatusFailed
	case out.Partial():
		r.Status = StatusPartial
	default:
		r.Status = StatusCompleted
	}
	r.UpdatedAt = time.Now()
}

// Outcome returns the pipeline result once the run has finished.
func (r *Run) Outcome() *Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// RunSnapshot is a read-only, JSON-safe copy of run state.
type RunSnapshot struct {
	ID          string    `json:"run_id"`
	DocumentRef string    `json:"document"`
	Status      RunStatus `json:"status"`
	Phase       string    `json:"phase"`
	Progress    Progress  `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Outcome     *Outcome  `json:"outcome,omitempty"`
}

// Snapshot returns a JSON-safe copy of the run state.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	errs := append([]string{}, r.Progress.Errors...)
	p := r.Progress
	p.Errors = errs
	return RunSnapshot{
		ID:          r.ID,
		DocumentRef: r.DocumentRef,
		Status:      r.Status,
		Phase:       r.Phase,
		Progress:    p,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Outcome:     r.outcome,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
