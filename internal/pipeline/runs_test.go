package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/dgallion1/docards/internal/extract"
	"github.com/google/uuid"
)

func TestContentHashHex_Consistency(t *testing.T) {
	data := []byte("hello world")
	h1 := ContentHashHex(data)
	h2 := ContentHashHex(data)
	if h1 != h2 {
		t.Errorf("expected identical hashes, got %q and %q", h1, h2)
	}
	// SHA-256 of "hello world" is well-known.
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if h1 != want {
		t.Errorf("expected hash %q, got %q", want, h1)
	}
}

func TestContentHashHex_EmptyInput(t *testing.T) {
	h := ContentHashHex([]byte{})
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if h != want {
		t.Errorf("expected hash %q, got %q", want, h)
	}
}

func TestNewRun(t *testing.T) {
	run := NewRun("doc-ref")
	if _, err := uuid.Parse(run.ID); err != nil {
		t.Errorf("expected a UUID run id, got %q", run.ID)
	}
	if run.Status != StatusQueued {
		t.Errorf("expected status %q, got %q", StatusQueued, run.Status)
	}
	if NewRun("doc-ref").ID == run.ID {
		t.Error("expected distinct run ids")
	}
}

func TestRun_StateTransitions(t *testing.T) {
	run := NewRun("doc")

	transitions := []struct {
		status RunStatus
		phase  string
	}{
		{StatusRunning, PhaseFetching},
		{StatusRunning, PhaseCompleting},
		{StatusRunning, PhaseRecovering},
		{StatusCompleted, PhaseDone},
	}

	for _, tr := range transitions {
		before := run.UpdatedAt
		// Small sleep to ensure time difference is detectable.
		time.Sleep(time.Millisecond)
		run.SetStatus(tr.status, tr.phase)

		if run.Status != tr.status {
			t.Errorf("expected status %q, got %q", tr.status, run.Status)
		}
		if run.Phase != tr.phase {
			t.Errorf("expected phase %q, got %q", tr.phase, run.Phase)
		}
		if !run.UpdatedAt.After(before) {
			t.Errorf("expected UpdatedAt to advance after SetStatus(%q)", tr.status)
		}
	}
}

func TestRun_Finish(t *testing.T) {
	valid := extract.Card{Summary: "a", Description: "b", AcceptanceCriteria: []string{"c"}}

	tests := []struct {
		name    string
		outcome *Outcome
		err     error
		want    RunStatus
	}{
		{"success", &Outcome{Cards: extract.Result{Valid: []extract.Card{valid}}, Dispatched: 1}, nil, StatusCompleted},
		{"partial", &Outcome{Cards: extract.Result{Valid: []extract.Card{valid}, Invalid: []extract.InvalidCard{{Index: 1}}}}, nil, StatusPartial},
		{"no cards", &Outcome{}, ErrNoValidCards, StatusFailed},
		{"fetch error", nil, errors.New("boom"), StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := NewRun("doc")
			run.Finish(tt.outcome, tt.err)
			snap := run.Snapshot()
			if snap.Status != tt.want {
				t.Errorf("expected status %q, got %q", tt.want, snap.Status)
			}
			if tt.err != nil && (len(snap.Progress.Errors) != 1 || snap.Progress.Errors[0] != tt.err.Error()) {
				t.Errorf("expected error %q recorded, got %v", tt.err, snap.Progress.Errors)
			}
			if tt.outcome != nil && snap.Progress.CardsValid != len(tt.outcome.Cards.Valid) {
				t.Errorf("expected %d valid cards, got %d", len(tt.outcome.Cards.Valid), snap.Progress.CardsValid)
			}
			if run.Outcome() != tt.outcome {
				t.Error("expected outcome to be kept")
			}
		})
	}
}

func TestRun_AddError(t *testing.T) {
	run := NewRun("doc")
	run.AddError("fetch failed")
	run.AddError("fallback failed")

	snap := run.Snapshot()
	if len(snap.Progress.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(snap.Progress.Errors))
	}
	if snap.Progress.Errors[0] != "fetch failed" {
		t.Errorf("expected first error %q, got %q", "fetch failed", snap.Progress.Errors[0])
	}
}

func TestRun_SnapshotErrorsNotNil(t *testing.T) {
	// Snapshot should always return non-nil errors slice.
	run := NewRun("doc")
	snap := run.Snapshot()
	if snap.Progress.Errors == nil {
		t.Error("expected non-nil errors slice in snapshot")
	}
	if len(snap.Progress.Errors) != 0 {
		t.Errorf("expected empty errors, got %d", len(snap.Progress.Errors))
	}
}

func TestRunStore_PutGet(t *testing.T) {
	store := NewRunStore(time.Hour)
	run := NewRun("doc")
	store.Put(run)

	got := store.Get(run.ID)
	if got == nil {
		t.Fatal("expected to get run back")
	}
	if got.ID != run.ID {
		t.Errorf("expected ID %q, got %q", run.ID, got.ID)
	}
	if store.Get("nonexistent") != nil {
		t.Error("expected nil for missing run")
	}
}

func TestRunStore_TTLCleanup(t *testing.T) {
	store := NewRunStore(50 * time.Millisecond)

	expired := &Run{ID: "old", UpdatedAt: time.Now()}
	store.Put(expired)

	// Wait for the TTL to pass.
	time.Sleep(100 * time.Millisecond)

	fresh := &Run{ID: "new", UpdatedAt: time.Now()}
	store.Put(fresh)

	store.Cleanup()

	if store.Get("old") != nil {
		t.Error("expected expired run to be cleaned up")
	}
	if store.Get("new") == nil {
		t.Error("expected fresh run to survive cleanup")
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 run left, got %d", store.Len())
	}
}
