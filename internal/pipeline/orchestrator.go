package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Orchestrator queues runs for serve mode. A single worker drains the queue,
// so at most one pipeline run is in flight per process.
type Orchestrator struct {
	runs    *RunStore
	queue   chan *Run
	runner  *Runner
	log     *slog.Logger
	maxSize int

	cleanupEvery time.Duration

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates the queue; call Start to begin processing.
func NewOrchestrator(runner *Runner, maxQueue int, ttl time.Duration, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		runs:         NewRunStore(ttl),
		queue:        make(chan *Run, maxQueue),
		runner:       runner,
		log:          log,
		maxSize:      maxQueue,
		cleanupEvery: 5 * time.Minute,
	}
}

// Start launches the worker and the run store cleanup.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for {
			select {
			case <-workerCtx.Done():
				return
			case run, ok := <-o.queue:
				if !ok {
					return
				}
				o.process(workerCtx, run)
			}
		}
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.cleanupEvery)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.runs.Cleanup()
			}
		}
	}()
}

func (o *Orchestrator) process(ctx context.Context, run *Run) {
	log := o.log.With("run_id", run.ID)
	run.SetStatus(StatusRunning, "starting")
	log.Info("run started", "document", run.DocumentRef)

	out, err := o.runner.run(ctx, run.DocumentRef, run.SetPhase)
	run.Finish(out, err)

	snap := run.Snapshot()
	if err != nil {
		log.Error("run failed", "phase", snap.Phase, "error", err)
		return
	}
	log.Info("run finished", "status", snap.Status, "cards", snap.Progress.CardsValid)
}

// Stop gracefully shuts down the worker.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	close(o.queue)
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Submit queues a run for the document reference.
func (o *Orchestrator) Submit(ref string) (*Run, error) {
	run := NewRun(ref)
	o.runs.Put(run)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		run.SetStatus(StatusFailed, "shutdown")
		return run, fmt.Errorf("orchestrator is stopped")
	}
	select {
	case o.queue <- run:
		return run, nil
	default:
		run.SetStatus(StatusFailed, "queue_full")
		return run, fmt.Errorf("run queue is full (%d)", o.maxSize)
	}
}

// GetRun returns a run by ID.
func (o *Orchestrator) GetRun(id string) *Run {
	return o.runs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
