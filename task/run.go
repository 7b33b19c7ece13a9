package task

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// State is the lifecycle of a Run.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateDone     State = "done"
)

// Summary accounts for every task of a batch.
// Abandoned is always Total - Started.
type Summary struct {
	Total     int  `json:"total"`
	Started   int  `json:"started"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Abandoned int  `json:"abandoned"`
	Cancelled bool `json:"cancelled"`
}

// RunInfo is a point-in-time view of a Run.
type RunInfo struct {
	ID         string     `json:"id"`
	State      State      `json:"state"`
	Paused     bool       `json:"paused"`
	Format     Format     `json:"format"`
	OutputDir  string     `json:"outputDir"`
	Files      []string   `json:"files"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Summary    Summary    `json:"summary"`
}

// Run is one submitted batch. It owns its queue, pause gate and cancel
// token, and drives them from a single coordinating goroutine.
type Run struct {
	ID        string
	Format    Format
	OutputDir string
	Files     []string
	CreatedAt time.Time

	queue  *Queue
	gate   *PauseGate
	cancel *CancelToken
	runner ProcessRunner
	events *EventLog
	logger hclog.Logger
	limit  int

	mu         sync.Mutex
	state      State
	summary    Summary
	finishedAt time.Time
	done       chan struct{}
}

func newRun(id string, format Format, outputDir string, files []string, limit int,
	runner ProcessRunner, events *EventLog, logger hclog.Logger) *Run {
	r := &Run{
		ID:        id,
		Format:    format,
		OutputDir: outputDir,
		Files:     files,
		CreatedAt: time.Now(),
		queue:     NewQueue(),
		gate:      NewPauseGate(),
		cancel:    NewCancelToken(),
		runner:    runner,
		events:    events,
		logger:    logger.With("batch_id", id),
		state:     StateIdle,
		done:      make(chan struct{}),
	}
	claims := newOutputClaims(files)
	for i, f := range files {
		r.queue.Enqueue(&Task{
			ID:         fmt.Sprintf("%s-%d", id, i+1),
			BatchID:    id,
			InputPath:  f,
			Format:     format,
			OutputDir:  outputDir,
			OutputPath: claims.claim(f, DefaultOutputPath(f, outputDir, format)),
		})
	}
	r.summary.Total = len(files)

	if limit <= 0 || limit > len(files) {
		limit = len(files)
	}
	r.limit = max(limit, 1)
	return r
}

// loop dispatches queued tasks until the queue is empty or the batch is
// cancelled, then waits for every dispatched task and emits the terminal
// event.
func (r *Run) loop(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { r.cancel.Cancel() })
	defer stop()

	r.setState(StateRunning)
	r.logger.Info("batch started", "tasks", r.summary.Total, "concurrency", r.limit)

	slots := make(chan struct{}, r.limit)
	var wg sync.WaitGroup
	for r.dispatchNext(ctx, slots, &wg) {
	}

	r.setState(StateDraining)
	wg.Wait()

	r.mu.Lock()
	r.state = StateDone
	r.finishedAt = time.Now()
	r.summary.Abandoned = r.summary.Total - r.summary.Started
	r.summary.Cancelled = r.cancel.Cancelled()
	summary := r.summary
	r.mu.Unlock()
	r.gate.SetPaused(false)

	r.logger.Info("batch finished", "succeeded", summary.Succeeded, "failed", summary.Failed,
		"abandoned", summary.Abandoned)
	r.events.Append(Event{
		BatchID: r.ID,
		Kind:    EventBatchDone,
		Success: summary.Failed == 0 && summary.Abandoned == 0,
		Message: completionMessage(summary),
		Summary: &summary,
	})
	close(r.done)
}

// dispatchNext starts at most one task and reports whether the loop should
// keep going. The slot is taken before the pause check so that a pause
// issued while waiting for a slot is still honored.
func (r *Run) dispatchNext(ctx context.Context, slots chan struct{}, wg *sync.WaitGroup) bool {
	select {
	case slots <- struct{}{}:
	case <-r.cancel.Done():
		return false
	}

	if !r.gate.Wait(r.cancel.Done()) || r.cancel.Cancelled() {
		<-slots
		return false
	}

	t, ok := r.queue.TryDequeue()
	if !ok {
		<-slots
		return false
	}

	r.mu.Lock()
	r.summary.Started++
	r.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { <-slots }()
		r.execute(ctx, t)
	}()
	return true
}

func (r *Run) execute(ctx context.Context, t *Task) {
	r.logger.Debug("task started", "task_id", t.ID, "input", t.InputPath)
	res := r.runSafely(ctx, t)

	event := Event{
		BatchID:    r.ID,
		TaskID:     t.ID,
		Kind:       EventTask,
		Success:    res.OK,
		OutputPath: res.OutputPath,
	}

	r.mu.Lock()
	if res.OK {
		r.summary.Succeeded++
	} else {
		r.summary.Failed++
	}
	r.mu.Unlock()

	if res.OK {
		event.Message = fmt.Sprintf("Converted: %s", res.OutputPath)
		r.logger.Info("task completed", "task_id", t.ID, "output", res.OutputPath)
	} else {
		diag := res.Diagnostic
		if diag == "" {
			diag = "conversion failed"
		}
		event.Message = fmt.Sprintf("Error converting %s: %s", filepath.Base(t.InputPath), diag)
		r.logger.Error("task failed", "task_id", t.ID, "input", t.InputPath, "error", diag)

		// Any failure stops the batch from starting further work.
		if r.cancel.Cancel() {
			r.logger.Warn("cancelling remaining tasks after failure", "task_id", t.ID)
		}
	}

	r.events.Append(event)
}

func (r *Run) runSafely(ctx context.Context, t *Task) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Result{Diagnostic: fmt.Sprintf("runner panicked: %v", p)}
		}
	}()
	return r.runner.Run(ctx, t)
}

func completionMessage(s Summary) string {
	if s.Cancelled {
		return fmt.Sprintf("Batch cancelled: %d converted, %d failed, %d not started",
			s.Succeeded, s.Failed, s.Abandoned)
	}
	return fmt.Sprintf("All files have been processed: %d converted, %d failed", s.Succeeded, s.Failed)
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) active() bool {
	return r.State() != StateDone
}

// Done is closed after the terminal event has been appended.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summary
	s.Cancelled = r.cancel.Cancelled()
	return s
}

func (r *Run) Info() RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := RunInfo{
		ID:        r.ID,
		State:     r.state,
		Paused:    r.gate.Paused(),
		Format:    r.Format,
		OutputDir: r.OutputDir,
		Files:     append([]string(nil), r.Files...),
		CreatedAt: r.CreatedAt,
		Summary:   r.summary,
	}
	info.Summary.Cancelled = r.cancel.Cancelled()
	if !r.finishedAt.IsZero() {
		finished := r.finishedAt
		info.FinishedAt = &finished
	}
	return info
}
