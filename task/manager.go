package task

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ffbatch/config"

	"github.com/hashicorp/go-hclog"
	"github.com/lithammer/shortuuid/v4"
	"github.com/shirou/gopsutil/v3/cpu"
)

// ProcessRunner converts a single task. Failures are reported through
// Result, never as a panic or error.
type ProcessRunner interface {
	Run(ctx context.Context, t *Task) Result
}

// Manager accepts batches and allows at most one of them to be active.
type Manager struct {
	cfg         *config.Config
	runner      ProcessRunner
	events      *EventLog
	logger      hclog.Logger
	concurrency int

	mu     sync.Mutex
	ctx    context.Context
	runs   map[string]*Run
	order  []string
	active *Run
}

func NewManager(cfg *config.Config, runner ProcessRunner, logger hclog.Logger) (*Manager, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	concurrency := cfg.MaxConcurrency
	if concurrency < 0 {
		n, err := cpu.Counts(true)
		if err != nil {
			return nil, fmt.Errorf("could not count CPUs for default concurrency: %w", err)
		}
		concurrency = n
	}

	m := &Manager{
		cfg:         cfg,
		runner:      runner,
		events:      NewEventLog(cfg.EventBuffer),
		logger:      logger.Named("batch"),
		concurrency: concurrency,
		ctx:         context.Background(),
		runs:        make(map[string]*Run),
	}
	return m, nil
}

// Start binds new batches to ctx and launches the history cleanup loop.
// Cancelling ctx stops dispatch in every running batch.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	m.logger.Info("batch manager started", "concurrency", m.concurrency)
	if m.cfg.HistoryLifetime > 0 {
		go m.cleanupLoop(ctx)
	}
}

// Events returns the log shared by all batches of this manager.
func (m *Manager) Events() *EventLog {
	return m.events
}

// Submit validates a batch, enqueues one task per file and starts it.
// Validation stops at the first failing field.
func (m *Manager) Submit(files []string, format, outputDir string) (*Run, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, &ValidationError{Field: "format", Reason: err.Error()}
	}

	files = uniqueFiles(files)
	if len(files) == 0 {
		return nil, &ValidationError{Field: "files", Reason: "select at least one video file"}
	}

	outputDir = strings.TrimSpace(outputDir)
	if outputDir == "" {
		return nil, &ValidationError{Field: "outputDir", Reason: "an output directory is required"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.active() {
		return nil, ErrBatchActive
	}

	id := fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix())
	r := newRun(id, f, outputDir, files, m.concurrency, m.runner, m.events, m.logger)
	m.runs[id] = r
	m.order = append(m.order, id)
	m.active = r

	go r.loop(m.ctx)
	m.logger.Info("batch submitted", "batch_id", id, "files", len(files), "format", f, "output_dir", outputDir)
	return r, nil
}

func (m *Manager) Get(id string) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	return r, ok
}

// Active returns the batch that is still running or draining, if any.
func (m *Manager) Active() (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || !m.active.active() {
		return nil, false
	}
	return m.active, true
}

// List returns every retained batch in submission order.
func (m *Manager) List() []RunInfo {
	m.mu.Lock()
	runs := make([]*Run, 0, len(m.order))
	for _, id := range m.order {
		runs = append(runs, m.runs[id])
	}
	m.mu.Unlock()

	infos := make([]RunInfo, 0, len(runs))
	for _, r := range runs {
		infos = append(infos, r.Info())
	}
	return infos
}

// Pause stops the batch from starting new tasks. Running tasks continue.
func (m *Manager) Pause(id string) error {
	return m.setPaused(id, true)
}

func (m *Manager) Resume(id string) error {
	return m.setPaused(id, false)
}

func (m *Manager) setPaused(id string, paused bool) error {
	r, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	// A finished batch has nothing left to gate.
	if r.State() == StateDone {
		return nil
	}
	if r.gate.SetPaused(paused) {
		m.logger.Info("batch pause state changed", "batch_id", id, "paused", paused)
	}
	return nil
}

// Cancel stops the batch from starting new tasks and blocks until every
// task already started has finished and the terminal event is out. A
// finished batch is never left paused.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	r, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}

	if r.cancel.Cancel() {
		m.logger.Info("batch cancellation requested", "batch_id", id)
	}

	select {
	case <-r.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// CancelActive cancels whichever batch is currently active.
func (m *Manager) CancelActive(ctx context.Context) error {
	r, ok := m.Active()
	if !ok {
		return ErrNoActiveBatch
	}
	return m.Cancel(ctx, r.ID)
}

// cleanupLoop forgets finished batches older than the history lifetime.
func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HistoryLifetime / 4) // Check 4 times per lifetime
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("cleanup loop shutting down")
			return
		case <-ticker.C:
			if n := m.prune(time.Now().Add(-m.cfg.HistoryLifetime)); n > 0 {
				m.logger.Info("pruned finished batches", "count", n)
			}
		}
	}
}

func (m *Manager) prune(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	pruned := 0
	for _, id := range m.order {
		r := m.runs[id]
		info := r.Info()
		if info.FinishedAt != nil && info.FinishedAt.Before(before) {
			delete(m.runs, id)
			pruned++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return pruned
}

// uniqueFiles drops blank entries and repeats, keeping first-seen order.
func uniqueFiles(files []string) []string {
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
