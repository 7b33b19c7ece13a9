package task

import (
	"sync"
	"time"
)

// EventKind separates per-task outcomes from the terminal batch event.
type EventKind string

const (
	EventTask      EventKind = "task"
	EventBatchDone EventKind = "batch_done"
)

// Event is a sequenced outcome consumed by the presentation layer.
type Event struct {
	Seq        int64     `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	BatchID    string    `json:"batchId"`
	TaskID     string    `json:"taskId,omitempty"`
	Kind       EventKind `json:"kind"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	OutputPath string    `json:"outputPath,omitempty"`
	Summary    *Summary  `json:"summary,omitempty"`
}

// Listener receives every appended event in sequence order. OnBatchDone is
// called instead of OnEvent for the terminal event of a batch, and nothing
// else for that batch follows it. Implementations must not block and must
// not call Manager.Cancel.
type Listener interface {
	OnEvent(e Event)
	OnBatchDone(e Event)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Event func(Event)
	Done  func(Event)
}

func (l ListenerFuncs) OnEvent(e Event) {
	if l.Event != nil {
		l.Event(e)
	}
}

func (l ListenerFuncs) OnBatchDone(e Event) {
	if l.Done != nil {
		l.Done(e)
	}
}

// EventLog is an append-only, bounded, in-memory event history shared by
// all batches of a Manager.
type EventLog struct {
	dispatchMu sync.Mutex // serializes Append so listeners observe seq order

	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	listeners map[int]Listener
	nextSub   int
	changed   chan struct{}
}

// NewEventLog creates a log that keeps at most maxEvents recent events.
func NewEventLog(maxEvents int) *EventLog {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &EventLog{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		listeners: make(map[int]Listener),
		changed:   make(chan struct{}),
	}
}

// Append assigns a sequence number and timestamp, stores the event and hands
// it to every listener before returning.
func (l *EventLog) Append(event Event) Event {
	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()

	l.mu.Lock()
	l.nextSeq++
	event.Seq = l.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		trim := len(l.events) - l.maxEvents
		l.events = append([]Event(nil), l.events[trim:]...)
	}
	listeners := make([]Listener, 0, len(l.listeners))
	for _, ln := range l.listeners {
		listeners = append(listeners, ln)
	}
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()

	for _, ln := range listeners {
		if event.Kind == EventBatchDone {
			ln.OnBatchDone(event)
		} else {
			ln.OnEvent(event)
		}
	}
	return event
}

// Subscribe registers ln and returns a function that removes it.
func (l *EventLog) Subscribe(ln Listener) func() {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.listeners[id] = ln
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

// Since returns retained events with sequence strictly greater than seq.
func (l *EventLog) Since(seq int64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(l.events))
	for _, event := range l.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// BatchSince is Since restricted to one batch.
func (l *EventLog) BatchSince(batchID string, seq int64) []Event {
	var out []Event
	for _, event := range l.Since(seq) {
		if event.BatchID == batchID {
			out = append(out, event)
		}
	}
	return out
}

// Changed returns a channel closed on the next Append.
func (l *EventLog) Changed() <-chan struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.changed
}
