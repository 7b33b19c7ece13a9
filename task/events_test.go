package task

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogSince(t *testing.T) {
	log := NewEventLog(3)
	log.Append(Event{BatchID: "a", Message: "1"})
	log.Append(Event{BatchID: "b", Message: "2"})
	log.Append(Event{BatchID: "a", Message: "3"})

	events := log.Since(1)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Seq)
	assert.Equal(t, int64(3), events[1].Seq)
	assert.False(t, events[0].Timestamp.IsZero())

	batchA := log.BatchSince("a", 0)
	require.Len(t, batchA, 2)
	assert.Equal(t, "1", batchA[0].Message)
	assert.Equal(t, "3", batchA[1].Message)
}

func TestEventLogCapsHistory(t *testing.T) {
	log := NewEventLog(2)
	log.Append(Event{Message: "1"})
	log.Append(Event{Message: "2"})
	log.Append(Event{Message: "3"})

	events := log.Since(0)
	require.Len(t, events, 2)
	assert.Equal(t, "2", events[0].Message)
	assert.Equal(t, "3", events[1].Message)
}

func TestEventLogListeners(t *testing.T) {
	log := NewEventLog(10)

	var mu sync.Mutex
	var regular, terminal []Event
	unsubscribe := log.Subscribe(ListenerFuncs{
		Event: func(e Event) {
			mu.Lock()
			regular = append(regular, e)
			mu.Unlock()
		},
		Done: func(e Event) {
			mu.Lock()
			terminal = append(terminal, e)
			mu.Unlock()
		},
	})

	log.Append(Event{Kind: EventTask, Success: true})
	log.Append(Event{Kind: EventBatchDone})
	unsubscribe()
	log.Append(Event{Kind: EventTask})

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, regular, 1)
	require.Len(t, terminal, 1)
	assert.Equal(t, int64(2), terminal[0].Seq)
}

func TestEventLogChanged(t *testing.T) {
	log := NewEventLog(10)
	changed := log.Changed()

	select {
	case <-changed:
		t.Fatal("changed closed before any append")
	default:
	}

	log.Append(Event{Message: "x"})
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("changed not closed after append")
	}
}

func TestEventLogConcurrentAppendsKeepSeqOrder(t *testing.T) {
	log := NewEventLog(1000)

	var mu sync.Mutex
	var seqs []int64
	log.Subscribe(ListenerFuncs{Event: func(e Event) {
		mu.Lock()
		seqs = append(seqs, e.Seq)
		mu.Unlock()
	}})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Append(Event{Kind: EventTask})
		}()
	}
	wg.Wait()

	require.Len(t, seqs, 50)
	for i, seq := range seqs {
		assert.Equal(t, int64(i+1), seq)
	}
}
