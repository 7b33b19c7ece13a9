package task

import "sync"

// Queue is an unbounded FIFO of tasks shared by the workers of one batch.
type Queue struct {
	mu    sync.Mutex
	tasks []*Task
}

func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends t. It never blocks on consumers.
func (q *Queue) Enqueue(t *Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

// TryDequeue removes and returns the head of the queue. Each task is
// returned to exactly one caller.
func (q *Queue) TryDequeue() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return t, true
}

// IsEmpty is a hint; the answer may be stale by the time it is used.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
