package queue

import (
	"context"
	"sync"
	"time"

	"bordereau/internal/usecase"
)

// MemoryQueue keeps jobs in process. Once max jobs are buffered the oldest
// one is dropped.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []Job
	max  int
	now  func() time.Time
}

var _ usecase.Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(max int) *MemoryQueue {
	if max <= 0 {
		max = 10000
	}
	return &MemoryQueue{max: max, now: time.Now}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, effect usecase.Effect) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == q.max {
		q.jobs = q.jobs[1:]
	}
	q.jobs = append(q.jobs, Job{
		Kind:       effect.Kind,
		DocumentID: effect.DocumentID,
		Family:     string(effect.Family),
		EnqueuedAt: q.now().UTC(),
	})
	return nil
}

// Drain returns and forgets the buffered jobs, oldest first.
func (q *MemoryQueue) Drain() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.jobs
	q.jobs = nil
	return out
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
