package queue

import (
	"context"
	"sync"

	"taskpilot/internal/domain"
)

// MemoryQueue es una cola en proceso. No sobrevive reinicios; sirve para desarrollo y tests.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []domain.EmailJob
	signal chan struct{}
	closed bool
	done   chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job domain.EmailJob) error {
	if err := validateJob(job); err != nil {
		return err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, job)
	q.mu.Unlock()
	q.notify()
	return nil
}

func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		job, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.done:
				return nil
			case <-q.signal:
				continue
			}
		}
		if err := handler(ctx, job); err != nil {
			q.requeue(job)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Len devuelve los jobs pendientes.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

func (q *MemoryQueue) pop() (domain.EmailJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.EmailJob{}, false
	}
	job := q.items[0]
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.notify()
	}
	return job, true
}

func (q *MemoryQueue) requeue(job domain.EmailJob) {
	q.mu.Lock()
	q.items = append(q.items, job)
	q.mu.Unlock()
	q.notify()
}

func (q *MemoryQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
