package queue

import (
	"context"
	"sync"
)

// MemoryQueue is a non-durable queue for tests and memory:// DSNs.
type MemoryQueue struct {
	name    string
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryQueue(name string) *MemoryQueue {
	return &MemoryQueue{name: name}
}

func (q *MemoryQueue) Name() string { return q.name }

func (q *MemoryQueue) Enqueue(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
	return nil
}

func (q *MemoryQueue) DequeueHead(ctx context.Context) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false, nil
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head, true, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}

func (q *MemoryQueue) List(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries...), nil
}

func (q *MemoryQueue) Close() error {
	return nil
}
