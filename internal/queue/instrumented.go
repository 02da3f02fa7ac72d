package queue

import (
	"context"

	"leadpipe/pkg/metrics"
)

// Instrumented records operation counts and depth for the wrapped queue.
type Instrumented struct {
	Queue
}

func NewInstrumented(q Queue) *Instrumented {
	return &Instrumented{Queue: q}
}

func (q *Instrumented) Enqueue(ctx context.Context, e Entry) error {
	err := q.Queue.Enqueue(ctx, e)
	q.record(ctx, "enqueue", err)
	return err
}

func (q *Instrumented) DequeueHead(ctx context.Context) (Entry, bool, error) {
	e, ok, err := q.Queue.DequeueHead(ctx)
	op := "dequeue"
	if err == nil && !ok {
		op = "dequeue_empty"
	}
	q.record(ctx, op, err)
	return e, ok, err
}

// Unwrap returns the backend.
func (q *Instrumented) Unwrap() Queue {
	return q.Queue
}

func (q *Instrumented) record(ctx context.Context, op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncQueueOperation(q.Name(), op, status)

	if n, lenErr := q.Queue.Len(ctx); lenErr == nil {
		metrics.SetQueueDepth(q.Name(), n)
	}
}
