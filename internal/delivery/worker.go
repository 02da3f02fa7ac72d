// Package delivery drains a durable queue into a Sink, one entry at a time,
// requeueing failures at the tail.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/codes"

	"leadpipe/internal/constants"
	"leadpipe/internal/logger"
	"leadpipe/internal/queue"
	apperrors "leadpipe/pkg/errors"
	"leadpipe/pkg/logging"
	"leadpipe/pkg/metrics"
	"leadpipe/pkg/retry"
	"leadpipe/pkg/tracing"
)

// Sink performs the side effect for one payload. A nil error means the entry
// is done; any error requeues it. Errors marked fatal with
// retry.NewFatalError are dead-lettered when a dead-letter queue exists.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, payload json.RawMessage) error
}

type Outcome int

const (
	OutcomeEmpty Outcome = iota
	OutcomeDelivered
	OutcomeRequeued
	OutcomeDeadLettered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEmpty:
		return "empty"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRequeued:
		return "requeued"
	case OutcomeDeadLettered:
		return "dead_lettered"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Worker struct {
	queue        queue.Queue
	sink         Sink
	deadLetter   queue.Queue
	logger       logger.Logger
	pollInterval time.Duration
	maxAttempts  int
	failures     backoff.BackOff
}

type Option func(*Worker)

func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithFailureBackoff sets the pause after a failed delivery. It grows
// exponentially up to max and resets after a success.
func WithFailureBackoff(initial, max time.Duration) Option {
	return func(w *Worker) {
		w.failures = retry.FailureBackoff(initial, max)
	}
}

// WithMaxAttempts caps deliveries per entry. Zero retries forever.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n >= 0 {
			w.maxAttempts = n
		}
	}
}

// WithDeadLetter receives entries that exhausted their attempts or failed
// fatally.
func WithDeadLetter(q queue.Queue) Option {
	return func(w *Worker) {
		w.deadLetter = q
	}
}

func NewWorker(q queue.Queue, sink Sink, log logger.Logger, opts ...Option) *Worker {
	w := &Worker{
		queue:        q,
		sink:         sink,
		logger:       log,
		pollInterval: constants.DefaultPollInterval,
		failures:     retry.FailureBackoff(constants.DefaultInitialBackoff, constants.DefaultMaxBackoff),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled. Sink failures never stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	ctx = logging.WithQueue(ctx, w.queue.Name())
	w.logger.InfowCtx(ctx, "Delivery worker started",
		"sink", w.sink.Name(),
		"poll_interval", w.pollInterval,
		"max_attempts", w.maxAttempts,
	)

	for {
		if ctx.Err() != nil {
			w.logger.InfowCtx(ctx, "Delivery worker stopped", "sink", w.sink.Name())
			return nil
		}

		outcome, err := w.ProcessNext(ctx)
		if err != nil {
			w.logger.ErrorwCtx(ctx, "Queue operation failed", "sink", w.sink.Name(), "error", err)
		}

		var wait time.Duration
		switch {
		case err != nil, outcome == OutcomeEmpty:
			wait = w.pollInterval
		case outcome == OutcomeRequeued:
			wait = w.failures.NextBackOff()
		default:
			w.failures.Reset()
		}

		if wait > 0 && !sleep(ctx, wait) {
			w.logger.InfowCtx(ctx, "Delivery worker stopped", "sink", w.sink.Name())
			return nil
		}
	}
}

// ProcessNext handles at most one entry. The returned error reports queue
// failures only; sink failures are expressed through the outcome.
func (w *Worker) ProcessNext(ctx context.Context) (Outcome, error) {
	entry, ok, err := w.queue.DequeueHead(ctx)
	if err != nil {
		return OutcomeEmpty, fmt.Errorf("dequeue %s: %w", w.queue.Name(), err)
	}
	if !ok {
		return OutcomeEmpty, nil
	}

	ctx = logging.WithEntryID(logging.WithQueue(ctx, w.queue.Name()), entry.ID)
	// The entry is out of the queue now; it must be written back even when
	// shutdown cancels ctx mid-delivery.
	persistCtx := context.WithoutCancel(ctx)

	spanCtx, span := tracing.StartDeliverySpan(ctx, w.sink.Name(), entry.ID, entry.Attempts+1, entry.Trace)
	start := time.Now()
	deliverErr := w.deliver(spanCtx, entry)
	duration := time.Since(start)

	if deliverErr == nil {
		span.End()
		metrics.ObserveDelivery(w.sink.Name(), "success", duration)
		w.logger.InfowCtx(ctx, "Entry delivered",
			"sink", w.sink.Name(),
			"attempts", entry.Attempts+1,
			"duration_ms", duration.Milliseconds(),
		)
		return OutcomeDelivered, nil
	}

	span.RecordError(deliverErr)
	span.SetStatus(codes.Error, deliverErr.Error())
	span.End()
	metrics.ObserveDelivery(w.sink.Name(), "failure", duration)

	entry.Attempts++
	entry.LastError = deliverErr.Error()

	if reason, dead := w.deadLetterReason(ctx, entry, deliverErr); dead {
		if err := w.deadLetter.Enqueue(persistCtx, entry); err != nil {
			w.logger.ErrorwCtx(ctx, "Dead-letter enqueue failed, requeueing",
				"sink", w.sink.Name(),
				"error", err,
			)
		} else {
			metrics.IncDeadLetter(w.queue.Name(), reason)
			w.logger.WarnwCtx(ctx, "Entry moved to dead-letter queue",
				"sink", w.sink.Name(),
				"attempts", entry.Attempts,
				"reason", reason,
				"error", deliverErr,
			)
			return OutcomeDeadLettered, nil
		}
	}

	if err := w.queue.Enqueue(persistCtx, entry); err != nil {
		w.logger.ErrorwCtx(ctx, "Requeue failed, entry dropped",
			"sink", w.sink.Name(),
			"payload", string(entry.Payload),
			"error", err,
		)
		return OutcomeRequeued, fmt.Errorf("requeue %s: %w", entry.ID, err)
	}

	metrics.IncRequeue(w.queue.Name())
	w.logger.WarnwCtx(ctx, "Delivery failed, entry requeued",
		"sink", w.sink.Name(),
		"attempts", entry.Attempts,
		"error", deliverErr,
	)
	return OutcomeRequeued, nil
}

// deadLetterReason never dead-letters a failure caused by shutdown.
func (w *Worker) deadLetterReason(ctx context.Context, entry queue.Entry, err error) (string, bool) {
	if w.deadLetter == nil || ctx.Err() != nil {
		return "", false
	}
	if retry.IsFatal(err) {
		return "fatal", true
	}
	if w.maxAttempts > 0 && entry.Attempts >= w.maxAttempts {
		return "max_attempts", true
	}
	return "", false
}

// deliver converts a sink panic into an ordinary failure so the entry is
// requeued and the loop survives.
func (w *Worker) deliver(ctx context.Context, entry queue.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := apperrors.RecoverPanic(r)
			fields := []interface{}{"sink", w.sink.Name(), "error", perr}
			var appErr *apperrors.Error
			if errors.As(perr, &appErr) {
				fields = append(fields, "stack_trace", appErr.Details["stack_trace"])
			}
			w.logger.ErrorwCtx(ctx, "Sink panicked", fields...)
			err = fmt.Errorf("sink %s panicked: %s", w.sink.Name(), perr.Error())
		}
	}()
	return w.sink.Deliver(ctx, entry.Payload)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
