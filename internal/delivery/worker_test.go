package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpipe/internal/logger"
	"leadpipe/internal/queue"
	"leadpipe/pkg/retry"
)

type item struct {
	Name string `json:"name"`
}

// scriptedSink fails the configured number of times per item name, then
// succeeds, recording every successful delivery in order.
type scriptedSink struct {
	mu        sync.Mutex
	failures  map[string]int
	fatal     map[string]bool
	panics    map[string]bool
	delivered []string
	calls     int
}

func newScriptedSink() *scriptedSink {
	return &scriptedSink{
		failures: map[string]int{},
		fatal:    map[string]bool{},
		panics:   map[string]bool{},
	}
}

func (s *scriptedSink) Name() string { return "scripted" }

func (s *scriptedSink) Deliver(ctx context.Context, payload json.RawMessage) error {
	var it item
	if err := json.Unmarshal(payload, &it); err != nil {
		return retry.NewFatalError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if s.panics[it.Name] {
		delete(s.panics, it.Name)
		panic("sink exploded")
	}
	if s.fatal[it.Name] {
		return retry.NewFatalError(errors.New("permanently rejected"))
	}
	if s.failures[it.Name] > 0 {
		s.failures[it.Name]--
		return errors.New("downstream unavailable")
	}
	s.delivered = append(s.delivered, it.Name)
	return nil
}

func (s *scriptedSink) Delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.delivered...)
}

func enqueue(t *testing.T, q queue.Queue, names ...string) {
	t.Helper()
	for _, n := range names {
		e, err := queue.NewEntry(item{Name: n})
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(context.Background(), e))
	}
}

func drainWorker(t *testing.T, w *Worker) []Outcome {
	t.Helper()
	var outcomes []Outcome
	for i := 0; i < 100; i++ {
		outcome, err := w.ProcessNext(context.Background())
		require.NoError(t, err)
		if outcome == OutcomeEmpty {
			return outcomes
		}
		outcomes = append(outcomes, outcome)
	}
	t.Fatal("queue never drained")
	return nil
}

func newTestWorker(q queue.Queue, sink Sink, opts ...Option) *Worker {
	opts = append([]Option{WithFailureBackoff(0, 0), WithPollInterval(time.Millisecond)}, opts...)
	return NewWorker(q, sink, logger.NopLogger(), opts...)
}

func TestWorker_DeliversInArrivalOrder(t *testing.T) {
	q := queue.NewMemoryQueue("leads")
	sink := newScriptedSink()
	enqueue(t, q, "A", "B", "C")

	outcomes := drainWorker(t, newTestWorker(q, sink))

	assert.Equal(t, []Outcome{OutcomeDelivered, OutcomeDelivered, OutcomeDelivered}, outcomes)
	assert.Equal(t, []string{"A", "B", "C"}, sink.Delivered())
}

func TestWorker_FailedEntryMovesBehindQueuedEntries(t *testing.T) {
	q := queue.NewMemoryQueue("leads")
	sink := newScriptedSink()
	sink.failures["B"] = 1
	enqueue(t, q, "A", "B", "C")

	outcomes := drainWorker(t, newTestWorker(q, sink))

	assert.Equal(t, []Outcome{OutcomeDelivered, OutcomeRequeued, OutcomeDelivered, OutcomeDelivered}, outcomes)
	assert.Equal(t, []string{"A", "C", "B"}, sink.Delivered())
}

func TestWorker_AtLeastOnceAfterNFailures(t *testing.T) {
	for _, n := range []int{1, 3, 7} {
		q, err := queue.NewFileQueue("leads", filepath.Join(t.TempDir(), "leads.json"))
		require.NoError(t, err)
		sink := newScriptedSink()
		sink.failures["A"] = n
		enqueue(t, q, "A")

		outcomes := drainWorker(t, newTestWorker(q, sink))

		assert.Len(t, outcomes, n+1)
		assert.Equal(t, []string{"A"}, sink.Delivered())
		assert.Equal(t, n+1, sink.calls)

		remaining, err := q.Len(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, remaining)
	}
}

func TestWorker_RequeueRecordsAttempts(t *testing.T) {
	q := queue.NewMemoryQueue("leads")
	sink := newScriptedSink()
	sink.failures["A"] = 100
	enqueue(t, q, "A")
	w := newTestWorker(q, sink)

	for i := 0; i < 2; i++ {
		outcome, err := w.ProcessNext(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeRequeued, outcome)
	}

	entries, err := q.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Attempts)
	assert.Equal(t, "downstream unavailable", entries[0].LastError)
}

func TestWorker_UnlimitedRetriesWithoutDeadLetter(t *testing.T) {
	q := queue.NewMemoryQueue("leads")
	sink := newScriptedSink()
	sink.fatal["A"] = true
	enqueue(t, q, "A")
	w := newTestWorker(q, sink, WithMaxAttempts(2))

	for i := 0; i < 5; i++ {
		outcome, err := w.ProcessNext(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeRequeued, outcome)
	}
}

func TestWorker_DeadLetterAfterMaxAttempts(t *testing.T) {
	q := queue.NewMemoryQueue("leads")
	dlq := queue.NewMemoryQueue("leads_dead_letter")
	sink := newScriptedSink()
	sink.failures["A"] = 100
	enqueue(t, q, "A", "B")

	outcomes := drainWorker(t, newTestWorker(q, sink, WithMaxAttempts(3), WithDeadLetter(dlq)))

	assert.Equal(t, []Outcome{
		OutcomeRequeued, OutcomeDelivered, OutcomeRequeued, OutcomeDeadLettered,
	}, outcomes)
	assert.Equal(t, []string{"B"}, sink.Delivered())

	dead, err := dlq.List(context.Background())
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
}

func TestWorker_FatalGoesStraightToDeadLetter(t *testing.T) {
	q := queue.NewMemoryQueue("leads")
	dlq := queue.NewMemoryQueue("leads_dead_letter")
	sink := newScriptedSink()
	enqueue(t, q, "A")
	require.NoError(t, q.Enqueue(context.Background(), queue.Entry{ID: "broken", Payload: json.RawMessage(`[1,2]`)}))

	outcomes := drainWorker(t, newTestWorker(q, sink, WithDeadLetter(dlq)))

	assert.Equal(t, []Outcome{OutcomeDelivered, OutcomeDeadLettered}, outcomes)
	dead, err := dlq.List(context.Background())
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "broken", dead[0].ID)
}

func TestWorker_PanicIsRequeued(t *testing.T) {
	q := queue.NewMemoryQueue("leads")
	sink := newScriptedSink()
	sink.panics["A"] = true
	enqueue(t, q, "A")

	outcomes := drainWorker(t, newTestWorker(q, sink))

	assert.Equal(t, []Outcome{OutcomeRequeued, OutcomeDelivered}, outcomes)
	assert.Equal(t, []string{"A"}, sink.Delivered())
}

func TestWorker_EmptyQueue(t *testing.T) {
	w := newTestWorker(queue.NewMemoryQueue("leads"), newScriptedSink())
	outcome, err := w.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, outcome)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	q := queue.NewMemoryQueue("leads")
	sink := newScriptedSink()
	sink.failures["B"] = 2
	enqueue(t, q, "A", "B", "C")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestWorker(q, sink).Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(sink.Delivered()) == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, []string{"A", "C", "B"}, sink.Delivered())
}

// cancellingSink cancels the worker context mid-delivery and fails.
type cancellingSink struct {
	cancel context.CancelFunc
	fatal  bool
}

func (s cancellingSink) Name() string { return "cancelling" }

func (s cancellingSink) Deliver(ctx context.Context, _ json.RawMessage) error {
	s.cancel()
	if s.fatal {
		return retry.NewFatalError(ctx.Err())
	}
	return ctx.Err()
}

func TestWorker_RequeuesWhenCancelledMidDelivery(t *testing.T) {
	q := queue.NewMemoryQueue("leads")
	enqueue(t, q, "A")

	ctx, cancel := context.WithCancel(context.Background())
	w := newTestWorker(q, cancellingSink{cancel: cancel})

	outcome, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRequeued, outcome)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWorker_ShutdownNeverDeadLetters(t *testing.T) {
	q := queue.NewMemoryQueue("leads")
	dlq := queue.NewMemoryQueue("leads_dead_letter")
	enqueue(t, q, "A")

	ctx, cancel := context.WithCancel(context.Background())
	w := newTestWorker(q, cancellingSink{cancel: cancel, fatal: true}, WithDeadLetter(dlq), WithMaxAttempts(1))

	outcome, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRequeued, outcome)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = dlq.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "dead_lettered", OutcomeDeadLettered.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
