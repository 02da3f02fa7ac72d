// Package queue provides the durable per-sink work queues. Every backend is
// single-consumer and FIFO; a failed entry is requeued at the tail by the
// caller.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrCorrupt      = errors.New("queue storage is corrupt")
)

// Entry is the persisted envelope around one payload.
type Entry struct {
	ID         string            `json:"id"`
	Payload    json.RawMessage   `json:"payload"`
	Attempts   int               `json:"attempts"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	LastError  string            `json:"last_error,omitempty"`
	Trace      map[string]string `json:"trace,omitempty"`
}

// NewEntry marshals v into a fresh entry.
func NewEntry(v interface{}) (Entry, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Entry{
		ID:         uuid.NewString(),
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (e Entry) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode entry %s: %w", e.ID, err)
	}
	return nil
}

func (e Entry) validate() error {
	if e.ID == "" || len(e.Payload) == 0 {
		return fmt.Errorf("%w: entry requires id and payload", ErrInvalidInput)
	}
	return nil
}

type Queue interface {
	Name() string
	Enqueue(ctx context.Context, e Entry) error
	// DequeueHead removes and returns the oldest entry. ok is false when the
	// queue is empty.
	DequeueHead(ctx context.Context) (e Entry, ok bool, err error)
	Len(ctx context.Context) (int, error)
	// List returns a snapshot of pending entries, head first.
	List(ctx context.Context) ([]Entry, error)
	Close() error
}
