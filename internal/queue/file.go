package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileQueue stores the whole queue as one JSON array. Every operation reads
// the file, mutates the slice and replaces the file through a synced
// temporary, so a crash leaves either the previous or the next state.
type FileQueue struct {
	name string
	path string
	mu   sync.Mutex
}

func NewFileQueue(name, path string) (*FileQueue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: file queue path is empty", ErrInvalidInput)
	}
	q := &FileQueue{name: name, path: path}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.readLocked(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *FileQueue) Name() string { return q.name }

func (q *FileQueue) Path() string { return q.path }

func (q *FileQueue) Enqueue(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.readLocked()
	if err != nil {
		return err
	}
	return q.writeLocked(append(entries, e))
}

func (q *FileQueue) DequeueHead(ctx context.Context) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.readLocked()
	if err != nil {
		return Entry{}, false, err
	}
	if len(entries) == 0 {
		return Entry{}, false, nil
	}

	head := entries[0]
	if err := q.writeLocked(entries[1:]); err != nil {
		return Entry{}, false, err
	}
	return head, true, nil
}

func (q *FileQueue) Len(ctx context.Context) (int, error) {
	entries, err := q.List(ctx)
	return len(entries), err
}

func (q *FileQueue) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readLocked()
}

func (q *FileQueue) Close() error {
	return nil
}

// readLocked loads the array, creating "[]" when the file does not exist.
// Unparseable content is reported, never reset.
func (q *FileQueue) readLocked() ([]Entry, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := q.writeLocked(nil); err != nil {
				return nil, err
			}
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("read queue %s: %w", q.name, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrCorrupt, q.path)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, q.path, err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

func (q *FileQueue) writeLocked(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal queue %s: %w", q.name, err)
	}

	dir := filepath.Dir(q.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}

	tmp := q.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp, q.path); err != nil {
		return fmt.Errorf("replace queue file: %w", err)
	}
	syncDir(dir)
	return nil
}

// syncDir persists the rename. Some filesystems refuse fsync on
// directories; that is ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
