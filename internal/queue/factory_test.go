package queue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		dsn     string
		check   func(t *testing.T, q Queue)
		wantErr bool
	}{
		{
			name: "bare path",
			dsn:  filepath.Join(dir, "bare.json"),
			check: func(t *testing.T, q Queue) {
				fq, ok := q.(*FileQueue)
				require.True(t, ok)
				assert.Equal(t, filepath.Join(dir, "bare.json"), fq.Path())
			},
		},
		{
			name: "file scheme absolute",
			dsn:  "file://" + filepath.Join(dir, "abs.json"),
			check: func(t *testing.T, q Queue) {
				fq, ok := q.(*FileQueue)
				require.True(t, ok)
				assert.Equal(t, filepath.Join(dir, "abs.json"), fq.Path())
			},
		},
		{
			name: "memory",
			dsn:  "memory://",
			check: func(t *testing.T, q Queue) {
				_, ok := q.(*MemoryQueue)
				assert.True(t, ok)
			},
		},
		{
			name: "redis with key",
			dsn:  "redis://" + mr.Addr() + "/0?key=custom:leads",
			check: func(t *testing.T, q Queue) {
				rq, ok := q.(*RedisQueue)
				require.True(t, ok)
				assert.Equal(t, "custom:leads", rq.Key())

				e, err := NewEntry(payload{Name: "A"})
				require.NoError(t, err)
				require.NoError(t, q.Enqueue(context.Background(), e))
				assert.True(t, mr.Exists("custom:leads"))
			},
		},
		{name: "empty", dsn: "", wantErr: true},
		{name: "unknown scheme", dsn: "kafka://broker:9092", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Open("leads", tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer q.Close()
			assert.Equal(t, "leads", q.Name())
			tt.check(t, q)
		})
	}
}

func TestFilePath_Relative(t *testing.T) {
	path, err := filePath("file://data/leads.json")
	require.NoError(t, err)
	assert.Equal(t, "data/leads.json", path)
}

func TestInstrumented_PassesThrough(t *testing.T) {
	q := NewInstrumented(NewMemoryQueue("leads"))
	ctx := context.Background()

	e, err := NewEntry(payload{Name: "A"})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, e))

	got, ok, err := q.DequeueHead(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.ID, got.ID)

	_, ok, err = q.DequeueHead(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, isMemory := q.Unwrap().(*MemoryQueue)
	assert.True(t, isMemory)
}
