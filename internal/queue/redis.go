package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps entries in a Redis list: RPUSH to enqueue, LPOP to
// dequeue. Each command is atomic on the server, so no local lock is needed.
type RedisQueue struct {
	name   string
	key    string
	client redis.UniversalClient
	owned  bool
}

// NewRedisQueue wraps an existing client. The caller keeps ownership of it.
func NewRedisQueue(name, key string, client redis.UniversalClient) *RedisQueue {
	if key == "" {
		key = "leadpipe:queue:" + name
	}
	return &RedisQueue{name: name, key: key, client: client}
}

func (q *RedisQueue) Name() string { return q.name }

func (q *RedisQueue) Key() string { return q.key }

// Client exposes the underlying connection for health checks.
func (q *RedisQueue) Client() redis.UniversalClient { return q.client }

func (q *RedisQueue) Enqueue(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.key, err)
	}
	return nil
}

func (q *RedisQueue) DequeueHead(ctx context.Context) (Entry, bool, error) {
	data, err := q.client.LPop(ctx, q.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("lpop %s: %w", q.key, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, q.key, err)
	}
	return e, true, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", q.key, err)
	}
	return int(n), nil
}

func (q *RedisQueue) List(ctx context.Context) ([]Entry, error) {
	items, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", q.key, err)
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, q.key, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (q *RedisQueue) Close() error {
	if q.owned {
		return q.client.Close()
	}
	return nil
}
