package queue

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Open builds the queue named name from dsn:
//
//	data/leads.json            file backend
//	file:///var/lib/leads.json file backend
//	memory://                  in-process backend
//	redis://host:6379/0?key=k  Redis list backend
func Open(name, dsn string) (Queue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: queue %s has no DSN", ErrInvalidInput, name)
	}

	scheme, _, hasScheme := strings.Cut(dsn, "://")
	if !hasScheme {
		return NewFileQueue(name, dsn)
	}

	switch strings.ToLower(scheme) {
	case "file":
		path, err := filePath(dsn)
		if err != nil {
			return nil, err
		}
		return NewFileQueue(name, path)
	case "memory", "mem":
		return NewMemoryQueue(name), nil
	case "redis", "rediss":
		return openRedis(name, dsn)
	default:
		return nil, fmt.Errorf("unsupported queue scheme: %s", scheme)
	}
}

// filePath accepts file:///abs/path and the relative file://dir/file form.
func filePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse queue DSN: %w", err)
	}
	path := parsed.Path
	if parsed.Host != "" && parsed.Host != "localhost" {
		path = parsed.Host + path
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: file queue DSN has no path", ErrInvalidInput)
	}
	return path, nil
}

func openRedis(name, dsn string) (Queue, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse queue DSN: %w", err)
	}

	// key is ours; go-redis rejects unknown options.
	query := parsed.Query()
	key := query.Get("key")
	query.Del("key")
	parsed.RawQuery = query.Encode()

	opts, err := redis.ParseURL(parsed.String())
	if err != nil {
		return nil, fmt.Errorf("parse redis DSN: %w", err)
	}

	q := NewRedisQueue(name, key, redis.NewClient(opts))
	q.owned = true
	return q, nil
}
