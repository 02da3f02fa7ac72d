package logging

import (
	"context"
)

const (
	RequestIDKey   = "request_id"
	EntryIDKey     = "entry_id"
	QueueKey       = "queue"
	ServiceNameKey = "service_name"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithEntryID(ctx context.Context, entryID string) context.Context {
	return context.WithValue(ctx, EntryIDKey, entryID)
}

func WithQueue(ctx context.Context, queue string) context.Context {
	return context.WithValue(ctx, QueueKey, queue)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

func GetEntryID(ctx context.Context) string {
	if entryID, ok := ctx.Value(EntryIDKey).(string); ok {
		return entryID
	}
	return ""
}

func GetQueue(ctx context.Context) string {
	if queue, ok := ctx.Value(QueueKey).(string); ok {
		return queue
	}
	return ""
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(ServiceNameKey).(string); ok {
		return serviceName
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, RequestIDKey, requestID)
	}

	if entryID := GetEntryID(ctx); entryID != "" {
		fields = append(fields, EntryIDKey, entryID)
	}

	if queue := GetQueue(ctx); queue != "" {
		fields = append(fields, QueueKey, queue)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, ServiceNameKey, serviceName)
	}

	return fields
}
