// Package logger provides the structured logger used by the gateway, the
// transfers service and the command line tool.
package logger

import (
	"context"
)

// Logger is a leveled, structured logger. Every method takes a message followed
// by alternating key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger that adds args to every entry.
	With(args ...any) Logger

	// WithContext returns a child logger carrying the request id and tenant
	// stored in ctx, if any.
	WithContext(ctx context.Context) Logger
}

type contextKey int

const (
	requestIDKey contextKey = iota
	tenantKey
)

// ContextWithRequestID stores a request correlation id in ctx.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ContextWithTenant stores the tenant id in ctx.
func ContextWithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

// RequestIDFromContext returns the request id stored in ctx or "".
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// TenantFromContext returns the tenant stored in ctx or "".
func TenantFromContext(ctx context.Context) string {
	return stringValue(ctx, tenantKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// contextFields returns the key-value pairs WithContext attaches.
func contextFields(ctx context.Context) []any {
	var fields []any
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, "request_id", id)
	}
	if tenant := TenantFromContext(ctx); tenant != "" {
		fields = append(fields, "tenant", tenant)
	}
	return fields
}
