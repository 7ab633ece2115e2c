// Package trace carries a request correlation ID from the HTTP layer down to
// executor calls and audit entries.
package trace

import (
	"context"
	"regexp"

	"github.com/google/uuid"
)

// Header is the inbound/outbound header holding the trace ID.
const Header = "X-Request-Id"

type traceKey struct{}

// safeID limits caller-supplied IDs to something safe to log.
var safeID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// GenerateID returns a new trace ID.
func GenerateID() string {
	return "t_" + uuid.NewString()
}

// Accept returns id when it is usable as a trace ID, otherwise a fresh one.
func Accept(id string) string {
	if safeID.MatchString(id) {
		return id
	}
	return GenerateID()
}

// WithTraceID returns a child context carrying id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}
