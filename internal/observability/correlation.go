// ABOUTME: Correlation ids tying HTTP requests, bus messages and scan sessions together
// ABOUTME: Carried in context, echoed in the X-Correlation-ID header and picked up by the logger

package observability

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// CorrelationIDHeader is the HTTP and NATS header carrying correlation ids.
const CorrelationIDHeader = "X-Correlation-ID"

// maxCorrelationIDLength bounds ids accepted from callers.
const maxCorrelationIDLength = 128

type correlationIDKey struct{}

// CorrelationID identifies one logical request across components.
type CorrelationID string

func (c CorrelationID) String() string {
	return string(c)
}

// NewCorrelationID generates a new unique correlation ID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

// WithCorrelationID returns a context carrying id.
func WithCorrelationID(ctx context.Context, id CorrelationID) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// FromContext returns the context's correlation ID, or "" if none.
func FromContext(ctx context.Context) CorrelationID {
	id, _ := ctx.Value(correlationIDKey{}).(CorrelationID)
	return id
}

// EnsureCorrelationID returns ctx unchanged if it already carries an id,
// otherwise a context with a fresh one.
func EnsureCorrelationID(ctx context.Context) (context.Context, CorrelationID) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewCorrelationID()
	return WithCorrelationID(ctx, id), id
}

// ParseCorrelationID accepts a caller-supplied id, or generates one when the
// value is empty or unreasonably long.
func ParseCorrelationID(value string) CorrelationID {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > maxCorrelationIDLength {
		return NewCorrelationID()
	}
	return CorrelationID(value)
}

// CorrelationMiddleware attaches a correlation ID to each request context
// and echoes it in the response header.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ParseCorrelationID(r.Header.Get(CorrelationIDHeader))
		w.Header().Set(CorrelationIDHeader, id.String())
		next.ServeHTTP(w, r.WithContext(WithCorrelationID(r.Context(), id)))
	})
}
