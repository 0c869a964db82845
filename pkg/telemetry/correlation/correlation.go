// Package correlation carries one id across a request, the events and ledger
// entries it writes, and the audit rows that describe it.
package correlation

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey struct{}

// ExtractCorrelationID returns the id on ctx, or "" when none is set.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// ContextWithCorrelationID stores id on ctx. An empty id leaves ctx untouched.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// EnsureCorrelationID keeps an inbound id or mints a ULID so ids sort by arrival.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := ExtractCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return ContextWithCorrelationID(ctx, id), id
}

// AnnotateMeta stamps correlation and trace ids into a JSON metadata map,
// allocating one when meta is nil.
func AnnotateMeta(ctx context.Context, meta map[string]any) map[string]any {
	if meta == nil {
		meta = make(map[string]any, 2)
	}
	if id := ExtractCorrelationID(ctx); id != "" {
		meta["correlation_id"] = id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		meta["trace_id"] = sc.TraceID().String()
	}
	return meta
}

// ContextWithRemoteSpan parents ctx on a caller-supplied trace and span id,
// for clients that send X-Trace-Id / X-Span-Id instead of traceparent.
// Malformed ids are ignored.
func ContextWithRemoteSpan(ctx context.Context, traceIDHex, spanIDHex string) context.Context {
	traceID, err := trace.TraceIDFromHex(traceIDHex)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(spanIDHex)
	if err != nil {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
}
