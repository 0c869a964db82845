package tracing

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/loop/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var forbiddenAttributeKeys = map[attribute.Key]struct{}{
	"customer_id": {},
	"staff_id":    {},
	"payload":     {},
}

// ExtractContext reads W3C trace headers, falling back to explicit X-Trace-Id / X-Span-Id headers.
func ExtractContext(ctx context.Context, carrier propagation.HeaderCarrier) context.Context {
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
	if trace.SpanContextFromContext(ctx).IsValid() {
		return ctx
	}
	return correlation.ContextWithRemoteSpan(ctx,
		strings.TrimSpace(carrier.Get("X-Trace-Id")),
		strings.TrimSpace(carrier.Get("X-Span-Id")),
	)
}

// SafeAttributes drops attributes that would leak customer identifiers into traces.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, forbidden := forbiddenAttributeKeys[attr.Key]; forbidden {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError reduces an error to its leading code so raw SQL never reaches span events.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	message := strings.TrimSpace(err.Error())
	if idx := strings.IndexAny(message, ":("); idx > 0 {
		message = strings.TrimSpace(message[:idx])
	}
	if message == "" {
		message = "error"
	}
	return errors.New(message)
}
