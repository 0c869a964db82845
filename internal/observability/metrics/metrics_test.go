package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("merchant_id", "123"),
		attribute.String("customer_id", "456"),
		attribute.String("event_type", "visit"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "merchant_id" && attrs[1].Key != "merchant_id" {
		t.Fatalf("expected merchant_id to be retained")
	}
	if attrs[0].Key != "event_type" && attrs[1].Key != "event_type" {
		t.Fatalf("expected event_type to be retained")
	}
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "loop"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	m.RecordEventAppended(ctx, "visit")
	m.RecordPointsAwarded(ctx, "earn_visit", 10)
	m.RecordLedgerEntry(ctx, "earn_visit")
	m.RecordRedemption(ctx, "approved")
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordEventAppended(ctx, "visit")
	m.RecordRedemption(ctx, "approved")
	m.RecordRateLimitDenied(ctx, "1", "/api/events", "merchant-rate")
}
