package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

const exportInterval = 10 * time.Second

// NewProvider installs the global meter provider. A disabled config yields a
// noop provider so instruments can be created unconditionally.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(
		sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval)),
	))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.StopHook(provider.Shutdown))
	}
	if log != nil {
		log.Info("otel metrics exporter started",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

func newExporter(ctx context.Context, cfg Config) (sdkmetric.Exporter, error) {
	endpoint := strings.TrimSpace(cfg.ExporterEndpoint)
	switch p := strings.ToLower(strings.TrimSpace(cfg.ExporterProtocol)); p {
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "", "grpc", "grpc/protobuf":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", p)
	}
}

// Metrics holds the otel counters for the loyalty write path. A nil
// *Metrics records nothing.
type Metrics struct {
	eventsAppended   metric.Int64Counter
	pointsAwarded    metric.Int64Counter
	ledgerEntries    metric.Int64Counter
	redemptions      metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "loop"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.eventsAppended, "loop_events_appended_total", "Customer events appended to the store."},
		{&m.pointsAwarded, "loop_points_awarded_total", "Points granted by earn rules."},
		{&m.ledgerEntries, "loop_ledger_entries_total", "Ledger entries written."},
		{&m.redemptions, "loop_redemptions_total", "Redemption attempts."},
		{&m.rateLimitAllowed, "loop_rate_limit_allowed_total", "Requests admitted by the ingest limiter."},
		{&m.rateLimitDenied, "loop_rate_limit_denied_total", "Requests rejected by the ingest limiter."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

func (m *Metrics) RecordEventAppended(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	add(ctx, m.eventsAppended, 1, label("event_type", eventType))
}

// RecordPointsAwarded adds the granted points, labelled by ledger reason.
func (m *Metrics) RecordPointsAwarded(ctx context.Context, reason string, points int64) {
	if m == nil || points <= 0 {
		return
	}
	add(ctx, m.pointsAwarded, points, label("reason", reason))
}

func (m *Metrics) RecordLedgerEntry(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	add(ctx, m.ledgerEntries, 1, label("reason", reason))
}

func (m *Metrics) RecordRedemption(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	add(ctx, m.redemptions, 1, label("outcome", outcome))
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, merchantID, endpoint string) {
	if m == nil {
		return
	}
	add(ctx, m.rateLimitAllowed, 1, label("merchant_id", merchantID), label("endpoint", endpoint))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, merchantID, endpoint, reason string) {
	if m == nil {
		return
	}
	add(ctx, m.rateLimitDenied, 1,
		label("merchant_id", merchantID),
		label("endpoint", endpoint),
		label("reason", reason),
	)
}

func label(key, value string) attribute.KeyValue {
	return attribute.String(key, strings.TrimSpace(value))
}

func add(ctx context.Context, counter metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	counter.Add(ctx, n, metric.WithAttributes(FilterAttributes(attrs...)...))
}

// Customer and event ids never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"merchant_id": {},
	"endpoint":    {},
	"status_code": {},
	"event_type":  {},
	"reason":      {},
	"outcome":     {},
}

// FilterAttributes drops any attribute whose key is not on the allow list.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	kept := attrs[:0:0]
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			kept = append(kept, attr)
		}
	}
	return kept
}
