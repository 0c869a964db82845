package logger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/smallbiznis/loop/internal/merchantcontext"
	obscontext "github.com/smallbiznis/loop/internal/observability/context"
	"github.com/smallbiznis/loop/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	ServiceName string
	Environment string
	Version     string
	Level       string
	Format      string
	Debug       bool

	// Sampling keeps the first SamplingInitial entries per message each
	// SamplingWindow, then every SamplingThereafter-th. Zero values use 100/100/1s.
	SamplingInitial    int
	SamplingThereafter int
	SamplingWindow     time.Duration

	IncludeCaller       bool
	IncludeStackOnError bool
}

// New builds the process logger, installs it as the zap global and syncs it on stop.
func New(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	text := strings.TrimSpace(cfg.Level)
	if text == "" {
		text = "info"
	}
	if err := level.UnmarshalText([]byte(text)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	core := zapcore.NewCore(newEncoder(cfg), zapcore.Lock(os.Stdout), level)
	if !cfg.Debug {
		core = zapcore.NewSamplerWithOptions(core,
			orDefault(cfg.SamplingWindow, time.Second),
			orDefault(cfg.SamplingInitial, 100),
			orDefault(cfg.SamplingThereafter, 100),
		)
	}

	opts := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if cfg.IncludeCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.IncludeStackOnError {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "loop"
	}
	log := zap.New(core, opts...).With(
		zap.String("service", service),
		zap.String("env", strings.TrimSpace(cfg.Environment)),
		zap.String("version", strings.TrimSpace(cfg.Version)),
	)
	zap.ReplaceGlobals(log)

	if lc != nil {
		lc.Append(fx.StopHook(func() {
			_ = log.Sync()
		}))
	}
	return log, nil
}

func newEncoder(cfg Config) zapcore.Encoder {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(enc)
	}
	return zapcore.NewJSONEncoder(enc)
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// FromContext returns the global logger carrying the request's identifiers.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext attaches request id, correlation id, merchant, actor and
// trace identifiers from ctx to base.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil {
		return base
	}
	return base.With(ContextFields(ctx)...)
}

func ContextFields(ctx context.Context) []zap.Field {
	merchantID := ""
	if id, ok := merchantcontext.MerchantIDFromContext(ctx); ok {
		merchantID = id.String()
	}
	actorType, actorID := obscontext.ActorFromContext(ctx)

	var traceID, spanID string
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		traceID, spanID = sc.TraceID().String(), sc.SpanID().String()
	}

	return []zap.Field{
		zap.String("request_id", obscontext.RequestIDFromContext(ctx)),
		zap.String("correlation_id", correlation.ExtractCorrelationID(ctx)),
		zap.String("merchant_id", merchantID),
		zap.String("actor_type", actorType),
		zap.String("actor_id", actorID),
		zap.String("trace_id", traceID),
		zap.String("span_id", spanID),
	}
}
