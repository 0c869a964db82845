package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/loop/internal/observability/context"
	"github.com/smallbiznis/loop/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	headerRequestID     = "X-Request-Id"
	headerCorrelationID = "X-Correlation-Id"
)

type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps a handler error to (error_type, error_code).
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware seeds the request context with request, client and
// correlation identifiers, then writes one access line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := requestIDFrom(c)
		c.Set("request_id", requestID)
		c.Header(headerRequestID, requestID)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = obscontext.WithClient(ctx, c.ClientIP(), c.Request.UserAgent())
		ctx = correlation.ContextWithCorrelationID(ctx, strings.TrimSpace(c.GetHeader(headerCorrelationID)))
		ctx, correlationID := correlation.EnsureCorrelationID(ctx)
		c.Header(headerCorrelationID, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		entry := accessEntry{
			route:  c.FullPath(),
			status: c.Writer.Status(),
		}
		if entry.route == "" {
			entry.route = "unknown"
		}
		if last := c.Errors.Last(); last != nil && cfg.ErrorClassifier != nil {
			entry.errorType, entry.errorCode = cfg.ErrorClassifier(last.Err)
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", entry.route),
			zap.String("surface", surfaceOf(entry.route)),
			zap.Int("status", entry.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if eventType := c.GetString("event_type"); eventType != "" {
			fields = append(fields, zap.String("event_type", eventType))
		}
		if len(c.Errors) > 0 {
			fields = append(fields,
				zap.String("error_type", entry.errorType),
				zap.String("error_code", entry.errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		if ce := FromContext(c.Request.Context()).Check(entry.level(), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func requestIDFrom(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(headerRequestID)); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.GetString("request_id")); id != "" {
		return id
	}
	return uuid.NewString()
}

type accessEntry struct {
	route     string
	status    int
	errorType string
	errorCode string
}

// level keeps probes and expected client rejections out of the info stream.
func (e accessEntry) level() zapcore.Level {
	switch {
	case e.status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case e.route == "/health" || e.route == "/metrics":
		return zapcore.DebugLevel
	case e.route == "/api/events" && e.errorType == "validation_error":
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// surfaceOf names the API area a route belongs to, e.g. "rewards" for /api/rewards/:id.
func surfaceOf(route string) string {
	rest, ok := strings.CutPrefix(route, "/api/")
	if !ok {
		return "system"
	}
	surface, _, _ := strings.Cut(rest, "/")
	return surface
}
