package logger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/loop/internal/merchantcontext"
	obscontext "github.com/smallbiznis/loop/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationFromSQL(t *testing.T) {
	tests := map[string]string{
		"SELECT 1":                                "SELECT",
		"  insert into events values (?)":         "INSERT",
		"WITH x AS (SELECT 1) UPDATE memberships": "SELECT",
		"":                                        "UNKNOWN",
		"VACUUM":                                  "UNKNOWN",
	}
	for sql, want := range tests {
		assert.Equal(t, want, operationFromSQL(sql), sql)
	}
}

func TestTableFromSQL(t *testing.T) {
	tests := map[string]string{
		`SELECT * FROM "ledger_entries" WHERE customer_id = ?`: "ledger_entries",
		"INSERT INTO events (id) VALUES (?)":                   "events",
		"update memberships set points_balance = ?":            "memberships",
		"SELECT 1":                                             "",
	}
	for sql, want := range tests {
		assert.Equal(t, want, tableFromSQL(sql), sql)
	}
}

func TestGormLogger_TraceLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	gl := NewGormLogger(GormLoggerConfig{Level: gormlogger.Warn, SlowThreshold: time.Millisecond})
	stmt := func() (string, int64) { return `SELECT * FROM "rewards"`, 2 }

	gl.Trace(context.Background(), time.Now(), stmt, nil)
	assert.Equal(t, 0, logs.Len())

	gl.Trace(context.Background(), time.Now().Add(-time.Second), stmt, nil)
	gl.Trace(context.Background(), time.Now(), stmt, errors.New("boom"))
	require.Equal(t, 2, logs.Len())

	slow := logs.All()[0]
	assert.Equal(t, zap.WarnLevel, slow.Level)
	assert.Equal(t, "rewards", slow.ContextMap()["table"])
	assert.Equal(t, true, slow.ContextMap()["slow"])
	assert.Equal(t, zap.ErrorLevel, logs.All()[1].Level)

	gl.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now(), stmt, errors.New("boom"))
	assert.Equal(t, 2, logs.Len())
}

func TestWithContext_AddsRequestFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = merchantcontext.WithMerchantID(ctx, snowflake.ID(9))
	ctx = obscontext.WithActor(ctx, "staff", "12")

	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "9", fields["merchant_id"])
	assert.Equal(t, "staff", fields["actor_type"])
	assert.Equal(t, "12", fields["actor_id"])
}

func TestGinMiddleware_PropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))

	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = obscontext.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", w.Header().Get("X-Request-Id"))
	assert.NotEmpty(t, w.Header().Get("X-Correlation-Id"))
}

func TestAccessEntryLevel(t *testing.T) {
	assert.Equal(t, zap.ErrorLevel, accessEntry{route: "/api/redemptions", status: 500}.level())
	assert.Equal(t, zap.DebugLevel, accessEntry{route: "/health", status: 200}.level())
	assert.Equal(t, zap.DebugLevel, accessEntry{route: "/api/events", status: 400, errorType: "validation_error"}.level())
	assert.Equal(t, zap.InfoLevel, accessEntry{route: "/api/redemptions", status: 409, errorType: "conflict"}.level())
}

func TestSurfaceOf(t *testing.T) {
	assert.Equal(t, "rewards", surfaceOf("/api/rewards/:id"))
	assert.Equal(t, "events", surfaceOf("/api/events"))
	assert.Equal(t, "system", surfaceOf("/health"))
}
