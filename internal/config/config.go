package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBMetricsEnabled  bool

	EarnConfigPath string

	RateLimit RateLimitConfig
	Scheduler SchedulerConfig
}

// TelemetryConfig feeds the zap logger and the otel trace and metric exporters.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
}

// SchedulerConfig controls the background balance reconciliation sweep.
type SchedulerConfig struct {
	Enabled            bool
	ReconcileInterval  time.Duration
	ReconcileBatchSize int
	JobTimeout         time.Duration
}

// RateLimitConfig controls the redis-backed event ingest limiter.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	EventIngestMerchantRate  float64
	EventIngestMerchantBurst int
	EventIngestCustomerRate  float64
	EventIngestCustomerBurst int
	RedeemLockTTLSeconds     int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "loop"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		NodeID:      getenvInt64("NODE_ID", 1),

		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:   getenvBool("OTEL_ENABLED", true),
			OTLPEndpoint:  strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OTLPProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "loop"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBMetricsEnabled:  getenvBool("DATABASE_METRICS_ENABLED", true),

		EarnConfigPath: strings.TrimSpace(getenv("EARN_CONFIG_PATH", "")),

		RateLimit: RateLimitConfig{
			Enabled:                  getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:                strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "localhost:6379")),
			RedisPassword:            strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:                  getenvInt("RATE_LIMIT_REDIS_DB", 0),
			EventIngestMerchantRate:  getenvFloat("RATE_LIMIT_EVENT_MERCHANT_RATE", 50),
			EventIngestMerchantBurst: getenvInt("RATE_LIMIT_EVENT_MERCHANT_BURST", 100),
			EventIngestCustomerRate:  getenvFloat("RATE_LIMIT_EVENT_CUSTOMER_RATE", 2),
			EventIngestCustomerBurst: getenvInt("RATE_LIMIT_EVENT_CUSTOMER_BURST", 5),
			RedeemLockTTLSeconds:     getenvInt("RATE_LIMIT_REDEEM_LOCK_TTL_SECONDS", 5),
		},
		Scheduler: SchedulerConfig{
			Enabled:            getenvBool("SCHEDULER_ENABLED", true),
			ReconcileInterval:  getenvDuration("SCHEDULER_RECONCILE_INTERVAL", 15*time.Minute),
			ReconcileBatchSize: getenvInt("SCHEDULER_RECONCILE_BATCH_SIZE", 200),
			JobTimeout:         getenvDuration("SCHEDULER_JOB_TIMEOUT", 2*time.Minute),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
