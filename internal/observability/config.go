package observability

import (
	"strings"

	"github.com/smallbiznis/loop/internal/config"
)

// Config is the slice of application config the telemetry providers need.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "loop"
	}
	t := cfg.Telemetry
	if t.LogLevel == "" {
		t.LogLevel = "info"
	}
	if t.OTLPProtocol == "" {
		t.OTLPProtocol = "grpc"
	}
	return Config{
		ServiceName:          name,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             t.LogLevel,
		LogFormat:            t.LogFormat,
		OtelEnabled:          t.OtelEnabled,
		OtelExporterEndpoint: t.OTLPEndpoint,
		OtelExporterProtocol: t.OTLPProtocol,
		OtelSamplingRatio:    t.SamplingRatio,
	}
}

// Debug is true for debug logging or any non-production environment name.
func (c Config) Debug() bool {
	if strings.EqualFold(c.LogLevel, "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}
