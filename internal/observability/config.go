package observability

import (
	"strings"

	"github.com/smallbiznis/rosterpay/internal/config"
)

const productionSamplingRatio = 0.1

// Config is the observability view of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Production  bool

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig fills the environment defaults: production logs JSON and samples
// a tenth of traces, every other environment logs to the console and samples
// all of them.
func LoadConfig(cfg config.Config) Config {
	t := cfg.Telemetry
	production := cfg.IsProduction()

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "rosterpay"
	}

	level := strings.ToLower(strings.TrimSpace(t.LogLevel))
	if level == "" {
		level = "info"
	}

	format := strings.ToLower(strings.TrimSpace(t.LogFormat))
	if format == "" {
		format = "console"
		if production {
			format = "json"
		}
	}

	ratio := t.SamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = 1
		if production {
			ratio = productionSamplingRatio
		}
	}

	protocol := strings.ToLower(strings.TrimSpace(t.TracingProtocol))
	if protocol == "" {
		protocol = "grpc"
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		Production:           production,
		LogLevel:             level,
		LogFormat:            format,
		OtelEnabled:          t.TracingEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    ratio,
	}
}

// Debug enables gin debug mode and stack traces on errors.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	if c.Production {
		return false
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
