package telemetry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/cirecover/internal/config"
)

// Protocols accepted for the OTLP collector.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config describes the OTLP pipelines of one cirecover process.
type Config struct {
	Enabled        bool   `koanf:"enabled"`
	Endpoint       string `koanf:"endpoint"`
	Protocol       string `koanf:"protocol"`
	Insecure       bool   `koanf:"insecure"`
	TLSSkipVerify  bool   `koanf:"tls_skip_verify"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`

	Sampling SamplingConfig `koanf:"sampling"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Logs     LogsConfig     `koanf:"logs"`
	Shutdown ShutdownConfig `koanf:"shutdown"`
}

// SamplingConfig sets the head sampling ratio for root spans.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"`
}

// MetricsConfig controls the periodic metric export.
type MetricsConfig struct {
	Enabled        bool            `koanf:"enabled"`
	ExportInterval config.Duration `koanf:"export_interval"`
}

// LogsConfig controls the OTLP log pipeline the zap bridge writes to.
type LogsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// ShutdownConfig bounds the final flush.
type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns telemetry defaults. Nothing is exported until
// Enabled is set.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:       "localhost:4317",
		Protocol:       ProtocolGRPC,
		Insecure:       true,
		ServiceName:    "cirecover",
		ServiceVersion: "0.1.0",
		Sampling:       SamplingConfig{Rate: 1},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(15 * time.Second),
		},
		Logs:     LogsConfig{Enabled: true},
		Shutdown: ShutdownConfig{Timeout: config.Duration(5 * time.Second)},
	}
}

// FromObservability maps the observability section of the application
// config onto a telemetry Config. Empty fields keep their defaults.
func FromObservability(obs config.ObservabilityConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = obs.EnableTelemetry
	cfg.Insecure = obs.Insecure
	cfg.TLSSkipVerify = obs.TLSSkipVerify
	for dst, src := range map[*string]string{
		&cfg.Endpoint:       obs.Endpoint,
		&cfg.Protocol:       obs.Protocol,
		&cfg.ServiceName:    obs.ServiceName,
		&cfg.ServiceVersion: version,
	} {
		if src != "" {
			*dst = src
		}
	}
	return cfg
}

// Validate reports the first problem with an enabled config. A disabled
// config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch {
	case c.Endpoint == "":
		return errors.New("endpoint is required when telemetry is enabled")
	case c.ServiceName == "":
		return errors.New("service_name is required when telemetry is enabled")
	case c.ServiceVersion == "":
		return errors.New("service_version is required when telemetry is enabled")
	}
	if c.Protocol != "" && c.Protocol != ProtocolGRPC && c.Protocol != ProtocolHTTP {
		return fmt.Errorf("protocol must be %s or %s, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)
	}
	if c.Insecure && !isLoopback(c.Endpoint) {
		return fmt.Errorf("insecure export to %s is not allowed; use TLS or a loopback collector", c.Endpoint)
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return fmt.Errorf("sampling.rate must be between 0 and 1, got %g", c.Sampling.Rate)
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		return errors.New("metrics.export_interval must be positive when metrics are enabled")
	}
	if c.Shutdown.Timeout.Duration() <= 0 {
		return errors.New("shutdown.timeout must be positive")
	}
	return nil
}

// isLoopback reports whether endpoint names this host. A scheme and a
// port are both optional.
func isLoopback(endpoint string) bool {
	host := stripScheme(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
