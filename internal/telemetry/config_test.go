package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cirecover/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.Sampling.Rate)
	assert.True(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.Logs.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Metrics.ExportInterval.Duration())
	assert.Equal(t, 5*time.Second, cfg.Shutdown.Timeout.Duration())

	cfg.Enabled = true
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:   "disabled skips every check",
			mutate: func(c *Config) { *c = Config{} },
		},
		{
			name:   "missing endpoint",
			mutate: func(c *Config) { c.Endpoint = "" },
			errMsg: "endpoint is required",
		},
		{
			name:   "missing service name",
			mutate: func(c *Config) { c.ServiceName = "" },
			errMsg: "service_name is required",
		},
		{
			name:   "missing service version",
			mutate: func(c *Config) { c.ServiceVersion = "" },
			errMsg: "service_version is required",
		},
		{
			name:   "unknown protocol",
			mutate: func(c *Config) { c.Protocol = "udp" },
			errMsg: `got "udp"`,
		},
		{
			name:   "http protocol",
			mutate: func(c *Config) { c.Protocol = ProtocolHTTP; c.Endpoint = "http://localhost:4318" },
		},
		{
			name:   "insecure remote collector",
			mutate: func(c *Config) { c.Endpoint = "collector.prod:4317" },
			errMsg: "insecure export to collector.prod:4317",
		},
		{
			name: "tls remote collector",
			mutate: func(c *Config) {
				c.Endpoint = "collector.prod:4317"
				c.Insecure = false
			},
		},
		{
			name:   "negative sampling",
			mutate: func(c *Config) { c.Sampling.Rate = -0.1 },
			errMsg: "sampling.rate must be between 0 and 1",
		},
		{
			name:   "sampling above one",
			mutate: func(c *Config) { c.Sampling.Rate = 1.1 },
			errMsg: "sampling.rate must be between 0 and 1",
		},
		{
			name:   "zero sampling",
			mutate: func(c *Config) { c.Sampling.Rate = 0 },
		},
		{
			name:   "zero export interval",
			mutate: func(c *Config) { c.Metrics.ExportInterval = 0 },
			errMsg: "metrics.export_interval must be positive",
		},
		{
			name: "zero export interval without metrics",
			mutate: func(c *Config) {
				c.Metrics = MetricsConfig{}
			},
		},
		{
			name:   "zero shutdown timeout",
			mutate: func(c *Config) { c.Shutdown.Timeout = config.Duration(0) },
			errMsg: "shutdown.timeout must be positive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4317", true},
		{"LOCALHOST", true},
		{"http://localhost:4318", true},
		{"127.0.0.1:4317", true},
		{"127.0.1.1", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"https://[::1]:4318", true},
		{"collector.prod:4317", false},
		{"localhost.evil.example:4317", false},
		{"127.example.com:4317", false},
		{"10.0.0.1:4317", false},
		{"[2001:db8::1]:4317", false},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, isLoopback(tt.endpoint))
		})
	}
}

func TestFromObservability(t *testing.T) {
	cfg := FromObservability(config.ObservabilityConfig{
		EnableTelemetry: true,
		Endpoint:        "collector.internal:4318",
		Protocol:        ProtocolHTTP,
		ServiceName:     "cirecover-ci",
		TLSSkipVerify:   true,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "collector.internal:4318", cfg.Endpoint)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, "cirecover-ci", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.False(t, cfg.Insecure)
	assert.True(t, cfg.TLSSkipVerify)
	require.NoError(t, cfg.Validate())

	defaults := FromObservability(config.ObservabilityConfig{}, "")
	assert.False(t, defaults.Enabled)
	assert.Equal(t, "localhost:4317", defaults.Endpoint)
	assert.Equal(t, ProtocolGRPC, defaults.Protocol)
	assert.Equal(t, "0.1.0", defaults.ServiceVersion)
}
