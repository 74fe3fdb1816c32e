package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.ServiceVersion = "1.2.3"

	got := map[string]string{}
	for _, kv := range newResource(cfg).Attributes() {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "cirecover", got["service.name"])
	assert.Equal(t, "1.2.3", got["service.version"])
}

func TestNewCollector(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantHTTP bool
		wantHost string
		wantTLS  bool
	}{
		{
			name:     "local grpc",
			mutate:   func(*Config) {},
			wantHost: "localhost:4317",
		},
		{
			name: "http strips scheme",
			mutate: func(c *Config) {
				c.Protocol = "http/protobuf"
				c.Endpoint = "https://otel.example.com:4318"
				c.Insecure = false
			},
			wantHTTP: true,
			wantHost: "otel.example.com:4318",
		},
		{
			name: "skip verify only over tls",
			mutate: func(c *Config) {
				c.Endpoint = "otel.internal:4317"
				c.Insecure = false
				c.TLSSkipVerify = true
			},
			wantHost: "otel.internal:4317",
			wantTLS:  true,
		},
		{
			name: "insecure wins over skip verify",
			mutate: func(c *Config) {
				c.TLSSkipVerify = true
			},
			wantHost: "localhost:4317",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			c := newCollector(cfg)
			assert.Equal(t, tt.wantHTTP, c.http)
			assert.Equal(t, tt.wantHost, c.hostPort)
			assert.Equal(t, tt.wantTLS, c.tls != nil)
		})
	}
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
