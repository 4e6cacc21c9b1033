package telemetry

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/vidsight/internal/config"
)

// Config selects where and how vidsightd exports traces and metrics.
type Config struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	// Protocol is "grpc" or "http/protobuf".
	Protocol string
	// Insecure drops TLS. Only loopback endpoints accept it.
	Insecure      bool
	TLSSkipVerify bool
	// SampleRate is the fraction of root spans kept, from 0 to 1.
	SampleRate float64
	// MetricInterval is the OTLP push period. Zero turns metric export off;
	// the Prometheus endpoint is unaffected.
	MetricInterval  time.Duration
	ShutdownTimeout time.Duration
}

// NewDefaultConfig returns export settings for a collector on localhost.
// Export stays off until enabled.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:        "localhost:4317",
		ServiceName:     "vidsight",
		ServiceVersion:  "dev",
		Protocol:        "grpc",
		Insecure:        true,
		SampleRate:      1,
		MetricInterval:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// FromObservability applies the daemon's observability settings to the
// defaults. version names the running build.
func FromObservability(obs config.ObservabilityConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = obs.EnableTelemetry
	if obs.ServiceName != "" {
		cfg.ServiceName = obs.ServiceName
	}
	if obs.OTLPEndpoint != "" {
		cfg.Endpoint = obs.OTLPEndpoint
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	return cfg
}

// Validate checks config for errors. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch {
	case c.Endpoint == "":
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	case c.ServiceName == "":
		return fmt.Errorf("service_name is required when telemetry is enabled")
	case c.Protocol != "grpc" && c.Protocol != protocolHTTP:
		return fmt.Errorf("unsupported protocol %q (want grpc or %s)", c.Protocol, protocolHTTP)
	case c.Insecure && !loopback(c.Endpoint):
		return fmt.Errorf("insecure connections are only allowed to loopback endpoints, got %q", c.Endpoint)
	case c.SampleRate < 0 || c.SampleRate > 1:
		return fmt.Errorf("sample rate must be between 0 and 1, got %g", c.SampleRate)
	case c.MetricInterval < 0:
		return fmt.Errorf("metric interval must be >= 0, got %s", c.MetricInterval)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// loopback reports whether endpoint, with or without scheme and port,
// names this host.
func loopback(endpoint string) bool {
	host := stripScheme(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
