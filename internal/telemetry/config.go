// Package telemetry provides OpenTelemetry instrumentation for vecsnap.
package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/vecsnap/internal/config"
)

// Supported OTLP protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	Endpoint       string
	Protocol       string // grpc (default) or http/protobuf
	ServiceName    string
	ServiceVersion string
	Insecure       bool // Use insecure connection (no TLS)
	SamplingRate   float64
	Metrics        MetricsConfig
	ShutdownAfter  config.Duration
}

// MetricsConfig controls OTLP metrics export. Prometheus metrics are
// served independently and are not affected.
type MetricsConfig struct {
	Enabled        bool
	ExportInterval config.Duration
}

// NewDefaultConfig returns telemetry defaults. Telemetry is disabled until
// an OTLP collector is configured.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       ProtocolGRPC,
		ServiceName:    "vecsnap",
		ServiceVersion: "dev",
		Insecure:       true,
		SamplingRate:   1.0,
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(15 * time.Second),
		},
		ShutdownAfter: config.Duration(5 * time.Second),
	}
}

// FromConfig maps the file/env telemetry section onto a Config.
func FromConfig(c config.TelemetryConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = c.Enabled
	cfg.Insecure = c.Insecure
	cfg.SamplingRate = c.SamplingRate
	cfg.Metrics.Enabled = c.Metrics
	if c.Endpoint != "" {
		cfg.Endpoint = c.Endpoint
	}
	if c.Protocol != "" {
		cfg.Protocol = c.Protocol
	}
	if c.ServiceName != "" {
		cfg.ServiceName = c.ServiceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	return cfg
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	switch c.Protocol {
	case "", ProtocolGRPC, ProtocolHTTP:
	default:
		return fmt.Errorf("protocol must be %q or %q, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)
	}

	// Security: Prevent insecure connections to remote endpoints
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; set insecure=false for TLS or use a local endpoint (localhost/127.0.0.1)")
	}

	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("metrics export interval must be positive when metrics enabled")
	}
	if c.ShutdownAfter.Duration() <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// isLocalEndpoint checks if the endpoint is a local address.
func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)

	// Bracketed IPv6: [::1]:4317
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]"); idx != -1 {
			host = host[1:idx]
		}
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.LastIndex(host, ":")]
	}

	return host == "localhost" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.")
}
