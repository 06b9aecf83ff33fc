package config

import (
	"encoding/json"
	"fmt"
)

// TelemetryConfig holds OTLP trace export configuration.
//
// Tracing ships spans to an OTLP/HTTP collector endpoint.
// See internal/observability/tracing.go for detailed setup instructions.
type TelemetryConfig struct {
	// Enabled turns span export on. Disabled by default.
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Endpoint is the OTLP/HTTP collector endpoint (default: localhost:4318)
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// APIKey authenticates against hosted collectors (optional)
	APIKey string `mapstructure:"api_key" json:"api_key" sensitive:"true"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the reported service name (default: mimir)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// MarshalJSON masks the API key.
func (t TelemetryConfig) MarshalJSON() ([]byte, error) {
	type alias TelemetryConfig
	a := alias(t)
	a.APIKey = maskSecret(a.APIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal telemetry config: %w", err)
	}
	return data, nil
}
