package ddotel

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config describes how telemetry is sent and which default tags every span
// and metric carries.
//
// Every field can be set explicitly or through a DD_ environment variable.
// LoadConfig applies the defaults listed on each field; a zero Config built
// by hand has no defaults, so prefer LoadConfig or DefaultConfig.
type Config struct {
	// Service is the service tag. DD_SERVICE, defaults to "unknown".
	Service string `env:"DD_SERVICE" envDefault:"unknown"`

	// Env is the deployment environment. DD_ENV, defaults to "development".
	// The "development" environment switches the logger to console output.
	Env string `env:"DD_ENV" envDefault:"development"`

	// Version is the service version. DD_VERSION, defaults to "unknown".
	Version string `env:"DD_VERSION" envDefault:"unknown"`

	// TraceEnabled turns trace export on or off. DD_TRACE_ENABLED.
	TraceEnabled bool `env:"DD_TRACE_ENABLED" envDefault:"true"`

	// TraceAgentURL is the collector endpoint traces are exported to.
	// "http(s)://host:port" uses OTLP/HTTP, "host:port" uses OTLP/gRPC and
	// "stdout" prints spans. DD_TRACE_AGENT_URL.
	TraceAgentURL string `env:"DD_TRACE_AGENT_URL" envDefault:"http://localhost:4318"`

	// TraceSampleRate is the ratio of root traces kept, 0 to 1.
	// DD_TRACE_SAMPLE_RATE.
	TraceSampleRate float64 `env:"DD_TRACE_SAMPLE_RATE" envDefault:"1.0"`

	// MetricsEnabled turns metric export on or off. DD_METRICS_ENABLED.
	MetricsEnabled bool `env:"DD_METRICS_ENABLED" envDefault:"true"`

	// MetricsAgentURL is the collector endpoint metrics are exported to, with
	// the same syntax as TraceAgentURL (except "stdout"). DD_METRICS_AGENT_URL.
	MetricsAgentURL string `env:"DD_METRICS_AGENT_URL" envDefault:"localhost:4317"`

	// Propagation lists the header formats used to continue and forward
	// traces. DD_TRACE_PROPAGATION_STYLE.
	Propagation []string `env:"DD_TRACE_PROPAGATION_STYLE" envSeparator:"," envDefault:"tracecontext,datadog,baggage"`

	// ContainerPlatform selects how the container id resource attribute is
	// discovered: "ecs", "gke" or empty for none. DD_CONTAINER_PLATFORM.
	ContainerPlatform string `env:"DD_CONTAINER_PLATFORM"`
}

// LoadConfig reads an optional .env file and parses the DD_ environment
// variables into a Config.
func LoadConfig() (*Config, error) {
	// A missing .env is fine, the environment alone is enough.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultConfig returns the configuration LoadConfig would produce in an
// empty environment.
func DefaultConfig() *Config {
	var cfg Config
	// Only defaults are applied, nothing can fail to parse.
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return &cfg
}

// IsTracingEnabled reports whether spans should be exported.
func (c *Config) IsTracingEnabled() bool {
	return c.TraceEnabled && c.TraceAgentURL != ""
}

// IsMetricsEnabled reports whether metrics should be exported.
func (c *Config) IsMetricsEnabled() bool {
	return c.MetricsEnabled && c.MetricsAgentURL != ""
}

func (c *Config) validate() error {
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("DD_TRACE_SAMPLE_RATE must be between 0 and 1, got %v", c.TraceSampleRate)
	}

	switch c.ContainerPlatform {
	case "", PlatformECS, PlatformGKE:
	default:
		return fmt.Errorf("unknown DD_CONTAINER_PLATFORM %q", c.ContainerPlatform)
	}

	if _, err := NewPropagator(c.Propagation...); err != nil {
		return err
	}

	return nil
}
