// Package config contains the knobs and defaults of an ephedra process: logging,
// tracing, metrics, the HTTP endpoint, the member repositories and the federation
// over them.
package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/spf13/viper"

	"github.com/ephedra/ephedra/pkg/federation"
	"github.com/ephedra/ephedra/pkg/storage/manager"
)

const (
	DefaultHTTPAddr    = "0.0.0.0:8080"
	DefaultMetricsAddr = "0.0.0.0:2112"
)

type LogConfig struct {
	// Format is the log format to use in the log output (e.g. 'text' or 'json')
	Format string

	// Level is the log level to use in the log output (e.g. 'none', 'debug', or 'info')
	Level string

	// TimestampFormat is the format of the log timestamps (e.g. 'Unix' or 'ISO8601')
	TimestampFormat string
}

type OTLPTraceTLSConfig struct {
	Enabled bool
}

type OTLPTraceConfig struct {
	Endpoint string
	TLS      OTLPTraceTLSConfig
}

type TraceConfig struct {
	Enabled     bool
	OTLP        OTLPTraceConfig `mapstructure:"otlp"`
	SampleRatio float64
	ServiceName string
}

// MetricConfig defines the Prometheus metrics endpoint.
type MetricConfig struct {
	Enabled bool
	Addr    string
	// EnableDatastoreMetrics exports the connection pool stats of SQL repositories.
	EnableDatastoreMetrics bool
}

// HTTPConfig defines the SPARQL protocol endpoint of the serve command.
type HTTPConfig struct {
	Addr               string
	CORSAllowedOrigins []string `mapstructure:"corsAllowedOrigins"`
	// UpstreamTimeout bounds each request.
	UpstreamTimeout time.Duration
}

type Config struct {
	Log     LogConfig
	Trace   TraceConfig
	Metrics MetricConfig
	HTTP    HTTPConfig

	// Repositories are the repositories the federation members resolve to.
	Repositories []manager.Definition
	Federation   federation.Config
}

// DefaultConfig is the default configuration. It defines no repositories.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Format:          "text",
			Level:           "info",
			TimestampFormat: "Unix",
		},
		Trace: TraceConfig{
			Enabled: false,
			OTLP: OTLPTraceConfig{
				Endpoint: "0.0.0.0:4317",
			},
			SampleRatio: 0.2,
			ServiceName: "ephedra",
		},
		Metrics: MetricConfig{
			Enabled: true,
			Addr:    DefaultMetricsAddr,
		},
		HTTP: HTTPConfig{
			Addr:               DefaultHTTPAddr,
			CORSAllowedOrigins: []string{"*"},
			UpstreamTimeout:    30 * time.Second,
		},
		Federation: federation.DefaultConfig(),
	}
}

// Verify checks that cfg describes a runnable process and fills the federation
// defaults.
func (cfg *Config) Verify() error {
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("config 'log.format' must be one of ['text', 'json']")
	}

	if !slices.Contains([]string{"none", "debug", "info", "warn", "error", "panic", "fatal"}, cfg.Log.Level) {
		return fmt.Errorf(
			"config 'log.level' must be one of ['none', 'debug', 'info', 'warn', 'error', 'panic', 'fatal']",
		)
	}

	if cfg.Log.TimestampFormat != "Unix" && cfg.Log.TimestampFormat != "ISO8601" {
		return fmt.Errorf("config 'log.TimestampFormat' must be one of ['Unix', 'ISO8601']")
	}

	if cfg.Trace.SampleRatio < 0 || cfg.Trace.SampleRatio > 1 {
		return errors.New("config 'trace.sampleRatio' must be between 0 and 1")
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			return fmt.Errorf("config 'metrics.addr': %w", err)
		}
	}

	ids := make(map[string]struct{}, len(cfg.Repositories))
	for i, def := range cfg.Repositories {
		if def.ID == "" {
			return fmt.Errorf("config 'repositories[%d].id' must be set", i)
		}
		if _, ok := ids[def.ID]; ok {
			return fmt.Errorf("config 'repositories': %w: %s", manager.ErrDuplicateRepository, def.ID)
		}
		ids[def.ID] = struct{}{}
		if !slices.Contains(manager.Engines, def.Engine) {
			return fmt.Errorf("config 'repositories[%d].engine' must be one of %v", i, manager.Engines)
		}
		if def.Engine != "memory" && def.URI == "" {
			return fmt.Errorf("config 'repositories[%d].uri' must be set for engine '%s'", i, def.Engine)
		}
	}

	if err := cfg.Federation.Validate(); err != nil {
		return fmt.Errorf("config 'federation': %w", err)
	}
	for _, id := range cfg.Federation.MemberIDs() {
		if _, ok := ids[id]; !ok {
			return fmt.Errorf("config 'federation': member %q names no repository", id)
		}
	}

	return nil
}

// Load decodes the settings of v over DefaultConfig and verifies the result.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	return cfg, nil
}
