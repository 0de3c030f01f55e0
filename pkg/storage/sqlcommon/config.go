package sqlcommon

import (
	"time"

	"github.com/ephedra/ephedra/pkg/aggregate"
	"github.com/ephedra/ephedra/pkg/logger"
)

const defaultInsertBatchSize = 100

// Config defines the configuration parameters
// for setting up and managing a sql connection.
type Config struct {
	Username   string
	Password   string
	Logger     logger.Logger
	Aggregates *aggregate.Registry

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	// PingTimeout bounds the backoff loop that waits for the database at startup.
	PingTimeout     time.Duration
	InsertBatchSize int

	ExportMetrics bool
}

// DatastoreOption defines a function type
// used for configuring a Config object.
type DatastoreOption func(*Config)

// WithUsername returns a DatastoreOption that sets the username in the Config.
func WithUsername(username string) DatastoreOption {
	return func(config *Config) {
		config.Username = username
	}
}

// WithPassword returns a DatastoreOption that sets the password in the Config.
func WithPassword(password string) DatastoreOption {
	return func(config *Config) {
		config.Password = password
	}
}

// WithLogger returns a DatastoreOption that sets the Logger in the Config.
func WithLogger(l logger.Logger) DatastoreOption {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// WithAggregates sets the aggregate functions native queries may call.
func WithAggregates(reg *aggregate.Registry) DatastoreOption {
	return func(cfg *Config) {
		cfg.Aggregates = reg
	}
}

// WithMaxOpenConns returns a DatastoreOption that sets the
// maximum number of open connections in the Config.
func WithMaxOpenConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxOpenConns = c
	}
}

// WithMaxIdleConns returns a DatastoreOption that sets the
// maximum number of idle connections in the Config.
func WithMaxIdleConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxIdleConns = c
	}
}

// WithConnMaxIdleTime returns a DatastoreOption that sets
// the maximum idle time for a connection in the Config.
func WithConnMaxIdleTime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxIdleTime = d
	}
}

// WithConnMaxLifetime returns a DatastoreOption that sets
// the maximum lifetime for a connection in the Config.
func WithConnMaxLifetime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxLifetime = d
	}
}

// WithPingTimeout sets how long opening waits for the database to answer.
func WithPingTimeout(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.PingTimeout = d
	}
}

// WithInsertBatchSize sets how many triples go into one INSERT statement.
func WithInsertBatchSize(n int) DatastoreOption {
	return func(cfg *Config) {
		cfg.InsertBatchSize = n
	}
}

// WithMetrics returns a DatastoreOption that
// enables the export of metrics in the Config.
func WithMetrics() DatastoreOption {
	return func(cfg *Config) {
		cfg.ExportMetrics = true
	}
}

// NewConfig creates a new Config instance with default values
// and applies any provided DatastoreOption modifications.
func NewConfig(opts ...DatastoreOption) *Config {
	cfg := &Config{}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoopLogger()
	}

	if cfg.Aggregates == nil {
		cfg.Aggregates = aggregate.DefaultRegistry()
	}

	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = time.Minute
	}

	if cfg.InsertBatchSize <= 0 {
		cfg.InsertBatchSize = defaultInsertBatchSize
	}

	return cfg
}
