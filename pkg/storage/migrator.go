package storage

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// MigrationProvider migrates the schema of one SQL engine.
type MigrationProvider interface {
	// RunMigrations migrates to config.TargetVersion, or to the latest version when
	// it is zero.
	RunMigrations(ctx context.Context, config MigrationConfig) error

	// GetCurrentVersion returns the current migration version of the database.
	GetCurrentVersion(ctx context.Context, config MigrationConfig) (int64, error)

	// GetSupportedEngine returns the engine name the provider handles.
	GetSupportedEngine() string
}

// MigrationConfig contains the configuration needed for running migrations.
type MigrationConfig struct {
	Engine        string
	URI           string
	TargetVersion uint
	Timeout       time.Duration
	Verbose       bool
	Username      string
	Password      string
}

// MigratorRegistry maps engine names to their migration providers.
type MigratorRegistry struct {
	providers map[string]MigrationProvider
}

// NewMigratorRegistry returns a registry holding providers, keyed by the engine
// each one supports.
func NewMigratorRegistry(providers ...MigrationProvider) *MigratorRegistry {
	r := &MigratorRegistry{providers: make(map[string]MigrationProvider, len(providers))}
	for _, p := range providers {
		r.providers[p.GetSupportedEngine()] = p
	}
	return r
}

// GetProvider returns the migration provider for the specified engine.
func (r *MigratorRegistry) GetProvider(engine string) (MigrationProvider, bool) {
	provider, exists := r.providers[engine]
	return provider, exists
}

// Engines returns the supported engines in sorted order.
func (r *MigratorRegistry) Engines() []string {
	engines := make([]string, 0, len(r.providers))
	for engine := range r.providers {
		engines = append(engines, engine)
	}
	slices.Sort(engines)
	return engines
}

// Migrate runs the provider registered for config.Engine.
func (r *MigratorRegistry) Migrate(ctx context.Context, config MigrationConfig) error {
	p, ok := r.GetProvider(config.Engine)
	if !ok {
		return fmt.Errorf("%w: %q has no migrations", ErrUnsupportedEngine, config.Engine)
	}
	return p.RunMigrations(ctx, config)
}
