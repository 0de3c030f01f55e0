package sqlcommon

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/ephedra/ephedra/assets"
	"github.com/ephedra/ephedra/internal/build"
	"github.com/ephedra/ephedra/pkg/logger"
	"github.com/ephedra/ephedra/pkg/storage"
)

// goose keeps its dialect and file system in package globals.
var gooseMu sync.Mutex

// Migrate moves the schema of db to target, or to the latest version when target
// is zero.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect, target uint, verbose bool, log logger.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetLogger(goose.NopLogger())
	goose.SetVerbose(verbose)
	goose.SetBaseFS(assets.EmbedMigrations)
	if err := goose.SetDialect(dialect.Name); err != nil {
		return fmt.Errorf("failed to set %s dialect: %w", dialect.Name, err)
	}

	currentVersion, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get %s db version: %w", dialect.Name, err)
	}
	log.Info("current schema version", zap.String("engine", dialect.Name), zap.Int64("version", currentVersion))

	if target == 0 {
		if err := goose.UpContext(ctx, db, dialect.MigrationDir); err != nil {
			return fmt.Errorf("failed to run %s migrations: %w", dialect.Name, err)
		}
		log.Info("migration done", zap.String("engine", dialect.Name))
		return nil
	}

	targetVersion := int64(target)
	switch {
	case targetVersion < currentVersion:
		if err := goose.DownToContext(ctx, db, dialect.MigrationDir, targetVersion); err != nil {
			return fmt.Errorf("failed to run %s migrations down to %v: %w", dialect.Name, targetVersion, err)
		}
	case targetVersion > currentVersion:
		if err := goose.UpToContext(ctx, db, dialect.MigrationDir, targetVersion); err != nil {
			return fmt.Errorf("failed to run %s migrations up to %v: %w", dialect.Name, targetVersion, err)
		}
	default:
		log.Info("nothing to migrate", zap.String("engine", dialect.Name))
		return nil
	}
	log.Info("migration done", zap.String("engine", dialect.Name), zap.Int64("version", targetVersion))
	return nil
}

// SchemaVersion returns the goose version of db.
func SchemaVersion(ctx context.Context, db *sql.DB, dialect Dialect) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect(dialect.Name); err != nil {
		return 0, fmt.Errorf("failed to set %s dialect: %w", dialect.Name, err)
	}
	return goose.GetDBVersionContext(ctx, db)
}

// IsReady returns nil if the database answers and carries at least the minimum
// schema revision.
func IsReady(ctx context.Context, db *sql.DB, dialect Dialect) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// do ping first to ensure we have better error message
	// if error is due to connection issue.
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	revision, err := SchemaVersion(ctx, db, dialect)
	if err != nil {
		return err
	}
	if revision < build.MinimumSupportedDatastoreSchemaRevision {
		return fmt.Errorf("datastore requires migrations: at revision '%s', but requires '%s'. Run 'ephedra migrate'",
			strconv.FormatInt(revision, 10), strconv.FormatInt(build.MinimumSupportedDatastoreSchemaRevision, 10))
	}
	return nil
}

// OpenFunc opens a database of one engine without touching its schema.
type OpenFunc func(uri string, cfg *Config) (*sql.DB, error)

// MigrationProvider implements [storage.MigrationProvider] for one SQL engine.
type MigrationProvider struct {
	engine  string
	dialect Dialect
	open    OpenFunc
	logger  logger.Logger
}

var _ storage.MigrationProvider = (*MigrationProvider)(nil)

// NewMigrationProvider returns the provider of engine. A nil logger discards
// progress messages.
func NewMigrationProvider(engine string, dialect Dialect, open OpenFunc, l logger.Logger) *MigrationProvider {
	if l == nil {
		l = logger.NewNoopLogger()
	}
	return &MigrationProvider{engine: engine, dialect: dialect, open: open, logger: l}
}

// GetSupportedEngine returns the database engine this provider supports.
func (p *MigrationProvider) GetSupportedEngine() string {
	return p.engine
}

// RunMigrations waits for the database and migrates it.
func (p *MigrationProvider) RunMigrations(ctx context.Context, config storage.MigrationConfig) error {
	cfg := NewConfig(
		WithLogger(p.logger),
		WithPingTimeout(config.Timeout),
		WithUsername(config.Username),
		WithPassword(config.Password),
	)
	db, err := p.open(config.URI, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := WaitForDB(ctx, db, cfg, p.engine); err != nil {
		return fmt.Errorf("failed to initialize %s connection: %w", p.engine, err)
	}
	return Migrate(ctx, db, p.dialect, config.TargetVersion, config.Verbose, p.logger)
}

// GetCurrentVersion returns the current migration version.
func (p *MigrationProvider) GetCurrentVersion(ctx context.Context, config storage.MigrationConfig) (int64, error) {
	db, err := p.open(config.URI, NewConfig(WithUsername(config.Username), WithPassword(config.Password)))
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return SchemaVersion(ctx, db, p.dialect)
}
