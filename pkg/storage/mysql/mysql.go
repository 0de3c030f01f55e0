// Package mysql provides a MySQL backed member repository.
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"

	"github.com/ephedra/ephedra/assets"
	"github.com/ephedra/ephedra/pkg/logger"
	"github.com/ephedra/ephedra/pkg/storage"
	"github.com/ephedra/ephedra/pkg/storage/sqlcommon"
)

// Engine is the configuration name of this repository type.
const Engine = "mysql"

// server error numbers that mean the member cannot serve requests right now
const (
	errTooManyConnections = 1040
	errServerShutdown     = 1053
	errLockWaitTimeout    = 1205
)

// Dialect describes MySQL to the shared triple store.
var Dialect = sqlcommon.Dialect{
	Name:         "mysql",
	Placeholder:  sq.Question,
	MigrationDir: assets.MySQLMigrationDir,
	IgnoreDuplicates: func(ib sq.InsertBuilder) sq.InsertBuilder {
		return ib.Options("IGNORE")
	},
	HandleSQLError: HandleSQLError,
}

// PrepareDSN applies the configured credentials to the DSN.
func PrepareDSN(uri string, cfg *sqlcommon.Config) (string, error) {
	dsnCfg, err := mysql.ParseDSN(uri)
	if err != nil {
		return "", fmt.Errorf("failed to parse mysql connection dsn: %w", err)
	}

	if cfg.Username != "" {
		dsnCfg.User = cfg.Username
	}
	if cfg.Password != "" {
		dsnCfg.Passwd = cfg.Password
	}
	dsnCfg.ParseTime = true

	return dsnCfg.FormatDSN(), nil
}

// Open opens the database at uri without touching its schema.
func Open(uri string, cfg *sqlcommon.Config) (*sql.DB, error) {
	uri, err := PrepareDSN(uri, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mysql connection: %w", err)
	}
	sqlcommon.ConfigureDB(db, cfg)
	return db, nil
}

// New opens the database at uri, migrates it to the latest schema and returns
// the repository identified by id.
func New(ctx context.Context, id, uri string, cfg *sqlcommon.Config) (*sqlcommon.Datastore, error) {
	db, err := Open(uri, cfg)
	if err != nil {
		return nil, err
	}
	if err := sqlcommon.WaitForDB(ctx, db, cfg, Engine); err != nil {
		db.Close()
		return nil, storage.UnavailableError(id, err)
	}
	if err := sqlcommon.Migrate(ctx, db, Dialect, 0, false, cfg.Logger); err != nil {
		db.Close()
		return nil, err
	}
	ds, err := sqlcommon.NewDatastore(id, db, Dialect, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return ds, nil
}

// NewMigrationProvider returns the schema migration provider for MySQL.
func NewMigrationProvider(l logger.Logger) *sqlcommon.MigrationProvider {
	return sqlcommon.NewMigrationProvider(Engine, Dialect, Open, l)
}

// HandleSQLError processes an SQL error and converts it into a more
// specific error type based on the nature of the SQL error.
func HandleSQLError(err error) error {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}

	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case errTooManyConnections, errServerShutdown, errLockWaitTimeout:
			return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
		}
	}
	return sqlcommon.HandleSQLError(err)
}
