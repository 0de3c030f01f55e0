// Package postgres provides a PostgreSQL backed member repository.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.

	"github.com/ephedra/ephedra/assets"
	"github.com/ephedra/ephedra/pkg/logger"
	"github.com/ephedra/ephedra/pkg/storage"
	"github.com/ephedra/ephedra/pkg/storage/sqlcommon"
)

// Engine is the configuration name of this repository type.
const Engine = "postgres"

// Dialect describes PostgreSQL to the shared triple store.
var Dialect = sqlcommon.Dialect{
	Name:         "postgres",
	Placeholder:  sq.Dollar,
	MigrationDir: assets.PostgresMigrationDir,
	IgnoreDuplicates: func(ib sq.InsertBuilder) sq.InsertBuilder {
		return ib.Suffix("ON CONFLICT (id) DO NOTHING")
	},
	HandleSQLError: HandleSQLError,
}

// PrepareURI applies the configured credentials to uri. Explicit credentials win
// over the ones embedded in the uri.
func PrepareURI(uri string, cfg *sqlcommon.Config) (string, error) {
	if cfg.Username == "" && cfg.Password == "" {
		return uri, nil
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse postgres connection uri: %w", err)
	}

	username := ""
	if cfg.Username != "" {
		username = cfg.Username
	} else if parsed.User != nil {
		username = parsed.User.Username()
	}

	switch {
	case cfg.Password != "":
		parsed.User = url.UserPassword(username, cfg.Password)
	case parsed.User != nil:
		if password, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(username, password)
		} else {
			parsed.User = url.User(username)
		}
	default:
		parsed.User = url.User(username)
	}

	return parsed.String(), nil
}

// Open opens the database at uri without touching its schema.
func Open(uri string, cfg *sqlcommon.Config) (*sql.DB, error) {
	uri, err := PrepareURI(uri, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres connection: %w", err)
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

// NewMigrationProvider returns the schema migration provider for PostgreSQL.
func NewMigrationProvider(l logger.Logger) *sqlcommon.MigrationProvider {
	return sqlcommon.NewMigrationProvider(Engine, Dialect, Open, l)
}

// HandleSQLError processes an SQL error and converts it into a more
// specific error type based on the nature of the SQL error.
func HandleSQLError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08 is connection exception, 57P0x are shutdown and crash states
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0") {
			return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
		}
	}
	return sqlcommon.HandleSQLError(err)
}
