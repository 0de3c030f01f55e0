// Package sqlite provides a SQLite backed member repository.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ephedra/ephedra/assets"
	"github.com/ephedra/ephedra/pkg/logger"
	"github.com/ephedra/ephedra/pkg/storage"
	"github.com/ephedra/ephedra/pkg/storage/sqlcommon"
)

// Engine is the configuration name of this repository type.
const Engine = "sqlite"

// Dialect describes SQLite to the shared triple store.
var Dialect = sqlcommon.Dialect{
	Name:         "sqlite",
	Placeholder:  sq.Question,
	MigrationDir: assets.SqliteMigrationDir,
	IgnoreDuplicates: func(ib sq.InsertBuilder) sq.InsertBuilder {
		return ib.Options("OR IGNORE")
	},
	HandleSQLError: HandleSQLError,
}

// Prepare a raw DSN from config for use with SQLite, specifying defaults for journal mode and busy timeout.
func PrepareDSN(uri string) (string, error) {
	// Set journal mode and busy timeout pragmas if not specified.
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}

		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(500)")
	}

	// Set transaction mode to immediate if not specified
	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	uri += "?" + query.Encode()

	return uri, nil
}

// Open opens the SQLite database at uri without touching its schema.
func Open(uri string, cfg *sqlcommon.Config) (*sql.DB, error) {
	uri, err := PrepareDSN(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
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

// NewMigrationProvider returns the schema migration provider for SQLite.
func NewMigrationProvider(l logger.Logger) *sqlcommon.MigrationProvider {
	return sqlcommon.NewMigrationProvider(Engine, Dialect, Open, l)
}

// HandleSQLError processes an SQL error and converts it into a more
// specific error type based on the nature of the SQL error.
func HandleSQLError(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xFF == sqlite3.SQLITE_BUSY {
		return fmt.Errorf("%w: database is locked: %w", storage.ErrUnavailable, err)
	}
	return sqlcommon.HandleSQLError(err)
}
