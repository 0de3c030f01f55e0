package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/ephedra/ephedra/internal/build"
	"github.com/ephedra/ephedra/pkg/storage"
	"github.com/ephedra/ephedra/pkg/storage/sqlcommon"
	"github.com/ephedra/ephedra/pkg/storage/test"
	storagefixtures "github.com/ephedra/ephedra/pkg/testfixtures/storage"
)

func TestPrepareDSN(t *testing.T) {
	cfg := sqlcommon.NewConfig(sqlcommon.WithUsername("admin"), sqlcommon.WithPassword("secret"))
	dsn, err := PrepareDSN("root:pw@tcp(localhost:3306)/ephedra", cfg)
	require.NoError(t, err)

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, "admin", parsed.User)
	require.Equal(t, "secret", parsed.Passwd)
	require.Equal(t, "ephedra", parsed.DBName)
	require.True(t, parsed.ParseTime)

	dsn, err = PrepareDSN("root:pw@tcp(localhost:3306)/ephedra", sqlcommon.NewConfig())
	require.NoError(t, err)
	parsed, err = mysql.ParseDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, "root", parsed.User)

	_, err = PrepareDSN("root:pw@tcp(localhost:3306", cfg)
	require.Error(t, err)
}

func TestHandleSQLError(t *testing.T) {
	require.ErrorIs(t, HandleSQLError(driver.ErrBadConn), storage.ErrUnavailable)
	require.ErrorIs(t, HandleSQLError(&mysql.MySQLError{Number: 1040, Message: "Too many connections"}), storage.ErrUnavailable)
	require.NotErrorIs(t, HandleSQLError(&mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"}), storage.ErrUnavailable)

	boom := errors.New("boom")
	require.ErrorIs(t, HandleSQLError(boom), boom)
}

func TestInsertIgnoresDuplicates(t *testing.T) {
	ib := sq.StatementBuilder.PlaceholderFormat(Dialect.Placeholder).
		Insert(sqlcommon.TableName).
		Columns("id", "subject").
		Values("1", "<http://s>")
	query, _, err := Dialect.IgnoreDuplicates(ib).ToSql()
	require.NoError(t, err)
	require.Equal(t, "INSERT IGNORE INTO triple (id,subject) VALUES (?,?)", query)
}

func TestMySQLDatastore(t *testing.T) {
	testDatastore := storagefixtures.RunDatastoreTestContainer(t, "mysql")

	ds, err := New(context.Background(), "mysql-member", testDatastore.GetConnectionURI(true), sqlcommon.NewConfig(sqlcommon.WithInsertBatchSize(2)))
	require.NoError(t, err)
	defer ds.Close()
	test.RunAllTests(t, ds)
}

func TestMigrationProvider(t *testing.T) {
	testDatastore := storagefixtures.RunDatastoreTestContainer(t, "mysql")
	ctx := context.Background()
	uri := testDatastore.GetConnectionURI(true)

	p := NewMigrationProvider(nil)
	require.Equal(t, Engine, p.GetSupportedEngine())
	require.NoError(t, p.RunMigrations(ctx, storage.MigrationConfig{Engine: Engine, URI: uri}))
	version, err := p.GetCurrentVersion(ctx, storage.MigrationConfig{URI: uri})
	require.NoError(t, err)
	require.Equal(t, build.MinimumSupportedDatastoreSchemaRevision, version)

	db, err := Open(uri, sqlcommon.NewConfig())
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, sqlcommon.IsReady(ctx, db, Dialect))
}
