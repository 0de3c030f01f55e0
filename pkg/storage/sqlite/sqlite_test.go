package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ephedra/ephedra/internal/build"
	"github.com/ephedra/ephedra/pkg/storage"
	"github.com/ephedra/ephedra/pkg/storage/sqlcommon"
	"github.com/ephedra/ephedra/pkg/storage/test"
)

func newDatastore(t *testing.T) *sqlcommon.Datastore {
	t.Helper()
	uri := "file:" + filepath.Join(t.TempDir(), "ephedra.db")
	ds, err := New(context.Background(), "sqlite-member", uri, sqlcommon.NewConfig(sqlcommon.WithInsertBatchSize(2)))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, ds.Close()) })
	return ds
}

func TestPrepareDSN(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want string
	}{
		{
			name: "defaults",
			uri:  "file:test.db",
			want: "file:test.db?_pragma=journal_mode%28WAL%29&_pragma=busy_timeout%28500%29&_txlock=immediate",
		},
		{
			name: "keeps_explicit_values",
			uri:  "file:test.db?_pragma=busy_timeout(10)&_txlock=exclusive",
			want: "file:test.db?_pragma=busy_timeout%2810%29&_pragma=journal_mode%28WAL%29&_txlock=exclusive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PrepareDSN(tt.uri)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := PrepareDSN("file:test.db?%zz")
	require.Error(t, err)
}

func TestSQLiteDatastore(t *testing.T) {
	test.RunAllTests(t, newDatastore(t))
}

func TestConnectAfterCloseIsUnavailable(t *testing.T) {
	uri := "file:" + filepath.Join(t.TempDir(), "closed.db")
	ds, err := New(context.Background(), "closed", uri, sqlcommon.NewConfig())
	require.NoError(t, err)
	require.NoError(t, ds.Close())
	require.NoError(t, ds.Close())

	_, err = ds.Connect(context.Background())
	require.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestMigrationProvider(t *testing.T) {
	ctx := context.Background()
	uri := "file:" + filepath.Join(t.TempDir(), "migrate.db")
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

	registry := storage.NewMigratorRegistry(p)
	require.Equal(t, []string{"sqlite"}, registry.Engines())
	require.ErrorIs(t, registry.Migrate(ctx, storage.MigrationConfig{Engine: "oracle"}), storage.ErrUnsupportedEngine)
}
