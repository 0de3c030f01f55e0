package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/ephedra/ephedra/pkg/federation"
	"github.com/ephedra/ephedra/pkg/storage/manager"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repositories = []manager.Definition{
		{ID: "local", Engine: "memory"},
		{ID: "remote", Engine: "sparql", URI: "http://remote.example/sparql"},
	}
	cfg.Federation.DefaultMember = "local"
	cfg.Federation.Members = []federation.MemberMapping{
		{ReferenceIRI: "http://remote.example/sparql", Delegate: "remote"},
	}
	return cfg
}

func TestVerify(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		err    string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "log_format", modify: func(c *Config) { c.Log.Format = "xml" }, err: "log.format"},
		{name: "log_level", modify: func(c *Config) { c.Log.Level = "loud" }, err: "log.level"},
		{name: "timestamp_format", modify: func(c *Config) { c.Log.TimestampFormat = "RFC822" }, err: "TimestampFormat"},
		{name: "sample_ratio", modify: func(c *Config) { c.Trace.SampleRatio = 1.5 }, err: "sampleRatio"},
		{name: "metrics_addr", modify: func(c *Config) { c.Metrics.Addr = "nope" }, err: "metrics.addr"},
		{name: "repository_id", modify: func(c *Config) { c.Repositories[0].ID = "" }, err: "id' must be set"},
		{name: "duplicate_repository", modify: func(c *Config) { c.Repositories[1].ID = "local" }, err: "duplicate repository"},
		{name: "unknown_engine", modify: func(c *Config) { c.Repositories[0].Engine = "oracle" }, err: "engine' must be one of"},
		{name: "missing_uri", modify: func(c *Config) { c.Repositories[1].URI = "" }, err: "uri' must be set"},
		{name: "no_default_member", modify: func(c *Config) { c.Federation.DefaultMember = "" }, err: "default member"},
		{name: "unknown_member", modify: func(c *Config) { c.Federation.Members[0].Delegate = "elsewhere" }, err: `"elsewhere" names no repository`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.modify(cfg)
			err := cfg.Verify()
			if tc.err == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.err)
		})
	}
}

func TestLoad(t *testing.T) {
	name := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(name, []byte(`
log:
  format: json
repositories:
  - id: local
    engine: memory
    dataFiles: [people.nt]
  - id: archive
    engine: postgres
    uri: postgres://localhost:5432/archive
    maxOpenConns: 5
    connMaxIdleTime: 1m
federation:
  defaultMember: local
  members:
    - referenceIRI: http://archive.example/sparql
      delegate: archive
  joins:
    competing: false
  maxExecutionTime: 30s
`), 0o600))

	v := viper.New()
	v.SetConfigFile(name)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, []manager.Definition{
		{ID: "local", Engine: "memory", DataFiles: []string{"people.nt"}},
		{ID: "archive", Engine: "postgres", URI: "postgres://localhost:5432/archive", MaxOpenConns: 5, ConnMaxIdleTime: time.Minute},
	}, cfg.Repositories)
	require.Equal(t, federation.JoinFlags{AsyncParallel: true, Bound: true}, cfg.Federation.Joins)
	require.Equal(t, 30*time.Second, cfg.Federation.MaxExecutionTime)
	require.Equal(t, federation.DefaultBoundJoinBatchSize, cfg.Federation.BoundJoinBatchSize)
	require.Equal(t, "archive", cfg.Federation.Members[0].Delegate)

	v = viper.New()
	v.Set("log.level", "loud")
	_, err = Load(v)
	require.ErrorContains(t, err, "log.level")
}
