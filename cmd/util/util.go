// Package util provides common utilities for spf13/cobra CLI utilities
// that can be used for various commands within this project.
package util

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ephedra/ephedra/pkg/aggregate"
	"github.com/ephedra/ephedra/pkg/config"
	"github.com/ephedra/ephedra/pkg/federation"
	"github.com/ephedra/ephedra/pkg/logger"
	"github.com/ephedra/ephedra/pkg/storage/manager"
)

// MustBindPFlag attempts to bind a specific key to a pflag (as used by cobra) and panics
// if the binding fails with a non-nil error.
func MustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

func MustBindEnv(input ...string) {
	if err := viper.BindEnv(input...); err != nil {
		panic("failed to bind env key: " + err.Error())
	}
}

// ReadConfig returns the configuration based on the values provided in 'config.yaml', the
// environment and the bound flags. The 'config.yaml' file is loaded from '/etc/ephedra',
// '$HOME/.ephedra', or the current working directory. If no configuration file is present,
// the default values are returned.
func ReadConfig() (*config.Config, error) {
	viper.SetTypeByDefaultValue(true)
	if err := viper.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	return config.Load(viper.GetViper())
}

// Federation is an open federation together with the repositories it resolves to.
type Federation struct {
	*federation.Federation
	Manager *manager.Manager
	logger  logger.Logger
}

// OpenFederation opens the repositories of cfg and the federation over them.
func OpenFederation(ctx context.Context, cfg *config.Config, l logger.Logger) (*Federation, error) {
	aggregates := aggregate.DefaultRegistry()

	opts := []manager.Option{manager.WithLogger(l), manager.WithAggregates(aggregates)}
	if cfg.Metrics.Enabled && cfg.Metrics.EnableDatastoreMetrics {
		opts = append(opts, manager.WithMetrics())
	}
	m := manager.New(opts...)
	if err := m.Open(ctx, cfg.Repositories); err != nil {
		return nil, fmt.Errorf("failed to open repositories: %w", err)
	}

	f, err := federation.New(cfg.Federation, m,
		federation.WithLogger(l),
		federation.WithAggregates(aggregates),
	)
	if err != nil {
		m.Close()
		return nil, err
	}
	m.OnReinitialize(f.Invalidate)

	return &Federation{Federation: f, Manager: m, logger: l}, nil
}

// Close shuts the federation down, then closes its repositories.
func (f *Federation) Close(ctx context.Context) {
	if err := f.Shutdown(ctx); err != nil {
		f.logger.Warn("federation did not shut down cleanly", zap.Error(err))
	}
	f.Manager.Close()
}

func PrepareTempConfigDir(t *testing.T) string {
	_, err := os.Stat("/etc/ephedra/config.yaml")
	require.ErrorIs(t, err, os.ErrNotExist, "Config file at /etc/ephedra/config.yaml would disturb test result.")

	homedir := t.TempDir()
	t.Setenv("HOME", homedir)

	confdir := filepath.Join(homedir, ".ephedra")
	require.NoError(t, os.Mkdir(confdir, 0750))

	return confdir
}

func PrepareTempConfigFile(t *testing.T, config string) {
	confdir := PrepareTempConfigDir(t)
	confFile, err := os.Create(filepath.Join(confdir, "config.yaml"))
	require.NoError(t, err)
	_, err = confFile.WriteString(config)
	require.NoError(t, err)
	require.NoError(t, confFile.Close())
}
