// Package manager builds member repositories from their definitions and resolves
// member ids to live repositories.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ephedra/ephedra/pkg/aggregate"
	"github.com/ephedra/ephedra/pkg/logger"
	"github.com/ephedra/ephedra/pkg/rdf/ntriples"
	"github.com/ephedra/ephedra/pkg/storage"
	"github.com/ephedra/ephedra/pkg/storage/memory"
	"github.com/ephedra/ephedra/pkg/storage/mysql"
	"github.com/ephedra/ephedra/pkg/storage/postgres"
	"github.com/ephedra/ephedra/pkg/storage/sparqlhttp"
	"github.com/ephedra/ephedra/pkg/storage/sqlcommon"
	"github.com/ephedra/ephedra/pkg/storage/sqlite"
	"github.com/ephedra/ephedra/pkg/telemetry"
)

var tracer = otel.Tracer("ephedra/pkg/storage/manager")

// Engines are the repository engines a Definition may name.
var Engines = []string{"memory", sqlite.Engine, postgres.Engine, mysql.Engine, sparqlhttp.Engine}

// ErrDuplicateRepository is returned when two definitions share an id.
var ErrDuplicateRepository = errors.New("duplicate repository id")

// Definition describes one repository.
type Definition struct {
	ID     string
	Engine string
	URI    string
	// DataFiles are N-Triples files loaded into the repository when it opens.
	DataFiles []string

	Username        string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Factory opens the repository for def.
type Factory func(ctx context.Context, def Definition) (storage.Repository, error)

// Manager owns the open repositories. It is safe for concurrent use.
type Manager struct {
	logger     logger.Logger
	aggregates *aggregate.Registry
	metrics    bool
	factories  map[string]Factory

	mu        sync.RWMutex
	repos     map[string]storage.Repository // GUARDED_BY(mu)
	listeners []func()                      // GUARDED_BY(mu)
}

type Option func(*Manager)

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithAggregates sets the aggregate functions the local engines evaluate.
func WithAggregates(reg *aggregate.Registry) Option {
	return func(m *Manager) { m.aggregates = reg }
}

// WithMetrics exports database pool statistics of SQL repositories.
func WithMetrics() Option {
	return func(m *Manager) { m.metrics = true }
}

// WithFactory replaces or adds the factory for engine.
func WithFactory(engine string, f Factory) Option {
	return func(m *Manager) { m.factories[engine] = f }
}

// New returns an empty manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		logger:     logger.NewNoopLogger(),
		aggregates: aggregate.DefaultRegistry(),
		repos:      map[string]storage.Repository{},
	}
	m.factories = map[string]Factory{
		"memory":          m.openMemory,
		sqlite.Engine:     m.openSQL(sqlite.New),
		postgres.Engine:   m.openSQL(postgres.New),
		mysql.Engine:      m.openSQL(mysql.New),
		sparqlhttp.Engine: m.openRemote,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Repository returns the repository with the given id. Callers must not keep it
// across a re-initialization.
func (m *Manager) Repository(ctx context.Context, id string) (storage.Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	repo, ok := m.repos[id]
	if !ok {
		return nil, fmt.Errorf("repository %q: %w", id, storage.ErrNotFound)
	}
	return repo, nil
}

// IDs returns the ids of the open repositories, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.repos))
	for id := range m.repos {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Register adds an already open repository.
func (m *Manager) Register(repo storage.Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[repo.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRepository, repo.ID())
	}
	m.repos[repo.ID()] = repo
	return nil
}

// OnReinitialize registers fn to run after every Reinitialize.
func (m *Manager) OnReinitialize(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Open opens the repositories of defs and adds them to the manager. Either every
// repository opens or none is added.
func (m *Manager) Open(ctx context.Context, defs []Definition) error {
	opened, err := m.build(ctx, defs)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, repo := range opened {
		if _, ok := m.repos[repo.ID()]; ok {
			m.closeAll(opened)
			return fmt.Errorf("%w: %s", ErrDuplicateRepository, repo.ID())
		}
	}
	for _, repo := range opened {
		m.repos[repo.ID()] = repo
	}
	return nil
}

// Reinitialize replaces every repository with the ones opened from defs, then
// closes the previous set and notifies the OnReinitialize listeners. On failure
// the previous set stays in place.
func (m *Manager) Reinitialize(ctx context.Context, defs []Definition) error {
	opened, err := m.build(ctx, defs)
	if err != nil {
		return err
	}

	next := make(map[string]storage.Repository, len(opened))
	for _, repo := range opened {
		next[repo.ID()] = repo
	}

	m.mu.Lock()
	previous := m.repos
	m.repos = next
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	m.logger.InfoWithContext(ctx, "repositories reinitialized", zap.Strings("repositories", m.IDs()))
	for _, fn := range listeners {
		fn()
	}
	m.closeAll(slices.Collect(maps.Values(previous)))
	return nil
}

// Close closes every repository that holds resources.
func (m *Manager) Close() {
	m.mu.Lock()
	previous := m.repos
	m.repos = map[string]storage.Repository{}
	m.mu.Unlock()
	m.closeAll(slices.Collect(maps.Values(previous)))
}

func (m *Manager) build(ctx context.Context, defs []Definition) ([]storage.Repository, error) {
	ctx, span := tracer.Start(ctx, "manager.open", trace.WithAttributes(attribute.Int("repositories", len(defs))))
	defer span.End()

	seen := map[string]struct{}{}
	opened := make([]storage.Repository, 0, len(defs))
	for _, def := range defs {
		if _, ok := seen[def.ID]; ok {
			m.closeAll(opened)
			err := fmt.Errorf("%w: %s", ErrDuplicateRepository, def.ID)
			telemetry.TraceError(span, err)
			return nil, err
		}
		seen[def.ID] = struct{}{}

		repo, err := m.open(ctx, def)
		if err != nil {
			m.closeAll(opened)
			telemetry.TraceError(span, err)
			return nil, err
		}
		opened = append(opened, repo)
	}
	return opened, nil
}

func (m *Manager) open(ctx context.Context, def Definition) (storage.Repository, error) {
	factory, ok := m.factories[def.Engine]
	if !ok {
		return nil, fmt.Errorf("repository %q: %w: %s", def.ID, storage.ErrUnsupportedEngine, def.Engine)
	}
	repo, err := factory(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("initialize %s repository %q: %w", def.Engine, def.ID, err)
	}

	if len(def.DataFiles) > 0 {
		if err := m.loadFiles(ctx, repo, def.DataFiles); err != nil {
			closeRepository(m.logger, repo)
			return nil, fmt.Errorf("repository %q: %w", def.ID, err)
		}
	}
	m.logger.Info(fmt.Sprintf("using '%v' storage engine", def.Engine), zap.String("repository", def.ID))
	return repo, nil
}

func (m *Manager) loadFiles(ctx context.Context, repo storage.Repository, files []string) error {
	loader, ok := repo.(storage.Loader)
	if !ok {
		return fmt.Errorf("%s repositories cannot load data files", repo.ID())
	}
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		triples, err := ntriples.NewReader(f).ReadAll()
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := loader.Load(ctx, triples); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		m.logger.Debug("loaded data file", zap.String("repository", repo.ID()), zap.String("file", name), zap.Int("triples", len(triples)))
	}
	return nil
}

func (m *Manager) openMemory(_ context.Context, def Definition) (storage.Repository, error) {
	return memory.New(def.ID, memory.WithLogger(m.logger), memory.WithAggregates(m.aggregates)), nil
}

type sqlOpener func(ctx context.Context, id, uri string, cfg *sqlcommon.Config) (*sqlcommon.Datastore, error)

func (m *Manager) openSQL(open sqlOpener) Factory {
	return func(ctx context.Context, def Definition) (storage.Repository, error) {
		opts := []sqlcommon.DatastoreOption{
			sqlcommon.WithUsername(def.Username),
			sqlcommon.WithPassword(def.Password),
			sqlcommon.WithLogger(m.logger),
			sqlcommon.WithAggregates(m.aggregates),
			sqlcommon.WithMaxOpenConns(def.MaxOpenConns),
			sqlcommon.WithMaxIdleConns(def.MaxIdleConns),
			sqlcommon.WithConnMaxIdleTime(def.ConnMaxIdleTime),
			sqlcommon.WithConnMaxLifetime(def.ConnMaxLifetime),
		}
		if m.metrics {
			opts = append(opts, sqlcommon.WithMetrics())
		}
		ds, err := open(ctx, def.ID, def.URI, sqlcommon.NewConfig(opts...))
		if err != nil {
			return nil, err
		}
		return ds, nil
	}
}

func (m *Manager) openRemote(_ context.Context, def Definition) (storage.Repository, error) {
	return sparqlhttp.New(def.ID, def.URI, sparqlhttp.WithLogger(m.logger))
}

func (m *Manager) closeAll(repos []storage.Repository) {
	for _, repo := range repos {
		closeRepository(m.logger, repo)
	}
}

func closeRepository(l logger.Logger, repo storage.Repository) {
	c, ok := repo.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		l.Error("failed to close repository", zap.String("repository", repo.ID()), zap.Error(err))
	}
}
