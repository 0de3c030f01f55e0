// Package federation answers SPARQL queries over several member repositories as
// if they were one. A federation has a default member holding the local data and
// named members addressed by SERVICE clauses. Queries reading only the default
// member are passed to it whole; all others are planned into member sub-queries
// and joined with the algorithm selected by the join flags.
package federation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Yiling-J/theine-go"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ephedra/ephedra/internal/concurrency"
	"github.com/ephedra/ephedra/internal/workerpool"
	"github.com/ephedra/ephedra/pkg/aggregate"
	"github.com/ephedra/ephedra/pkg/logger"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/query/eval"
	"github.com/ephedra/ephedra/pkg/query/sparql"
	"github.com/ephedra/ephedra/pkg/storage"
	"github.com/ephedra/ephedra/pkg/telemetry"
)

var tracer = otel.Tracer("ephedra/pkg/federation")

// Federation owns the member catalog, the worker pool member sub-queries run on
// and the join flags. It is safe for concurrent use.
type Federation struct {
	id         string
	cfg        Config
	catalog    *catalog
	aggregates *aggregate.Registry
	pool       *workerpool.Pool
	logger     logger.Logger
	queries    *theine.Cache[string, *algebra.Query]

	asyncParallel atomic.Bool
	bound         atomic.Bool
	competing     atomic.Bool

	shutdown     atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

type Option func(*Federation)

func WithLogger(l logger.Logger) Option {
	return func(f *Federation) {
		f.logger = l
	}
}

// WithAggregates sets the extension aggregates queries may call. The default is
// aggregate.DefaultRegistry.
func WithAggregates(r *aggregate.Registry) Option {
	return func(f *Federation) {
		f.aggregates = r
	}
}

// WithID names the federation in logs and in its worker pool.
func WithID(id string) Option {
	return func(f *Federation) {
		f.id = id
	}
}

// New returns a federation of the members in cfg. Members are resolved through
// resolver on the first OpenConnection, not here.
func New(cfg Config, resolver Resolver, opts ...Option) (*Federation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, fmt.Errorf("%w: a resolver is required", ErrInvalidConfig)
	}
	cfg.Members = append([]MemberMapping(nil), cfg.Members...)

	f := &Federation{
		cfg:        cfg,
		aggregates: aggregate.DefaultRegistry(),
		logger:     logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.id == "" {
		f.id = "federation-" + ulid.Make().String()
	}
	f.catalog = newCatalog(&f.cfg, resolver)
	f.pool = workerpool.New(f.id, workerpool.WithLogger(f.logger))
	f.SetJoinFlags(cfg.Joins)

	if cfg.QueryCacheSize > 0 {
		queries, err := theine.NewBuilder[string, *algebra.Query](cfg.QueryCacheSize).Build()
		if err != nil {
			return nil, fmt.Errorf("build query cache: %w", err)
		}
		f.queries = queries
	}
	return f, nil
}

// ID returns the federation id.
func (f *Federation) ID() string {
	return f.id
}

// Config returns a copy of the validated configuration.
func (f *Federation) Config() Config {
	cfg := f.cfg
	cfg.Members = append([]MemberMapping(nil), f.cfg.Members...)
	cfg.Joins = f.JoinFlags()
	return cfg
}

// Members lists the configured members, the default first.
func (f *Federation) Members() []Member {
	return f.catalog.members()
}

// Aggregates returns the extension aggregates of f.
func (f *Federation) Aggregates() *aggregate.Registry {
	return f.aggregates
}

// Pool returns the worker pool member sub-queries run on.
func (f *Federation) Pool() *workerpool.Pool {
	return f.pool
}

// AddMember always fails: the members of a federation come from its
// configuration only.
func (f *Federation) AddMember(id string) error {
	return fmt.Errorf("add member %q to federation %s: %w", id, f.id, errors.ErrUnsupported)
}

// SetResolver always fails: the resolver is fixed by New.
func (f *Federation) SetResolver(Resolver) error {
	return fmt.Errorf("replace resolver of federation %s: %w", f.id, errors.ErrUnsupported)
}

// OpenConnection resolves the members on first use and opens one connection to
// each of them. Opening is all or nothing: when a member fails, the connections
// already opened are closed and the member's error is returned.
func (f *Federation) OpenConnection(ctx context.Context) (*Connection, error) {
	if f.shutdown.Load() {
		return nil, ErrShutdown
	}
	ctx, span := tracer.Start(ctx, "federation.OpenConnection", trace.WithAttributes(attribute.String("federation", f.id)))
	defer span.End()

	view, err := f.catalog.get(ctx)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	var mu sync.Mutex
	members := make(map[string]storage.Connection, len(view.ids))
	pool := concurrency.NewPool(ctx, len(view.ids))
	for _, id := range view.ids {
		repo := view.repos[id]
		pool.Go(func(ctx context.Context) error {
			conn, err := repo.Connect(ctx)
			if err != nil {
				return memberError(id, "connect", err)
			}
			mu.Lock()
			members[id] = conn
			mu.Unlock()
			return nil
		})
	}
	if err := pool.Wait(); err != nil {
		for id, conn := range members {
			if cerr := conn.Close(); cerr != nil {
				f.logger.WarnWithContext(ctx, "failed to close member connection after open failure", zap.String("member", id), zap.Error(cerr))
			}
		}
		telemetry.TraceError(span, err)
		return nil, err
	}
	return &Connection{fed: f, view: view, members: members}, nil
}

// JoinFlags returns the current join flags.
func (f *Federation) JoinFlags() JoinFlags {
	return JoinFlags{
		AsyncParallel: f.asyncParallel.Load(),
		Bound:         f.bound.Load(),
		Competing:     f.competing.Load(),
	}
}

// SetJoinFlags replaces all join flags. Strategies built earlier keep their
// algorithm.
func (f *Federation) SetJoinFlags(flags JoinFlags) {
	f.asyncParallel.Store(flags.AsyncParallel)
	f.bound.Store(flags.Bound)
	f.competing.Store(flags.Competing)
}

func (f *Federation) SetAsyncParallelJoin(enabled bool) {
	f.asyncParallel.Store(enabled)
}

func (f *Federation) SetBoundJoin(enabled bool) {
	f.bound.Store(enabled)
}

func (f *Federation) SetCompetingJoin(enabled bool) {
	f.competing.Store(enabled)
}

// NewStrategy returns a strategy evaluating over conn with the join algorithm
// the current flags select. Work the strategy runs in the background ends with
// ctx at the latest.
func (f *Federation) NewStrategy(ctx context.Context, conn *Connection) *Strategy {
	return f.newStrategy(ctx, conn, "")
}

func (f *Federation) newStrategy(ctx context.Context, conn *Connection, override Algorithm) *Strategy {
	algorithm := f.JoinFlags().Algorithm()
	if override != "" {
		algorithm = override
	}
	s := &Strategy{
		ctx:       ctx,
		conn:      conn,
		algorithm: algorithm,
		source:    memberSource{id: conn.view.defaultID, conn: conn.Default()},
		pool:      f.pool,
		logger:    f.logger,
		batchSize: f.cfg.BoundJoinBatchSize,
		maxProbes: f.cfg.MaxConcurrentProbes,
		maxPlans:  f.cfg.MaxCompetingPlans,
	}
	s.eval = eval.New(s.source,
		eval.WithDelegate(s),
		eval.WithAggregates(f.aggregates),
		eval.WithLogger(f.logger),
	)
	return s
}

// Invalidate drops the resolved members. The next OpenConnection resolves them
// again; open connections keep the members they were opened with.
func (f *Federation) Invalidate() {
	f.catalog.invalidate()
}

// Shutdown stops the worker pool. Running tasks get the configured shutdown
// timeout to finish and are cancelled afterwards. When ctx ends first the tasks
// are cancelled and ctx's error is returned. The members are released only after
// every task has exited. Calling Shutdown again returns the
// result of the first call.
func (f *Federation) Shutdown(ctx context.Context) error {
	f.shutdownOnce.Do(func() {
		f.shutdown.Store(true)
		f.shutdownErr = f.pool.Shutdown(ctx, f.cfg.ShutdownTimeout)
		f.catalog.invalidate()
		if f.queries != nil {
			f.queries.Close()
		}
		f.logger.Info("federation shut down", zap.String("federation", f.id))
	})
	return f.shutdownErr
}

// parse parses text with the federation's aggregates. Parsed trees are cached and
// shared; they are never modified.
func (f *Federation) parse(text string) (*algebra.Query, error) {
	cached := f.queries != nil && !f.shutdown.Load()
	if cached {
		if q, ok := f.queries.Get(text); ok {
			return q, nil
		}
	}
	q, err := sparql.Parse(text, sparql.WithAggregates(f.aggregates))
	if err != nil {
		return nil, err
	}
	if cached {
		f.queries.Set(text, q, 1)
	}
	return q, nil
}

// Repository returns f as a storage.Repository whose connections are federation
// connections.
func (f *Federation) Repository() storage.Repository {
	return repository{f}
}

type repository struct {
	f *Federation
}

func (r repository) ID() string {
	return r.f.id
}

func (r repository) Connect(ctx context.Context) (storage.Connection, error) {
	return r.f.OpenConnection(ctx)
}
