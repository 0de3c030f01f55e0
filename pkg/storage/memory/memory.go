// Package memory provides an in-memory repository. It backs tests and small
// deployments where the data set is loaded from files at startup.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ephedra/ephedra/pkg/aggregate"
	"github.com/ephedra/ephedra/pkg/logger"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/query/eval"
	"github.com/ephedra/ephedra/pkg/query/sparql"
	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/storage"
	"github.com/ephedra/ephedra/pkg/telemetry"
)

var tracer = otel.Tracer("ephedra/pkg/storage/memory")

// RepositoryOption defines a function type used for configuring a [Repository].
type RepositoryOption func(*Repository)

// WithLogger sets the logger used by the repository and its connections.
func WithLogger(l logger.Logger) RepositoryOption {
	return func(r *Repository) { r.logger = l }
}

// WithAggregates sets the aggregate functions native queries may call. It
// defaults to [aggregate.DefaultRegistry].
func WithAggregates(reg *aggregate.Registry) RepositoryOption {
	return func(r *Repository) { r.aggregates = reg }
}

// Repository is an indexed in-memory triple store. Instances may be safely shared
// by multiple goroutines.
type Repository struct {
	id         string
	logger     logger.Logger
	aggregates *aggregate.Registry

	mu        sync.RWMutex
	triples   []rdf.Triple              // GUARDED_BY(mu).
	present   map[rdf.Triple]struct{}   // GUARDED_BY(mu).
	subjects  map[rdf.Term][]rdf.Triple // GUARDED_BY(mu).
	preds     map[rdf.Term][]rdf.Triple // GUARDED_BY(mu).
	objects   map[rdf.Term][]rdf.Triple // GUARDED_BY(mu).
	openConns atomic.Int64
}

var (
	_ storage.Repository = (*Repository)(nil)
	_ storage.Loader     = (*Repository)(nil)
)

// New returns an empty repository identified by id.
func New(id string, opts ...RepositoryOption) *Repository {
	r := &Repository{
		id:         id,
		logger:     logger.NewNoopLogger(),
		aggregates: aggregate.DefaultRegistry(),
		present:    map[rdf.Triple]struct{}{},
		subjects:   map[rdf.Term][]rdf.Triple{},
		preds:      map[rdf.Term][]rdf.Triple{},
		objects:    map[rdf.Term][]rdf.Triple{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID see [storage.Repository].ID.
func (r *Repository) ID() string {
	return r.id
}

// Connect see [storage.Repository].Connect.
func (r *Repository) Connect(ctx context.Context) (storage.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.openConns.Add(1)
	return &connection{repo: r}, nil
}

// OpenConnections returns the number of connections that were opened and not yet
// closed.
func (r *Repository) OpenConnections() int64 {
	return r.openConns.Load()
}

// Len returns the number of stored triples.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.triples)
}

// Load see [storage.Loader].Load. Duplicate triples are stored once; invalid
// triples are rejected before anything is written.
func (r *Repository) Load(ctx context.Context, triples []rdf.Triple) error {
	_, span := tracer.Start(ctx, "memory.Load", trace.WithAttributes(attribute.Int("count", len(triples))))
	defer span.End()

	for _, t := range triples {
		if err := storage.ValidateTriple(t); err != nil {
			telemetry.TraceError(span, err)
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, t := range triples {
		if _, ok := r.present[t]; ok {
			continue
		}
		r.present[t] = struct{}{}
		r.triples = append(r.triples, t)
		r.subjects[t.Subject] = append(r.subjects[t.Subject], t)
		r.preds[t.Predicate] = append(r.preds[t.Predicate], t)
		r.objects[t.Object] = append(r.objects[t.Object], t)
		added++
	}
	r.logger.Debug("loaded triples", zap.String("repository", r.id), zap.Int("added", added))
	return nil
}

// match returns the triples matching the pattern, scanning the smallest index
// list the bound positions select. A bound position missing from its index
// selects the empty list.
func (r *Repository) match(s, p, o rdf.Term) []rdf.Triple {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := r.triples
	narrow := func(index map[rdf.Term][]rdf.Triple, t rdf.Term) {
		if !t.IsBound() {
			return
		}
		if list := index[t]; len(list) < len(candidates) {
			candidates = list
		}
	}
	narrow(r.subjects, s)
	narrow(r.preds, p)
	narrow(r.objects, o)

	var out []rdf.Triple
	for _, t := range candidates {
		if t.Matches(s, p, o) {
			out = append(out, t)
		}
	}
	return out
}

type connection struct {
	repo   *Repository
	closed atomic.Bool
}

var _ storage.Connection = (*connection)(nil)

func (c *connection) evaluator() *eval.Evaluator {
	return eval.New(c, eval.WithAggregates(c.repo.aggregates), eval.WithLogger(c.repo.logger))
}

// Statements see [storage.TripleSource].Statements. The iterator holds a snapshot
// taken when it was created.
func (c *connection) Statements(ctx context.Context, s, p, o rdf.Term) (storage.TripleIterator, error) {
	if c.closed.Load() {
		return nil, storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return storage.NewStaticIterator(c.repo.match(s, p, o)...), nil
}

// Evaluate see [storage.Connection].Evaluate.
func (c *connection) Evaluate(ctx context.Context, expr algebra.TupleExpr, bindings rdf.Solution) (storage.SolutionIterator, error) {
	if c.closed.Load() {
		return nil, storage.ErrClosed
	}
	ctx, span := tracer.Start(ctx, "memory.Evaluate")
	defer span.End()

	it, err := c.evaluator().Evaluate(ctx, expr, bindings)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	return it, nil
}

// Query see [storage.Connection].Query.
func (c *connection) Query(ctx context.Context, query string) (*storage.QueryResult, error) {
	if c.closed.Load() {
		return nil, storage.ErrClosed
	}
	q, err := sparql.Parse(query, sparql.WithAggregates(c.repo.aggregates))
	if err != nil {
		return nil, err
	}
	return eval.Run(ctx, c.evaluator(), c, q)
}

// Close see [storage.Connection].Close.
func (c *connection) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.repo.openConns.Add(-1)
	}
	return nil
}
