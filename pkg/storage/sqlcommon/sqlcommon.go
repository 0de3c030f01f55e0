// Package sqlcommon implements the triple store shared by the SQL member
// repositories. Dialect packages open the database and describe their SQL
// flavour; everything else lives here.
package sqlcommon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
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

var tracer = otel.Tracer("ephedra/pkg/storage/sqlcommon")

// TableName is the table every dialect stores triples in.
const TableName = "triple"

var tripleColumns = []string{"subject", "predicate", "object"}

// ErrorHandler maps driver errors to storage errors.
type ErrorHandler func(error) error

// Dialect describes the SQL flavour of a database.
type Dialect struct {
	// Name is the goose dialect and the metrics label.
	Name         string
	Placeholder  sq.PlaceholderFormat
	MigrationDir string
	// IgnoreDuplicates turns an insert into one that skips rows whose id exists.
	IgnoreDuplicates func(sq.InsertBuilder) sq.InsertBuilder
	HandleSQLError   ErrorHandler
}

func (d Dialect) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.Placeholder)
}

// ConfigureDB applies the pool limits of cfg to db.
func ConfigureDB(db *sql.DB, cfg *Config) {
	if cfg.MaxOpenConns != 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns) // default is 2, not retaining connections(0) would be detrimental for performance
	}

	if cfg.ConnMaxIdleTime != 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if cfg.ConnMaxLifetime != 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// WaitForDB pings db with exponential backoff until it answers or cfg.PingTimeout
// elapses.
func WaitForDB(ctx context.Context, db *sql.DB, cfg *Config, name string) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.PingTimeout
	attempt := 1
	err := backoff.Retry(func() error {
		err := db.PingContext(ctx)
		if err != nil {
			cfg.Logger.Info("waiting for database", zap.String("engine", name), zap.Int("attempt", attempt))
			attempt++
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

// Datastore is a SQL backed member repository. It is safe for concurrent use.
type Datastore struct {
	id               string
	db               *sql.DB
	dialect          Dialect
	stbl             sq.StatementBuilderType
	logger           logger.Logger
	aggregates       *aggregate.Registry
	dbStatsCollector prometheus.Collector
	batchSize        int
	openConns        atomic.Int64
	closeOnce        sync.Once
}

var (
	_ storage.Repository = (*Datastore)(nil)
	_ storage.Loader     = (*Datastore)(nil)
)

// NewDatastore wraps an open database. The schema must already be migrated.
func NewDatastore(id string, db *sql.DB, dialect Dialect, cfg *Config) (*Datastore, error) {
	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, id)
		if err := prometheus.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, fmt.Errorf("initialize metrics: %w", err)
			}
			// a previous datastore with this id still reports until it closes
			cfg.Logger.Warn("database stats collector already registered", zap.String("repository", id))
			collector = nil
		}
	}

	return &Datastore{
		id:               id,
		db:               db,
		dialect:          dialect,
		stbl:             dialect.builder().RunWith(db),
		logger:           cfg.Logger,
		aggregates:       cfg.Aggregates,
		dbStatsCollector: collector,
		batchSize:        cfg.InsertBatchSize,
	}, nil
}

// ID see [storage.Repository].ID.
func (s *Datastore) ID() string {
	return s.id
}

// DB returns the underlying database handle.
func (s *Datastore) DB() *sql.DB {
	return s.db
}

// Close releases the database handle and unregisters the stats collector.
func (s *Datastore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.dbStatsCollector != nil {
			prometheus.Unregister(s.dbStatsCollector)
		}
		err = s.db.Close()
	})
	return err
}

// OpenConnections returns the number of connections not yet closed.
func (s *Datastore) OpenConnections() int64 {
	return s.openConns.Load()
}

// Connect see [storage.Repository].Connect. The database is pinged so that an
// unreachable member fails here rather than in the middle of a query.
func (s *Datastore) Connect(ctx context.Context) (storage.Connection, error) {
	ctx, span := tracer.Start(ctx, s.dialect.Name+".Connect")
	defer span.End()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		err = storage.UnavailableError(s.id, s.dialect.HandleSQLError(err))
		telemetry.TraceError(span, err)
		return nil, err
	}
	s.openConns.Add(1)
	return &connection{store: s}, nil
}

// Load see [storage.Loader].Load. The whole batch is written in one transaction;
// triples already stored are skipped.
func (s *Datastore) Load(ctx context.Context, triples []rdf.Triple) error {
	ctx, span := tracer.Start(ctx, s.dialect.Name+".Load", trace.WithAttributes(attribute.Int("count", len(triples))))
	defer span.End()

	for _, t := range triples {
		if err := storage.ValidateTriple(t); err != nil {
			telemetry.TraceError(span, err)
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.dialect.HandleSQLError(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for batch := range slices.Chunk(triples, s.batchSize) {
		ib := s.dialect.builder().
			Insert(TableName).
			Columns("id", "subject", "predicate", "object")
		for _, t := range batch {
			ib = ib.Values(TripleID(t), EncodeTerm(t.Subject), EncodeTerm(t.Predicate), EncodeTerm(t.Object))
		}
		if s.dialect.IgnoreDuplicates != nil {
			ib = s.dialect.IgnoreDuplicates(ib)
		}
		if _, err := ib.RunWith(tx).ExecContext(ctx); err != nil {
			err = s.dialect.HandleSQLError(err)
			telemetry.TraceError(span, err)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return s.dialect.HandleSQLError(err)
	}
	s.logger.Debug("loaded triples", zap.String("repository", s.id), zap.Int("count", len(triples)))
	return nil
}

// SelectStatements builds the query matching the bound positions.
func (s *Datastore) SelectStatements(subject, predicate, object rdf.Term) sq.SelectBuilder {
	return selectStatements(s.stbl, subject, predicate, object)
}

func selectStatements(stbl sq.StatementBuilderType, subject, predicate, object rdf.Term) sq.SelectBuilder {
	sb := stbl.Select(tripleColumns...).From(TableName)
	for i, t := range []rdf.Term{subject, predicate, object} {
		if t.IsBound() {
			sb = sb.Where(sq.Eq{tripleColumns[i]: EncodeTerm(t)})
		}
	}
	return sb
}

type connection struct {
	store  *Datastore
	closed atomic.Bool
}

var _ storage.Connection = (*connection)(nil)

func (c *connection) evaluator() *eval.Evaluator {
	return eval.New(c, eval.WithAggregates(c.store.aggregates), eval.WithLogger(c.store.logger))
}

// Statements see [storage.TripleSource].Statements.
func (c *connection) Statements(ctx context.Context, s, p, o rdf.Term) (storage.TripleIterator, error) {
	if c.closed.Load() {
		return nil, storage.ErrClosed
	}
	return NewSQLTripleIterator(c.store.SelectStatements(s, p, o), c.store.dialect.HandleSQLError), nil
}

// Evaluate see [storage.Connection].Evaluate.
func (c *connection) Evaluate(ctx context.Context, expr algebra.TupleExpr, bindings rdf.Solution) (storage.SolutionIterator, error) {
	if c.closed.Load() {
		return nil, storage.ErrClosed
	}
	return c.evaluator().Evaluate(ctx, expr, bindings)
}

// Query see [storage.Connection].Query.
func (c *connection) Query(ctx context.Context, query string) (*storage.QueryResult, error) {
	if c.closed.Load() {
		return nil, storage.ErrClosed
	}
	q, err := sparql.Parse(query, sparql.WithAggregates(c.store.aggregates))
	if err != nil {
		return nil, err
	}
	return eval.Run(ctx, c.evaluator(), c, q)
}

// Close see [storage.Connection].Close.
func (c *connection) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.store.openConns.Add(-1)
	}
	return nil
}

// SQLTripleIterator is a struct that implements the storage.TripleIterator
// interface for iterating over triples fetched from a SQL database. The query
// runs on the first call to Next.
type SQLTripleIterator struct {
	rows           *sql.Rows // GUARDED_BY(mu)
	stopped        bool      // GUARDED_BY(mu)
	sb             sq.SelectBuilder
	handleSQLError ErrorHandler
	mu             sync.Mutex
}

// Ensures that SQLTripleIterator implements the TripleIterator interface.
var _ storage.TripleIterator = (*SQLTripleIterator)(nil)

// NewSQLTripleIterator returns a SQL triple iterator.
func NewSQLTripleIterator(sb sq.SelectBuilder, errHandler ErrorHandler) *SQLTripleIterator {
	return &SQLTripleIterator{
		sb:             sb,
		handleSQLError: errHandler,
	}
}

func (t *SQLTripleIterator) fetch(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.fetch")
	defer span.End()
	rows, err := t.sb.QueryContext(ctx)
	if err != nil {
		err = t.handleSQLError(err)
		telemetry.TraceError(span, err)
		return err
	}
	t.rows = rows
	return nil
}

// Next will return the next available triple.
func (t *SQLTripleIterator) Next(ctx context.Context) (rdf.Triple, error) {
	if ctx.Err() != nil {
		return rdf.Triple{}, ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return rdf.Triple{}, storage.ErrIteratorDone
	}
	if t.rows == nil {
		if err := t.fetch(ctx); err != nil {
			return rdf.Triple{}, err
		}
	}

	if !t.rows.Next() {
		err := t.rows.Err()
		_ = t.rows.Close()
		t.stopped = true
		if err != nil {
			if ctx.Err() != nil {
				return rdf.Triple{}, ctx.Err()
			}
			return rdf.Triple{}, t.handleSQLError(err)
		}
		return rdf.Triple{}, storage.ErrIteratorDone
	}

	var subject, predicate, object string
	if err := t.rows.Scan(&subject, &predicate, &object); err != nil {
		return rdf.Triple{}, t.handleSQLError(err)
	}
	triple, err := DecodeTriple(subject, predicate, object)
	if err != nil {
		return rdf.Triple{}, fmt.Errorf("decode stored triple: %w", err)
	}
	return triple, nil
}

// Stop terminates iteration.
func (t *SQLTripleIterator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.rows != nil {
		_ = t.rows.Close()
	}
}

// HandleSQLError is the dialect independent part of error mapping.
func HandleSQLError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("sql error: %w", err)
}
