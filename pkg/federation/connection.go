package federation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ephedra/ephedra/pkg/logger"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/query/eval"
	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/storage"
	"github.com/ephedra/ephedra/pkg/telemetry"
)

// Connection holds one open connection per federation member. It is used by one
// query evaluation at a time.
type Connection struct {
	fed     *Federation
	view    *catalogView
	members map[string]storage.Connection
	closed  atomic.Bool
}

var _ storage.Connection = (*Connection)(nil)

// Federation returns the federation c was opened from.
func (c *Connection) Federation() *Federation {
	return c.fed
}

// Default returns the connection of the default member.
func (c *Connection) Default() storage.Connection {
	return c.members[c.view.defaultID]
}

// Member returns the connection of the member id.
func (c *Connection) Member(id string) (storage.Connection, bool) {
	conn, ok := c.members[id]
	return conn, ok
}

// Members returns the ids of the connected members, the default first.
func (c *Connection) Members() []string {
	return append([]string(nil), c.view.ids...)
}

func (c *Connection) isClosed() bool {
	return c.closed.Load()
}

// Prepare parses text and readies it for evaluation. Unknown extension
// aggregates and invalid query hints are reported here.
func (c *Connection) Prepare(ctx context.Context, text string) (*PreparedQuery, error) {
	if c.isClosed() {
		return nil, storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := c.fed.parse(text)
	if err != nil {
		return nil, err
	}

	var hints Hints
	if c.fed.cfg.EnableQueryHints {
		root, h, err := extractHints(q.Root)
		if err != nil {
			return nil, err
		}
		if h.Present() {
			q = q.WithRoot(root)
			hints = h
		}
	}
	return &PreparedQuery{conn: c, query: q, hints: hints}, nil
}

// Query prepares and evaluates text.
func (c *Connection) Query(ctx context.Context, text string) (*storage.QueryResult, error) {
	pq, err := c.Prepare(ctx, text)
	if err != nil {
		return nil, err
	}
	return pq.Evaluate(ctx)
}

// Statements reads the statements of the default member.
func (c *Connection) Statements(ctx context.Context, subject, predicate, object rdf.Term) (storage.TripleIterator, error) {
	if c.isClosed() {
		return nil, storage.ErrClosed
	}
	return memberSource{id: c.view.defaultID, conn: c.Default()}.Statements(ctx, subject, predicate, object)
}

// Evaluate plans expr over the members and evaluates it with the current join
// flags.
func (c *Connection) Evaluate(ctx context.Context, expr algebra.TupleExpr, bindings rdf.Solution) (storage.SolutionIterator, error) {
	if c.isClosed() {
		return nil, storage.ErrClosed
	}
	return c.fed.NewStrategy(ctx, c).Evaluate(ctx, plan(expr, c.view), bindings)
}

// Close closes every member connection, even when some fail, and returns the
// first failure. Closing twice is a no-op.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	var first error
	for _, id := range c.view.ids {
		conn, ok := c.members[id]
		if !ok {
			continue
		}
		if err := conn.Close(); err != nil {
			c.fed.logger.Warn("failed to close member connection", zap.String("member", id), zap.Error(err))
			if first == nil {
				first = memberError(id, "close", err)
			}
		}
	}
	return first
}

// PreparedQuery is a parsed query bound to a Connection.
type PreparedQuery struct {
	conn  *Connection
	query *algebra.Query
	hints Hints
}

// Query returns the parsed query with its hints removed.
func (p *PreparedQuery) Query() *algebra.Query {
	return p.query
}

// Hints returns the hints the query carried.
func (p *PreparedQuery) Hints() Hints {
	return p.hints
}

// Evaluate runs the query. Queries that only read the default member are handed
// to it whole. The result must be closed.
func (p *PreparedQuery) Evaluate(ctx context.Context) (*storage.QueryResult, error) {
	c := p.conn
	if c.isClosed() {
		return nil, storage.ErrClosed
	}

	queryID := ulid.Make().String()
	ctx = logger.ContextWithFields(ctx, zap.String("query_id", queryID))
	ctx, span := tracer.Start(ctx, "federation.Evaluate", trace.WithAttributes(
		attribute.String("query_id", queryID),
		attribute.String("form", p.query.Form.String()),
	))

	var deadline time.Time
	cancel := context.CancelFunc(func() {})
	if timeout := p.timeout(); timeout > 0 {
		deadline = time.Now().Add(timeout)
		ctx, cancel = context.WithDeadlineCause(ctx, deadline, ErrQueryTimeout)
	}
	finish := func() {
		cancel()
		span.End()
	}

	var (
		res *storage.QueryResult
		err error
	)
	if !p.hints.Present() && IsSingleOwner(p.query, c) {
		singleOwnerCounter.Inc()
		span.SetAttributes(attribute.Bool("single_owner", true))
		c.fed.logger.DebugWithContext(ctx, "query answered by the default member", zap.String("member", c.view.defaultID))
		res, err = c.Default().Query(ctx, p.query.Text)
		if err != nil {
			err = memberError(c.view.defaultID, "query", err)
		}
	} else {
		strategy := c.fed.newStrategy(ctx, c, p.hints.Algorithm)
		span.SetAttributes(attribute.String("join_algorithm", string(strategy.Algorithm())))
		res, err = eval.Run(ctx, strategy, strategy.Source(), p.query.WithRoot(plan(p.query.Root, c.view)))
	}
	if err != nil {
		err = timeoutError(ctx, err)
		telemetry.TraceError(span, err)
		finish()
		return nil, err
	}

	if !deadline.IsZero() {
		if res.Solutions != nil {
			res.Solutions = &deadlineIterator[rdf.Solution]{iter: res.Solutions, deadline: deadline}
		}
		if res.Triples != nil {
			res.Triples = &deadlineIterator[rdf.Triple]{iter: res.Triples, deadline: deadline}
		}
	}
	res.OnClose(finish)
	return res, nil
}

// timeout returns the evaluation bound: the federation's, tightened by a hint.
func (p *PreparedQuery) timeout() time.Duration {
	timeout := p.conn.fed.cfg.MaxExecutionTime
	if h := p.hints.MaxExecutionTime; h > 0 && (timeout == 0 || h < timeout) {
		timeout = h
	}
	return timeout
}

// timeoutError reports err as ErrQueryTimeout when it was caused by the
// evaluation bound of ctx.
func timeoutError(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, ErrQueryTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if !errors.Is(context.Cause(ctx), ErrQueryTimeout) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrQueryTimeout, err)
}

// deadlineIterator applies the evaluation bound to the consumption of a result.
type deadlineIterator[T any] struct {
	iter     storage.Iterator[T]
	deadline time.Time
}

func (d *deadlineIterator[T]) Next(ctx context.Context) (T, error) {
	ctx, cancel := context.WithDeadlineCause(ctx, d.deadline, ErrQueryTimeout)
	defer cancel()
	v, err := d.iter.Next(ctx)
	return v, timeoutError(ctx, err)
}

func (d *deadlineIterator[T]) Stop() {
	d.iter.Stop()
}
