package federation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ephedra/ephedra/internal/iterator"
	"github.com/ephedra/ephedra/internal/workerpool"
	"github.com/ephedra/ephedra/pkg/logger"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/query/eval"
	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/storage"
	"github.com/ephedra/ephedra/pkg/telemetry"
)

// Algorithm names a join algorithm.
type Algorithm string

const (
	AlgorithmNested        Algorithm = "nested"
	AlgorithmBound         Algorithm = "bound"
	AlgorithmAsyncParallel Algorithm = "async"
	AlgorithmCompeting     Algorithm = "competing"
)

// Algorithm returns the algorithm the flags select: competing, then async
// parallel, then bound, then nested loops.
func (f JoinFlags) Algorithm() Algorithm {
	switch {
	case f.Competing:
		return AlgorithmCompeting
	case f.AsyncParallel:
		return AlgorithmAsyncParallel
	case f.Bound:
		return AlgorithmBound
	default:
		return AlgorithmNested
	}
}

// Strategy evaluates federated algebra over the member connections of one
// Connection. Its join algorithm is fixed when it is built.
type Strategy struct {
	// ctx is the lifetime of the evaluation. Background work of the joins runs
	// under it rather than under the call that started it.
	ctx       context.Context
	conn      *Connection
	algorithm Algorithm
	eval      *eval.Evaluator
	source    storage.TripleSource
	pool      *workerpool.Pool
	logger    logger.Logger

	batchSize int
	maxProbes int
	maxPlans  int
}

var _ eval.Strategy = (*Strategy)(nil)

// Algorithm returns the join algorithm of s.
func (s *Strategy) Algorithm() Algorithm {
	return s.algorithm
}

// Source returns the statements outside SERVICE clauses are read from: the
// default member.
func (s *Strategy) Source() storage.TripleSource {
	return s.source
}

// Evaluate see [eval.Strategy].Evaluate.
func (s *Strategy) Evaluate(ctx context.Context, expr algebra.TupleExpr, bindings rdf.Solution) (storage.SolutionIterator, error) {
	if bindings == nil {
		bindings = rdf.Solution{}
	}
	switch n := expr.(type) {
	case *algebra.Join:
		return s.join(ctx, n.Args, bindings)
	case *algebra.Owned:
		return s.owned(ctx, n, bindings)
	case *algebra.Service:
		return s.service(ctx, n, bindings)
	default:
		return s.eval.EvaluateNode(ctx, expr, bindings)
	}
}

func (s *Strategy) join(ctx context.Context, args []algebra.TupleExpr, bindings rdf.Solution) (storage.SolutionIterator, error) {
	if len(args) < 2 {
		return s.eval.NestedLoopJoin(ctx, args, bindings)
	}
	joinAlgorithmCounter.WithLabelValues(string(s.algorithm)).Inc()

	switch s.algorithm {
	case AlgorithmCompeting:
		return s.competingJoin(args, bindings), nil
	case AlgorithmAsyncParallel:
		it, err := s.Evaluate(ctx, args[0], bindings)
		if err != nil {
			return nil, err
		}
		for _, arg := range args[1:] {
			it = s.asyncJoin(it, arg)
		}
		return it, nil
	case AlgorithmBound:
		it, err := s.Evaluate(ctx, args[0], bindings)
		if err != nil {
			return nil, err
		}
		for _, arg := range args[1:] {
			if o, ok := arg.(*algebra.Owned); ok {
				it = s.boundJoin(it, o)
				continue
			}
			it = s.nestedStep(it, arg)
		}
		return it, nil
	default:
		return s.eval.NestedLoopJoin(ctx, args, bindings)
	}
}

func (s *Strategy) nestedStep(left storage.SolutionIterator, right algebra.TupleExpr) storage.SolutionIterator {
	return iterator.FlatMap(left, func(ctx context.Context, l rdf.Solution) (storage.SolutionIterator, error) {
		return s.Evaluate(ctx, right, l)
	})
}

// member returns the open connection of id.
func (s *Strategy) member(id string) (storage.Connection, error) {
	conn, ok := s.conn.Member(id)
	if !ok {
		return nil, memberError(id, "evaluate", fmt.Errorf("no open connection"))
	}
	return conn, nil
}

// owned sends o to its member in one request. Only the bindings o can use are
// sent; the others are merged back into the results.
func (s *Strategy) owned(ctx context.Context, o *algebra.Owned, bindings rdf.Solution) (storage.SolutionIterator, error) {
	if err := s.checkInputs(o, bindings); err != nil {
		return nil, err
	}
	conn, err := s.member(o.Member)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "federation.member", trace.WithAttributes(attribute.String("member", o.Member)))
	defer span.End()

	in := bindings.Project(algebra.BindingNames(o.Arg, true))
	it, err := s.sendToMember(ctx, o.Member, conn, o.Arg, in)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	if len(in) == len(bindings) {
		return it, nil
	}
	return iterator.Map(it, func(sol rdf.Solution) (rdf.Solution, bool, error) {
		merged, ok := bindings.Merge(sol)
		return merged, ok, nil
	}), nil
}

// checkInputs fails when bindings leave a mandatory input of o unbound.
func (s *Strategy) checkInputs(o *algebra.Owned, bindings rdf.Solution) error {
	for _, name := range s.conn.view.memberInputs(o) {
		if !bindings.Get(name).IsBound() {
			return fmt.Errorf("%w: ?%s of member %s", ErrUnboundInput, name, o.Member)
		}
	}
	return nil
}

func (s *Strategy) sendToMember(ctx context.Context, id string, conn storage.Connection, expr algebra.TupleExpr, in rdf.Solution) (storage.SolutionIterator, error) {
	start := time.Now()
	it, err := conn.Evaluate(ctx, expr, in)
	memberQueryDurationHistogram.WithLabelValues(id).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		memberQueryCounter.WithLabelValues(id, "error").Inc()
		s.logger.DebugWithContext(ctx, "member sub-query failed", zap.String("member", id), zap.Error(err))
		return nil, memberError(id, "evaluate", err)
	}
	memberQueryCounter.WithLabelValues(id, "ok").Inc()
	return &memberIterator{member: id, iter: it}, nil
}

// service evaluates a SERVICE clause the planner did not assign to a member:
// silent clauses, variable endpoints and unknown IRIs.
func (s *Strategy) service(ctx context.Context, n *algebra.Service, bindings rdf.Solution) (storage.SolutionIterator, error) {
	ref := eval.Substitute(n.Ref, bindings)
	var err error
	id, ok := "", false
	if ref.IsIRI() {
		id, ok = s.conn.view.services[ref.Value]
	}
	if !ok {
		err = fmt.Errorf("%w: %s", ErrUnknownService, ref)
		if !ref.IsBound() {
			err = fmt.Errorf("%w: endpoint variable ?%s is unbound", ErrUnknownService, n.Ref.Name)
		}
	}
	if err != nil {
		if n.Silent {
			return storage.NewStaticIterator(bindings), nil
		}
		return iterator.Error[rdf.Solution](err), nil
	}

	it, err := s.owned(ctx, &algebra.Owned{Member: id, Arg: n.Arg}, bindings)
	if n.Silent {
		if err != nil {
			s.logger.DebugWithContext(ctx, "silent service failed", zap.String("member", id), zap.Error(err))
			return storage.NewStaticIterator(bindings), nil
		}
		return &silentIterator{iter: it, bindings: bindings}, nil
	}
	return it, err
}

// memberIterator marks the failures of a member's results.
type memberIterator struct {
	member string
	iter   storage.SolutionIterator
}

func (m *memberIterator) Next(ctx context.Context) (rdf.Solution, error) {
	sol, err := m.iter.Next(ctx)
	if err != nil && !errors.Is(err, storage.ErrIteratorDone) {
		return nil, memberError(m.member, "read results", err)
	}
	return sol, err
}

func (m *memberIterator) Stop() {
	m.iter.Stop()
}

// silentIterator ends quietly when its member fails. A failure before the first
// solution yields the input bindings instead.
type silentIterator struct {
	iter     storage.SolutionIterator
	bindings rdf.Solution
	emitted  bool
	done     bool
}

func (s *silentIterator) Next(ctx context.Context) (rdf.Solution, error) {
	if s.done {
		return nil, storage.ErrIteratorDone
	}
	sol, err := s.iter.Next(ctx)
	switch {
	case err == nil:
		s.emitted = true
		return sol, nil
	case errors.Is(err, storage.ErrIteratorDone), isContextError(err):
		return nil, err
	}
	s.Stop()
	if !s.emitted {
		return s.bindings, nil
	}
	return nil, storage.ErrIteratorDone
}

func (s *silentIterator) Stop() {
	s.done = true
	s.iter.Stop()
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// memberSource reads the default member's statements for patterns outside
// member sub-plans.
type memberSource struct {
	id   string
	conn storage.Connection
}

func (m memberSource) Statements(ctx context.Context, subject, predicate, object rdf.Term) (storage.TripleIterator, error) {
	it, err := m.conn.Statements(ctx, subject, predicate, object)
	if err != nil {
		return nil, memberError(m.id, "statements", err)
	}
	return it, nil
}
