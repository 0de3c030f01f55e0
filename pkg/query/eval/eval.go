// Package eval evaluates query algebra against a triple source. It is the native
// evaluation path of the local repositories and the base the federation strategy
// delegates to for every node it does not handle itself.
package eval

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/ephedra/ephedra/internal/iterator"
	"github.com/ephedra/ephedra/pkg/aggregate"
	"github.com/ephedra/ephedra/pkg/logger"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/storage"
)

var tracer = otel.Tracer("ephedra/pkg/query/eval")

var (
	// ErrUnsupportedNode is returned for algebra the evaluator cannot run locally,
	// such as SERVICE outside a federation.
	ErrUnsupportedNode = errors.New("unsupported algebra node")

	// ErrUnknownAggregate is returned when an aggregate IRI cannot be resolved.
	ErrUnknownAggregate = errors.New("unknown aggregate function")
)

// Strategy evaluates a tuple expression under input bindings. Every returned
// solution is compatible with bindings and contains them.
type Strategy interface {
	Evaluate(ctx context.Context, expr algebra.TupleExpr, bindings rdf.Solution) (storage.SolutionIterator, error)
}

// Aggregates resolves aggregate IRIs. *aggregate.Registry implements it.
type Aggregates interface {
	Lookup(iri string) (aggregate.Function, bool)
}

// Evaluator evaluates every algebra node over a TripleSource.
type Evaluator struct {
	source     storage.TripleSource
	delegate   Strategy
	aggregates Aggregates
	logger     logger.Logger
}

var _ Strategy = (*Evaluator)(nil)

type EvaluatorOption func(*Evaluator)

// WithDelegate routes the evaluation of every sub-expression through s. The
// federation strategy uses this to intercept joins and member sub-plans.
func WithDelegate(s Strategy) EvaluatorOption {
	return func(e *Evaluator) {
		e.delegate = s
	}
}

func WithAggregates(a Aggregates) EvaluatorOption {
	return func(e *Evaluator) {
		e.aggregates = a
	}
}

func WithLogger(l logger.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = l
	}
}

// New returns an Evaluator reading statements from source.
func New(source storage.TripleSource, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		source: source,
		logger: logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.delegate == nil {
		e.delegate = e
	}
	return e
}

// Evaluate implements Strategy by evaluating expr locally.
func (e *Evaluator) Evaluate(ctx context.Context, expr algebra.TupleExpr, bindings rdf.Solution) (storage.SolutionIterator, error) {
	return e.EvaluateNode(ctx, expr, bindings)
}

// Source returns the triple source e reads from.
func (e *Evaluator) Source() storage.TripleSource {
	return e.source
}

// EvaluateNode evaluates the root of expr locally. Its children are evaluated
// through the delegate.
func (e *Evaluator) EvaluateNode(ctx context.Context, expr algebra.TupleExpr, bindings rdf.Solution) (storage.SolutionIterator, error) {
	if bindings == nil {
		bindings = rdf.Solution{}
	}
	switch n := expr.(type) {
	case *algebra.StatementPattern:
		return e.statements(ctx, n, bindings)
	case *algebra.Singleton:
		return storage.NewStaticIterator(bindings), nil
	case *algebra.Values:
		return e.values(n, bindings), nil
	case *algebra.Join:
		return e.NestedLoopJoin(ctx, n.Args, bindings)
	case *algebra.LeftJoin:
		return e.NestedLoopLeftJoin(ctx, n, bindings)
	case *algebra.Union:
		left, err := e.delegate.Evaluate(ctx, n.Left, bindings)
		if err != nil {
			return nil, err
		}
		right := iterator.Lazy(func(ctx context.Context) (storage.SolutionIterator, error) {
			return e.delegate.Evaluate(ctx, n.Right, bindings)
		})
		return iterator.Concat(left, right), nil
	case *algebra.Minus:
		return e.minus(ctx, n, bindings)
	case *algebra.Filter:
		return e.filter(ctx, n, bindings)
	case *algebra.Extension:
		return e.extension(ctx, n, bindings)
	case *algebra.Group:
		return e.group(ctx, n, bindings)
	case *algebra.Projection:
		return e.projection(ctx, n, bindings)
	case *algebra.Distinct:
		return e.distinct(ctx, n, bindings)
	case *algebra.Order:
		return e.order(ctx, n, bindings)
	case *algebra.Slice:
		return e.slice(ctx, n, bindings)
	case *algebra.Service:
		if n.Silent {
			return storage.NewStaticIterator(bindings), nil
		}
		return nil, fmt.Errorf("%w: SERVICE %s", ErrUnsupportedNode, n.Ref.Value)
	case *algebra.Owned:
		return e.delegate.Evaluate(ctx, n.Arg, bindings)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedNode, expr)
	}
}

// Substitute returns v's value under bindings: its constant, its binding or unbound.
func Substitute(v algebra.Var, bindings rdf.Solution) rdf.Term {
	if v.IsConst() {
		return v.Value
	}
	return bindings.Get(v.Name)
}

func (e *Evaluator) statements(ctx context.Context, sp *algebra.StatementPattern, bindings rdf.Solution) (storage.SolutionIterator, error) {
	s := Substitute(sp.Subject, bindings)
	p := Substitute(sp.Predicate, bindings)
	o := Substitute(sp.Object, bindings)

	triples, err := e.source.Statements(ctx, s, p, o)
	if err != nil {
		return nil, err
	}
	return iterator.Map(triples, func(t rdf.Triple) (rdf.Solution, bool, error) {
		return BindTriple(sp, t, bindings)
	}), nil
}

// BindTriple extends bindings with the variables of sp matched against t. ok is
// false when t does not fit the pattern, e.g. when a repeated variable sees two
// different terms.
func BindTriple(sp *algebra.StatementPattern, t rdf.Triple, bindings rdf.Solution) (rdf.Solution, bool, error) {
	out := bindings
	for _, pair := range [3]struct {
		v    algebra.Var
		term rdf.Term
	}{{sp.Subject, t.Subject}, {sp.Predicate, t.Predicate}, {sp.Object, t.Object}} {
		if pair.v.IsConst() {
			if pair.v.Value != pair.term {
				return nil, false, nil
			}
			continue
		}
		if existing := out.Get(pair.v.Name); existing.IsBound() {
			if existing != pair.term {
				return nil, false, nil
			}
			continue
		}
		out = out.With(pair.v.Name, pair.term)
	}
	return out, true, nil
}

func (e *Evaluator) values(v *algebra.Values, bindings rdf.Solution) storage.SolutionIterator {
	out := make([]rdf.Solution, 0, len(v.Rows))
	for _, row := range v.Rows {
		s := rdf.Solution{}
		for i, name := range v.Vars {
			if i < len(row) && row[i].IsBound() {
				s[name] = row[i]
			}
		}
		if merged, ok := bindings.Merge(s); ok {
			out = append(out, merged)
		}
	}
	return storage.NewStaticIterator(out...)
}

func (e *Evaluator) filter(ctx context.Context, f *algebra.Filter, bindings rdf.Solution) (storage.SolutionIterator, error) {
	it, err := e.delegate.Evaluate(ctx, f.Arg, bindings)
	if err != nil {
		return nil, err
	}
	return iterator.NewFilteredIterator(it, func(s rdf.Solution) (bool, error) {
		return e.Test(ctx, f.Condition, s)
	}), nil
}

func (e *Evaluator) extension(ctx context.Context, x *algebra.Extension, bindings rdf.Solution) (storage.SolutionIterator, error) {
	it, err := e.delegate.Evaluate(ctx, x.Arg, bindings)
	if err != nil {
		return nil, err
	}
	return iterator.Map(it, func(s rdf.Solution) (rdf.Solution, bool, error) {
		v, err := e.Value(ctx, x.Expr, s)
		if err != nil {
			if isExpressionError(err) {
				return s, true, nil
			}
			return nil, false, err
		}
		if existing := s.Get(x.Name); existing.IsBound() {
			return s, existing == v, nil
		}
		return s.With(x.Name, v), true, nil
	}), nil
}

// projection evaluates its argument without the bindings it hides, then merges
// the projected rows back into bindings.
func (e *Evaluator) projection(ctx context.Context, p *algebra.Projection, bindings rdf.Solution) (storage.SolutionIterator, error) {
	it, err := e.delegate.Evaluate(ctx, p.Arg, bindings.Project(p.Vars))
	if err != nil {
		return nil, err
	}
	return iterator.Map(it, func(s rdf.Solution) (rdf.Solution, bool, error) {
		merged, ok := bindings.Merge(s.Project(p.Vars))
		return merged, ok, nil
	}), nil
}

func (e *Evaluator) distinct(ctx context.Context, d *algebra.Distinct, bindings rdf.Solution) (storage.SolutionIterator, error) {
	it, err := e.delegate.Evaluate(ctx, d.Arg, bindings)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	return iterator.NewFilteredIterator(it, func(s rdf.Solution) (bool, error) {
		key := s.String()
		if _, ok := seen[key]; ok {
			return false, nil
		}
		seen[key] = struct{}{}
		return true, nil
	}), nil
}

// slice applies OFFSET and LIMIT to the unconstrained argument; they never see
// outer bindings.
func (e *Evaluator) slice(ctx context.Context, sl *algebra.Slice, bindings rdf.Solution) (storage.SolutionIterator, error) {
	it, err := e.delegate.Evaluate(ctx, sl.Arg, rdf.Solution{})
	if err != nil {
		return nil, err
	}
	return &sliceIterator{iter: it, offset: sl.Offset, limit: sl.Limit, bindings: bindings}, nil
}

type sliceIterator struct {
	iter     storage.SolutionIterator
	offset   int64
	limit    int64
	bindings rdf.Solution
	emitted  int64
	skipped  int64
	stopped  bool
}

func (s *sliceIterator) Next(ctx context.Context) (rdf.Solution, error) {
	for {
		if s.stopped || (s.limit >= 0 && s.emitted >= s.limit) {
			s.Stop()
			return nil, storage.ErrIteratorDone
		}
		sol, err := s.iter.Next(ctx)
		if err != nil {
			return nil, err
		}
		if s.skipped < s.offset {
			s.skipped++
			continue
		}
		s.emitted++
		if merged, ok := s.bindings.Merge(sol); ok {
			return merged, nil
		}
	}
}

func (s *sliceIterator) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	s.iter.Stop()
}

func (e *Evaluator) minus(ctx context.Context, m *algebra.Minus, bindings rdf.Solution) (storage.SolutionIterator, error) {
	left, err := e.delegate.Evaluate(ctx, m.Left, bindings)
	if err != nil {
		return nil, err
	}
	var right []rdf.Solution
	loaded := false
	return iterator.NewFilteredIterator(left, func(l rdf.Solution) (bool, error) {
		if !loaded {
			it, err := e.delegate.Evaluate(ctx, m.Right, rdf.Solution{})
			if err != nil {
				return false, err
			}
			right, err = iterator.Collect(ctx, it)
			if err != nil {
				return false, err
			}
			loaded = true
		}
		for _, r := range right {
			if l.Compatible(r) && sharesVariable(l, r) {
				return false, nil
			}
		}
		return true, nil
	}), nil
}

func sharesVariable(a, b rdf.Solution) bool {
	for k := range a {
		if b.Has(k) {
			return true
		}
	}
	return false
}
