package eval

import (
	"context"
	"errors"

	"github.com/ephedra/ephedra/internal/iterator"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/storage"
)

// NestedLoopJoin joins args left to right: each solution of one operand is the
// input binding of the next. Solutions are produced lazily and duplicates are kept.
func (e *Evaluator) NestedLoopJoin(ctx context.Context, args []algebra.TupleExpr, bindings rdf.Solution) (storage.SolutionIterator, error) {
	if len(args) == 0 {
		return storage.NewStaticIterator(bindings), nil
	}
	it, err := e.delegate.Evaluate(ctx, args[0], bindings)
	if err != nil {
		return nil, err
	}
	for _, arg := range args[1:] {
		it = iterator.FlatMap(it, func(ctx context.Context, left rdf.Solution) (storage.SolutionIterator, error) {
			return e.delegate.Evaluate(ctx, arg, left)
		})
	}
	return it, nil
}

// NestedLoopLeftJoin evaluates the right side of lj once per left solution.
func (e *Evaluator) NestedLoopLeftJoin(ctx context.Context, lj *algebra.LeftJoin, bindings rdf.Solution) (storage.SolutionIterator, error) {
	left, err := e.delegate.Evaluate(ctx, lj.Left, bindings)
	if err != nil {
		return nil, err
	}
	return iterator.FlatMap(left, func(ctx context.Context, l rdf.Solution) (storage.SolutionIterator, error) {
		right, err := e.delegate.Evaluate(ctx, lj.Right, l)
		if err != nil {
			return nil, err
		}
		return e.Optional(ctx, l, right, lj.Condition), nil
	}), nil
}

// Optional yields the solutions of matches, which must already be merged with
// left, that satisfy condition. When none do it yields left alone.
func (e *Evaluator) Optional(ctx context.Context, left rdf.Solution, matches storage.SolutionIterator, condition algebra.Expr) storage.SolutionIterator {
	return &optionalIterator{e: e, left: left, matches: matches, condition: condition}
}

type optionalIterator struct {
	e         *Evaluator
	left      rdf.Solution
	matches   storage.SolutionIterator
	condition algebra.Expr
	matched   bool
	done      bool
}

func (o *optionalIterator) Next(ctx context.Context) (rdf.Solution, error) {
	for !o.done {
		s, err := o.matches.Next(ctx)
		if errors.Is(err, storage.ErrIteratorDone) {
			o.done = true
			o.matches.Stop()
			if !o.matched {
				return o.left, nil
			}
			break
		}
		if err != nil {
			return nil, err
		}
		if o.condition != nil {
			ok, err := o.e.Test(ctx, o.condition, s)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		o.matched = true
		return s, nil
	}
	return nil, storage.ErrIteratorDone
}

func (o *optionalIterator) Stop() {
	o.done = true
	o.matches.Stop()
}

// HashJoin merges every compatible pair of left and right, preserving the
// multiplicity of both. Rows are matched on the variables bound in every row of
// both sides; the output is ordered by left row, then right row.
func HashJoin(left, right []rdf.Solution) []rdf.Solution {
	keys := alwaysBound(left, right)
	index := make(map[string][]rdf.Solution, len(right))
	for _, r := range right {
		k := r.Key(keys)
		index[k] = append(index[k], r)
	}

	var out []rdf.Solution
	for _, l := range left {
		for _, r := range index[l.Key(keys)] {
			if m, ok := l.Merge(r); ok {
				out = append(out, m)
			}
		}
	}
	return out
}

func alwaysBound(sides ...[]rdf.Solution) []string {
	var names []string
	first := true
	for _, rows := range sides {
		for _, row := range rows {
			if first {
				names = row.Names()
				first = false
				continue
			}
			kept := names[:0]
			for _, n := range names {
				if row.Has(n) {
					kept = append(kept, n)
				}
			}
			names = kept
		}
	}
	return names
}
