package eval

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/ephedra/ephedra/internal/iterator"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/storage"
)

type groupRows struct {
	key  rdf.Solution
	rows []rdf.Solution
}

// group evaluates its argument without outer bindings, since grouping must see
// every solution, and joins the grouped rows with bindings afterwards. Groups
// keep the order in which their first solution was seen.
func (e *Evaluator) group(ctx context.Context, g *algebra.Group, bindings rdf.Solution) (storage.SolutionIterator, error) {
	it, err := e.delegate.Evaluate(ctx, g.Arg, rdf.Solution{})
	if err != nil {
		return nil, err
	}
	return iterator.Lazy(func(ctx context.Context) (storage.SolutionIterator, error) {
		rows, err := iterator.Collect(ctx, it)
		if err != nil {
			return nil, err
		}

		groups := linkedhashmap.New()
		for _, row := range rows {
			key := rdf.Solution{}
			for _, k := range g.By {
				var v rdf.Term
				if k.Expr == nil {
					v = row.Get(k.Name)
				} else {
					v, err = e.Value(ctx, k.Expr, row)
					if err != nil && !isExpressionError(err) {
						return nil, err
					}
				}
				if v.IsBound() {
					key[k.Name] = v
				}
			}
			id := key.String()
			found, ok := groups.Get(id)
			if !ok {
				found = &groupRows{key: key}
				groups.Put(id, found)
			}
			gr := found.(*groupRows)
			gr.rows = append(gr.rows, row)
		}
		// an ungrouped aggregate over no solutions still produces one row
		if groups.Empty() && len(g.By) == 0 {
			groups.Put("", &groupRows{key: rdf.Solution{}})
		}

		out := make([]rdf.Solution, 0, groups.Size())
		for _, v := range groups.Values() {
			gr := v.(*groupRows)
			sol := gr.key
			for _, agg := range g.Aggregates {
				val, err := e.aggregate(ctx, agg.Expr, gr.rows)
				if err != nil {
					return nil, err
				}
				sol = sol.With(agg.Name, val)
			}
			if merged, ok := bindings.Merge(sol); ok {
				out = append(out, merged)
			}
		}
		return storage.NewStaticIterator(out...), nil
	}), nil
}

// aggregate evaluates an aggregate over the rows of one group. Built-in aggregates
// that hit a type error produce an unbound value; extension aggregates that fail
// end the evaluation with an *EvaluationError.
func (e *Evaluator) aggregate(ctx context.Context, expr algebra.Expr, rows []rdf.Solution) (rdf.Term, error) {
	switch a := expr.(type) {
	case *algebra.Aggregate:
		v, err := e.builtinAggregate(ctx, a, rows)
		if err != nil {
			if isExpressionError(err) {
				return rdf.Term{}, nil
			}
			return rdf.Term{}, err
		}
		return v, nil
	case *algebra.AggregateCall:
		return e.aggregateCall(ctx, a, rows)
	default:
		return rdf.Term{}, fmt.Errorf("%w: %T in aggregate position", ErrUnsupportedNode, expr)
	}
}

func (e *Evaluator) aggregateCall(ctx context.Context, a *algebra.AggregateCall, rows []rdf.Solution) (rdf.Term, error) {
	var fn interface {
		Evaluate([]rdf.Term) ([]rdf.Term, error)
	}
	if e.aggregates != nil {
		if f, ok := e.aggregates.Lookup(a.IRI); ok {
			fn = f
		}
	}
	if fn == nil {
		return rdf.Term{}, &EvaluationError{Function: a.IRI, Err: ErrUnknownAggregate}
	}

	var values []rdf.Term
	seen := map[rdf.Term]struct{}{}
	for _, row := range rows {
		for _, arg := range a.Args {
			v, err := e.Value(ctx, arg, row)
			if err != nil {
				if isExpressionError(err) {
					continue
				}
				return rdf.Term{}, err
			}
			if a.Distinct {
				if _, ok := seen[v]; ok {
					continue
				}
				seen[v] = struct{}{}
			}
			values = append(values, v)
		}
	}

	var result []rdf.Term
	var err error
	if recovered := panics.Try(func() {
		result, err = fn.Evaluate(values)
	}); recovered != nil {
		err = recovered.AsError()
	}
	if err != nil {
		e.logger.WarnWithContext(ctx, "aggregate function failed", zap.String("function", a.IRI), zap.Error(err))
		return rdf.Term{}, &EvaluationError{Function: a.IRI, Err: err}
	}
	if len(result) == 0 {
		return rdf.Term{}, nil
	}
	return result[0], nil
}

func (e *Evaluator) builtinAggregate(ctx context.Context, a *algebra.Aggregate, rows []rdf.Solution) (rdf.Term, error) {
	if a.Op == algebra.AggCount && a.Arg == nil {
		if !a.Distinct {
			return rdf.NewInteger(int64(len(rows))), nil
		}
		seen := map[string]struct{}{}
		for _, row := range rows {
			seen[row.String()] = struct{}{}
		}
		return rdf.NewInteger(int64(len(seen))), nil
	}

	var values []rdf.Term
	seen := map[rdf.Term]struct{}{}
	for _, row := range rows {
		v, err := e.Value(ctx, a.Arg, row)
		if err != nil {
			if !isExpressionError(err) {
				return rdf.Term{}, err
			}
			if a.Op == algebra.AggCount || a.Op == algebra.AggSample || a.Op == algebra.AggGroupConcat {
				continue
			}
			// an error in any input makes SUM, AVG, MIN and MAX an error
			return rdf.Term{}, err
		}
		if a.Distinct {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
		}
		values = append(values, v)
	}

	switch a.Op {
	case algebra.AggCount:
		return rdf.NewInteger(int64(len(values))), nil
	case algebra.AggSample:
		if len(values) == 0 {
			return rdf.Term{}, errUnbound
		}
		return values[0], nil
	case algebra.AggGroupConcat:
		parts := make([]string, 0, len(values))
		for _, v := range values {
			lex, _, err := stringArg(v)
			if err != nil {
				if !v.IsLiteral() {
					return rdf.Term{}, err
				}
				lex = v.Value
			}
			parts = append(parts, lex)
		}
		return rdf.NewString(strings.Join(parts, a.Separator)), nil
	case algebra.AggMin, algebra.AggMax:
		if len(values) == 0 {
			return rdf.Term{}, errUnbound
		}
		best := values[0]
		for _, v := range values[1:] {
			c := CompareTerms(v, best)
			if (a.Op == algebra.AggMin && c < 0) || (a.Op == algebra.AggMax && c > 0) {
				best = v
			}
		}
		return best, nil
	case algebra.AggSum, algebra.AggAvg:
		sum := rdf.IntegerNumber(0)
		for _, v := range values {
			n, err := number(v)
			if err != nil {
				return rdf.Term{}, err
			}
			if sum, err = rdf.Add(sum, n); err != nil {
				return rdf.Term{}, typeErrorf("%v", err)
			}
		}
		if a.Op == algebra.AggSum {
			return sum.Term(), nil
		}
		if len(values) == 0 {
			return rdf.NewDecimal(new(big.Rat)), nil
		}
		avg, err := rdf.Div(sum, rdf.IntegerNumber(int64(len(values))))
		if err != nil {
			return rdf.Term{}, typeErrorf("%v", err)
		}
		return avg.Term(), nil
	}
	return rdf.Term{}, fmt.Errorf("%w: aggregate %s", ErrUnsupportedNode, a.Op)
}
