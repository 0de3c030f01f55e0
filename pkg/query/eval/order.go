package eval

import (
	"context"
	"slices"
	"strings"

	"github.com/ephedra/ephedra/internal/iterator"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/storage"
)

func (e *Evaluator) order(ctx context.Context, o *algebra.Order, bindings rdf.Solution) (storage.SolutionIterator, error) {
	it, err := e.delegate.Evaluate(ctx, o.Arg, bindings)
	if err != nil {
		return nil, err
	}
	return iterator.Lazy(func(ctx context.Context) (storage.SolutionIterator, error) {
		rows, err := iterator.Collect(ctx, it)
		if err != nil {
			return nil, err
		}

		type keyed struct {
			row  rdf.Solution
			keys []rdf.Term
		}
		sorted := make([]keyed, len(rows))
		for i, row := range rows {
			keys := make([]rdf.Term, len(o.Keys))
			for j, k := range o.Keys {
				v, err := e.Value(ctx, k.Expr, row)
				if err != nil && !isExpressionError(err) {
					return nil, err
				}
				keys[j] = v
			}
			sorted[i] = keyed{row: row, keys: keys}
		}

		slices.SortStableFunc(sorted, func(a, b keyed) int {
			for i, k := range o.Keys {
				c := CompareTerms(a.keys[i], b.keys[i])
				if k.Descending {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})

		out := make([]rdf.Solution, len(sorted))
		for i, k := range sorted {
			out[i] = k.row
		}
		return storage.NewStaticIterator(out...), nil
	}), nil
}

// CompareTerms is the total order ORDER BY uses: unbound, then blank nodes, then
// IRIs, then literals. Literals with a value ordering are compared by value.
func CompareTerms(a, b rdf.Term) int {
	if a.Kind != b.Kind {
		return kindRank(a.Kind) - kindRank(b.Kind)
	}
	if a.IsLiteral() {
		if c, ordered, err := compareValues(a, b); err == nil && ordered && c != 0 {
			return c
		}
		if a.IsNumeric() != b.IsNumeric() {
			if a.IsNumeric() {
				return -1
			}
			return 1
		}
	}
	if c := strings.Compare(a.Value, b.Value); c != 0 {
		return c
	}
	if c := strings.Compare(a.Datatype, b.Datatype); c != 0 {
		return c
	}
	return strings.Compare(a.Lang, b.Lang)
}

func kindRank(k rdf.Kind) int {
	switch k {
	case rdf.KindUnbound:
		return 0
	case rdf.KindBlank:
		return 1
	case rdf.KindIRI:
		return 2
	default:
		return 3
	}
}
