package federation

import (
	"fmt"
	"strings"
	"time"

	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
)

// HintNamespace prefixes the predicates of query hints, e.g.
//
//	[] <https://ephedra.dev/ns/hint#joinAlgorithm> "bound" .
const HintNamespace = "https://ephedra.dev/ns/hint#"

// Hints are the query hints found in a query.
type Hints struct {
	// Algorithm overrides the join flags for the whole query.
	Algorithm Algorithm
	// MaxExecutionTime tightens the federation's bound when it is shorter.
	MaxExecutionTime time.Duration

	present bool
}

// Present reports whether the query carried any hint.
func (h Hints) Present() bool {
	return h.present
}

// extractHints removes the hint patterns from root. Without hints root is
// returned unchanged.
func extractHints(root algebra.TupleExpr) (algebra.TupleExpr, Hints, error) {
	var h Hints
	var herr error
	out := algebra.Rewrite(root, func(t algebra.TupleExpr) algebra.TupleExpr {
		sp, ok := t.(*algebra.StatementPattern)
		if !ok || !sp.Predicate.IsConst() || !strings.HasPrefix(sp.Predicate.Value.Value, HintNamespace) {
			return t
		}
		h.present = true
		if err := h.apply(strings.TrimPrefix(sp.Predicate.Value.Value, HintNamespace), sp.Object); err != nil && herr == nil {
			herr = err
		}
		return &algebra.Singleton{}
	})
	if herr != nil {
		return nil, Hints{}, herr
	}
	if !h.present {
		return root, h, nil
	}
	out = algebra.Rewrite(out, func(t algebra.TupleExpr) algebra.TupleExpr {
		if j, ok := t.(*algebra.Join); ok {
			return algebra.NewJoin(j.Args...)
		}
		return t
	})
	return out, h, nil
}

func (h *Hints) apply(name string, value algebra.Var) error {
	if !value.IsConst() {
		return fmt.Errorf("%w: %s needs a constant value", ErrInvalidHint, name)
	}
	switch name {
	case "joinAlgorithm":
		alg := Algorithm(value.Value.Value)
		switch alg {
		case AlgorithmNested, AlgorithmBound, AlgorithmAsyncParallel, AlgorithmCompeting:
			h.Algorithm = alg
			return nil
		}
		return fmt.Errorf("%w: unknown join algorithm %q", ErrInvalidHint, value.Value.Value)
	case "maxExecutionTime":
		n, err := rdf.ParseNumber(value.Value)
		if err != nil || n.Float64() <= 0 {
			return fmt.Errorf("%w: maxExecutionTime must be a positive number of seconds", ErrInvalidHint)
		}
		h.MaxExecutionTime = time.Duration(n.Float64() * float64(time.Second))
		return nil
	default:
		return fmt.Errorf("%w: unknown hint %s", ErrInvalidHint, name)
	}
}
