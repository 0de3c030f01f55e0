package federation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
)

func hint(name string, value rdf.Term) *algebra.StatementPattern {
	return &algebra.StatementPattern{
		Subject:   algebra.Var{Name: "_hint", Anonymous: true},
		Predicate: algebra.NewConst(rdf.NewIRI(HintNamespace + name)),
		Object:    algebra.NewConst(value),
	}
}

func TestExtractHints(t *testing.T) {
	knows := pattern("?p", "knows", "?q")

	root, h, err := extractHints(knows)
	require.NoError(t, err)
	require.Same(t, knows, root)
	require.False(t, h.Present())

	in := &algebra.Projection{
		Arg:  algebra.NewJoin(hint("joinAlgorithm", rdf.NewString("async")), knows, hint("maxExecutionTime", rdf.NewDouble(1.5))),
		Vars: []string{"p"},
	}
	root, h, err = extractHints(in)
	require.NoError(t, err)
	require.True(t, h.Present())
	require.Equal(t, AlgorithmAsyncParallel, h.Algorithm)
	require.Equal(t, 1500*time.Millisecond, h.MaxExecutionTime)
	require.Equal(t, algebra.Format(&algebra.Projection{Arg: knows, Vars: []string{"p"}}), algebra.Format(root))

	_, _, err = extractHints(algebra.NewJoin(knows, &algebra.StatementPattern{
		Subject:   algebra.NewVar("s"),
		Predicate: algebra.NewConst(rdf.NewIRI(HintNamespace + "joinAlgorithm")),
		Object:    algebra.NewVar("o"),
	}))
	require.ErrorIs(t, err, ErrInvalidHint)
}
