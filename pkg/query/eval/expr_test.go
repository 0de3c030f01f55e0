package eval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/query/sparql"
	"github.com/ephedra/ephedra/pkg/rdf"
)

func value(t *testing.T, expr string, row rdf.Solution) (rdf.Term, error) {
	t.Helper()
	q, err := sparql.Parse(`SELECT ?v WHERE { BIND(` + expr + ` AS ?v) }`)
	require.NoError(t, err)
	var ext *algebra.Extension
	algebra.Walk(q.Root, func(n algebra.Node) bool {
		if x, ok := n.(*algebra.Extension); ok && x.Name == "v" {
			ext = x
			return false
		}
		return true
	})
	require.NotNil(t, ext)
	return New(staticSource{}).Value(context.Background(), ext.Expr, row)
}

func TestExpressions(t *testing.T) {
	tests := []struct {
		expr     string
		expected rdf.Term
	}{
		{`1 + 2 * 3`, rdf.NewInteger(7)},
		{`7 / 2`, rdf.NewLiteral("3.5", rdf.XSDDecimal)},
		{`1.5 + 1`, rdf.NewLiteral("2.5", rdf.XSDDecimal)},
		{`-(3)`, rdf.NewInteger(-3)},
		{`"a" < "b"`, rdf.NewBoolean(true)},
		{`2 = 2.0`, rdf.NewBoolean(true)},
		{`<http://a> = <http://b>`, rdf.NewBoolean(false)},
		{`3 IN (1, 2, 3)`, rdf.NewBoolean(true)},
		{`3 NOT IN (1, 2)`, rdf.NewBoolean(true)},
		{`IF(false, 1, "no")`, rdf.NewString("no")},
		{`COALESCE(?missing, 4)`, rdf.NewInteger(4)},
		{`true || (1/0)`, rdf.NewBoolean(true)},
		{`false && (1/0)`, rdf.NewBoolean(false)},
		{`!BOUND(?missing)`, rdf.NewBoolean(true)},
		{`STRLEN("héllo")`, rdf.NewInteger(5)},
		{`SUBSTR("federation", 3, 4)`, rdf.NewString("dera")},
		{`REPLACE("aaa", "a", "b")`, rdf.NewString("bbb")},
		{`REGEX("Ephedra", "^eph", "i")`, rdf.NewBoolean(true)},
		{`STRAFTER("key=value", "=")`, rdf.NewString("value")},
		{`LANG("chat"@FR)`, rdf.NewString("fr")},
		{`LANGMATCHES("en-GB", "en")`, rdf.NewBoolean(true)},
		{`DATATYPE(1.0)`, rdf.NewIRI(rdf.XSDDecimal)},
		{`ABS(-2.5)`, rdf.NewLiteral("2.5", rdf.XSDDecimal)},
		{`CEIL(2.1)`, rdf.NewLiteral("3.0", rdf.XSDDecimal)},
		{`FLOOR(-2.1)`, rdf.NewLiteral("-3.0", rdf.XSDDecimal)},
		{`ROUND(2.5)`, rdf.NewLiteral("3.0", rdf.XSDDecimal)},
		{`MD5("abc")`, rdf.NewString("900150983cd24fb0d6963f7d28e17f72")},
		{`<http://www.w3.org/2001/XMLSchema#integer>("42")`, rdf.NewInteger(42)},
		{`<http://www.w3.org/2001/XMLSchema#boolean>(0)`, rdf.NewBoolean(false)},
		{`ISNUMERIC(12)`, rdf.NewBoolean(true)},
		{`SAMETERM(1, 1.0)`, rdf.NewBoolean(false)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := value(t, tt.expr, rdf.Solution{})
			require.NoError(t, err)
			require.Equal(t, tt.expected, got)
		})
	}
}

func TestExpressionErrors(t *testing.T) {
	for _, expr := range []string{
		`1 / 0`,
		`"a" + 1`,
		`?missing`,
		`"a" < 1`,
		`<http://www.w3.org/2001/XMLSchema#integer>("x")`,
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := value(t, expr, rdf.Solution{})
			require.Error(t, err)
			require.True(t, isExpressionError(err))
		})
	}
}

func TestEffectiveBooleanValue(t *testing.T) {
	for term, expected := range map[rdf.Term]bool{
		rdf.NewBoolean(true):  true,
		rdf.NewInteger(0):     false,
		rdf.NewDouble(0.5):    true,
		rdf.NewString(""):     false,
		rdf.NewString("x"):    true,
		rdf.NewBoolean(false): false,
	} {
		got, err := EffectiveBooleanValue(term)
		require.NoError(t, err)
		require.Equal(t, expected, got, term.String())
	}

	_, err := EffectiveBooleanValue(rdf.NewIRI("http://example.com"))
	require.Error(t, err)
}
