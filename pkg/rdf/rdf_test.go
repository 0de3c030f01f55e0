package rdf

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTermString(t *testing.T) {
	for _, tc := range []struct {
		name     string
		term     Term
		expected string
	}{
		{name: "iri", term: NewIRI("http://example.com/a"), expected: "<http://example.com/a>"},
		{name: "blank", term: NewBlank("b1"), expected: "_:b1"},
		{name: "plain", term: NewString("a \"quoted\"\nline"), expected: `"a \"quoted\"\nline"`},
		{name: "lang", term: NewLangLiteral("chat", "FR"), expected: `"chat"@fr`},
		{name: "typed", term: NewInteger(42), expected: `"42"^^<http://www.w3.org/2001/XMLSchema#integer>`},
		{name: "unbound", term: Term{}, expected: "UNDEF"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.term.String())
		})
	}
}

func TestSolutionMerge(t *testing.T) {
	a := NewSolution("x", NewIRI("urn:1"), "y", NewInteger(1))
	b := NewSolution("x", NewIRI("urn:1"), "z", NewInteger(2))
	c := NewSolution("x", NewIRI("urn:2"))

	merged, ok := a.Merge(b)
	require.True(t, ok)
	require.Equal(t, NewSolution("x", NewIRI("urn:1"), "y", NewInteger(1), "z", NewInteger(2)), merged)
	require.Len(t, a, 2, "merge must not modify its receiver")

	_, ok = a.Merge(c)
	require.False(t, ok)
	require.False(t, a.Compatible(c))
	require.True(t, a.Compatible(Solution{}))
}

func TestSolutionWithAndKey(t *testing.T) {
	a := NewSolution("x", NewIRI("urn:1"))
	b := a.With("y", NewString("v"))
	require.False(t, a.Has("y"))
	require.True(t, b.Has("y"))
	require.False(t, b.With("y", Term{}).Has("y"))

	require.Equal(t, a.Key([]string{"x"}), b.Key([]string{"x"}))
	require.NotEqual(t, a.Key([]string{"x", "y"}), b.Key([]string{"x", "y"}))
	require.Equal(t, "{?x=<urn:1>, ?y=\"v\"}", b.String())
}

func TestNumericArithmetic(t *testing.T) {
	one, err := ParseNumber(NewInteger(1))
	require.NoError(t, err)
	two, err := ParseNumber(NewLiteral("2", XSDInt))
	require.NoError(t, err)
	half, err := ParseNumber(NewLiteral("0.5", XSDDecimal))
	require.NoError(t, err)
	dbl, err := ParseNumber(NewLiteral("1.5E0", XSDDouble))
	require.NoError(t, err)

	sum, err := Add(one, two)
	require.NoError(t, err)
	require.Equal(t, NewInteger(3), sum.Term())

	quo, err := Div(one, two)
	require.NoError(t, err)
	require.Equal(t, NewLiteral("0.5", XSDDecimal), quo.Term())

	sum, err = Add(half, one)
	require.NoError(t, err)
	require.Equal(t, NewLiteral("1.5", XSDDecimal), sum.Term())

	sum, err = Add(dbl, one)
	require.NoError(t, err)
	require.Equal(t, NewLiteral("2.5E0", XSDDouble), sum.Term())

	_, err = Div(one, IntegerNumber(0))
	require.ErrorIs(t, err, ErrDivisionByZero)

	_, err = ParseNumber(NewString("3"))
	require.ErrorIs(t, err, ErrNotNumeric)

	_, err = ParseNumber(NewLiteral("abc", XSDInteger))
	require.ErrorIs(t, err, ErrNotNumeric)

	cmp, ok := CompareNumbers(half, dbl)
	require.True(t, ok)
	require.Equal(t, -1, cmp)
}

func TestFormatDecimal(t *testing.T) {
	require.Equal(t, "2.0", FormatDecimal(big.NewRat(2, 1)))
	require.Equal(t, "2.5", FormatDecimal(big.NewRat(5, 2)))
	require.Equal(t, "0.33333333333333333333", FormatDecimal(big.NewRat(1, 3)))
	require.Equal(t, "-0.25", FormatDecimal(big.NewRat(-1, 4)))
}
