package sparql

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
)

type knownAggregates map[string]bool

func (k knownAggregates) Contains(iri string) bool { return k[iri] }

func TestParseShapes(t *testing.T) {
	t.Run("select_join", func(t *testing.T) {
		q, err := Parse(`PREFIX ex: <http://example.com/> SELECT ?s ?o WHERE { ?s ex:p ?o ; a ex:C }`)
		require.NoError(t, err)
		require.Equal(t, algebra.FormSelect, q.Form)
		require.Equal(t, []string{"s", "o"}, q.Vars)

		proj, ok := q.Root.(*algebra.Projection)
		require.True(t, ok)
		join, ok := proj.Arg.(*algebra.Join)
		require.True(t, ok)
		require.Len(t, join.Args, 2)

		second := join.Args[1].(*algebra.StatementPattern)
		require.Equal(t, rdf.NewIRI(rdf.RDFType), second.Predicate.Value)
		require.Equal(t, rdf.NewIRI("http://example.com/C"), second.Object.Value)
	})

	t.Run("optional_lifts_filter", func(t *testing.T) {
		q, err := Parse(`SELECT * WHERE { ?s <http://p> ?o OPTIONAL { ?o <http://q> ?x FILTER(?x > 1) } }`)
		require.NoError(t, err)
		lj, ok := q.Root.(*algebra.Projection).Arg.(*algebra.LeftJoin)
		require.True(t, ok)
		require.NotNil(t, lj.Condition)
		_, isPattern := lj.Right.(*algebra.StatementPattern)
		require.True(t, isPattern)
	})

	t.Run("service", func(t *testing.T) {
		q, err := Parse(`SELECT * WHERE { ?s ?p ?o . SERVICE SILENT <http://remote/sparql> { ?s ?p2 ?o2 } }`)
		require.NoError(t, err)
		var svc *algebra.Service
		algebra.Walk(q.Root, func(n algebra.Node) bool {
			if s, ok := n.(*algebra.Service); ok {
				svc = s
			}
			return true
		})
		require.NotNil(t, svc)
		require.True(t, svc.Silent)
		require.Equal(t, rdf.NewIRI("http://remote/sparql"), svc.Ref.Value)
		require.Equal(t, []string{"s", "p", "o", "p2", "o2"}, q.Vars)
	})

	t.Run("aggregate_extension", func(t *testing.T) {
		q, err := Parse(`SELECT (<http://agg/median>(DISTINCT ?v) AS ?m) WHERE { ?s <http://p> ?v }`,
			WithAggregates(knownAggregates{"http://agg/median": true}))
		require.NoError(t, err)
		group := q.Root.(*algebra.Projection).Arg.(*algebra.Extension).Arg.(*algebra.Group)
		require.Len(t, group.Aggregates, 1)
		call, ok := group.Aggregates[0].Expr.(*algebra.AggregateCall)
		require.True(t, ok)
		require.Equal(t, "http://agg/median", call.IRI)
		require.True(t, call.Distinct)
	})

	t.Run("construct_ask_describe", func(t *testing.T) {
		q, err := Parse(`CONSTRUCT { ?s <http://q> _:b } WHERE { ?s <http://p> ?o }`)
		require.NoError(t, err)
		require.Equal(t, algebra.FormConstruct, q.Form)
		require.Len(t, q.Template, 1)
		require.True(t, q.Template[0].Object.Anonymous)

		q, err = Parse(`CONSTRUCT WHERE { ?s <http://p> ?o }`)
		require.NoError(t, err)
		require.Len(t, q.Template, 1)

		q, err = Parse(`ASK { ?s ?p ?o }`)
		require.NoError(t, err)
		require.Equal(t, algebra.FormAsk, q.Form)

		q, err = Parse(`DESCRIBE <http://x> ?y WHERE { ?y ?p ?o }`)
		require.NoError(t, err)
		require.Equal(t, algebra.FormDescribe, q.Form)
		require.Len(t, q.Describe, 2)
	})

	t.Run("modifiers", func(t *testing.T) {
		q, err := Parse(`SELECT DISTINCT ?s WHERE { ?s ?p ?o } ORDER BY DESC(?o) LIMIT 10 OFFSET 5`)
		require.NoError(t, err)
		slice, ok := q.Root.(*algebra.Slice)
		require.True(t, ok)
		require.EqualValues(t, 10, slice.Limit)
		require.EqualValues(t, 5, slice.Offset)
		_, ok = slice.Arg.(*algebra.Distinct)
		require.True(t, ok)
	})
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		err   error
	}{
		{name: "garbage", query: `SELEKT * WHERE {}`, err: ErrMalformedQuery},
		{name: "unterminated", query: `SELECT * WHERE { ?s ?p ?o `, err: ErrMalformedQuery},
		{name: "unknown_prefix", query: `SELECT * WHERE { ?s foo:bar ?o }`, err: ErrMalformedQuery},
		{name: "star_with_group_by", query: `SELECT * WHERE { ?s ?p ?o } GROUP BY ?s`, err: ErrMalformedQuery},
		{name: "unknown_aggregate", query: `SELECT (<http://agg/nope>(?o) AS ?x) WHERE { ?s ?p ?o }`, err: ErrUnknownAggregate},
		{name: "graph_is_unsupported", query: `SELECT * WHERE { GRAPH ?g { ?s ?p ?o } }`, err: ErrUnsupported},
		{name: "trailing_tokens", query: `ASK { ?s ?p ?o } }`, err: ErrMalformedQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.query)
			require.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("syntax_error_position", func(t *testing.T) {
		_, err := Parse("SELECT *\nWHERE { ?s ?p }")
		var syntaxErr *SyntaxError
		require.ErrorAs(t, err, &syntaxErr)
		require.Equal(t, 2, syntaxErr.Pos.Line)
	})
}

func TestParseCasts(t *testing.T) {
	_, err := Parse(`SELECT ?i WHERE { ?s ?p ?o BIND(<http://www.w3.org/2001/XMLSchema#integer>(?o) AS ?i) }`)
	require.NoError(t, err)
}
