package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ephedra/ephedra/internal/iterator"
	"github.com/ephedra/ephedra/pkg/aggregate"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/storage"
)

const ex = "http://example.com/"

func iri(s string) rdf.Term { return rdf.NewIRI(ex + s) }

func loaded(t *testing.T) *Repository {
	t.Helper()
	repo := New("default")
	err := repo.Load(context.Background(), []rdf.Triple{
		rdf.NewTriple(iri("alice"), iri("knows"), iri("bob")),
		rdf.NewTriple(iri("alice"), iri("age"), rdf.NewInteger(30)),
		rdf.NewTriple(iri("bob"), iri("age"), rdf.NewInteger(25)),
		rdf.NewTriple(iri("bob"), iri("knows"), iri("carol")),
		rdf.NewTriple(iri("carol"), iri("age"), rdf.NewInteger(41)),
		rdf.NewTriple(iri("alice"), iri("knows"), iri("bob")),
	})
	require.NoError(t, err)
	return repo
}

func TestLoadDeduplicates(t *testing.T) {
	repo := loaded(t)
	require.Equal(t, 5, repo.Len())

	err := repo.Load(context.Background(), []rdf.Triple{
		rdf.NewTriple(iri("dave"), iri("age"), rdf.NewInteger(1)),
		rdf.NewTriple(rdf.NewString("literal subject"), iri("age"), rdf.NewInteger(2)),
	})
	require.ErrorIs(t, err, storage.ErrInvalidTriple)
	require.Equal(t, 5, repo.Len(), "a rejected batch writes nothing")
}

func TestStatements(t *testing.T) {
	repo := loaded(t)
	ctx := context.Background()
	conn, err := repo.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	tests := []struct {
		name    string
		s, p, o rdf.Term
		want    int
	}{
		{name: "all", want: 5},
		{name: "by_subject", s: iri("alice"), want: 2},
		{name: "by_predicate", p: iri("age"), want: 3},
		{name: "by_object", o: iri("bob"), want: 1},
		{name: "fully_bound", s: iri("bob"), p: iri("knows"), o: iri("carol"), want: 1},
		{name: "unknown_subject", s: iri("zed"), p: iri("age"), want: 0},
		{name: "unknown_object", p: iri("age"), o: rdf.NewInteger(99), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := conn.Statements(ctx, tt.s, tt.p, tt.o)
			require.NoError(t, err)
			got, err := iterator.Collect(ctx, it)
			require.NoError(t, err)
			require.Len(t, got, tt.want)
			for _, tr := range got {
				require.True(t, tr.Matches(tt.s, tt.p, tt.o))
			}
		})
	}
}

func TestQuery(t *testing.T) {
	repo := loaded(t)
	ctx := context.Background()
	conn, err := repo.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	t.Run("select", func(t *testing.T) {
		res, err := conn.Query(ctx, `PREFIX ex: <http://example.com/>
			SELECT ?who WHERE { ex:alice ex:knows ?x . ?x ex:knows ?who }`)
		require.NoError(t, err)
		defer res.Close()
		require.Equal(t, []string{"who"}, res.Vars)
		rows, err := iterator.Collect(ctx, res.Solutions)
		require.NoError(t, err)
		require.Equal(t, []rdf.Solution{{"who": iri("carol")}}, rows)
	})

	t.Run("ask", func(t *testing.T) {
		res, err := conn.Query(ctx, `ASK { ?s <http://example.com/age> 41 }`)
		require.NoError(t, err)
		defer res.Close()
		require.Equal(t, algebra.FormAsk, res.Form)
		require.True(t, res.Boolean)
	})

	t.Run("construct", func(t *testing.T) {
		res, err := conn.Query(ctx, `CONSTRUCT { ?o <http://example.com/knownBy> ?s } WHERE { ?s <http://example.com/knows> ?o }`)
		require.NoError(t, err)
		defer res.Close()
		got, err := iterator.Collect(ctx, res.Triples)
		require.NoError(t, err)
		require.ElementsMatch(t, []rdf.Triple{
			rdf.NewTriple(iri("bob"), iri("knownBy"), iri("alice")),
			rdf.NewTriple(iri("carol"), iri("knownBy"), iri("bob")),
		}, got)
	})

	t.Run("median", func(t *testing.T) {
		res, err := conn.Query(ctx, `SELECT (<`+aggregate.MedianIRI+`>(?a) AS ?m) WHERE { ?s <http://example.com/age> ?a }`)
		require.NoError(t, err)
		defer res.Close()
		rows, err := iterator.Collect(ctx, res.Solutions)
		require.NoError(t, err)
		require.Equal(t, []rdf.Solution{{"m": rdf.NewInteger(30)}}, rows)
	})
}

func TestEvaluateWithBindings(t *testing.T) {
	repo := loaded(t)
	ctx := context.Background()
	conn, err := repo.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	expr := &algebra.StatementPattern{Subject: algebra.NewVar("s"), Predicate: algebra.NewConst(iri("age")), Object: algebra.NewVar("a")}
	it, err := conn.Evaluate(ctx, expr, rdf.NewSolution("s", iri("bob"), "extra", rdf.NewString("kept")))
	require.NoError(t, err)
	rows, err := iterator.Collect(ctx, it)
	require.NoError(t, err)
	require.Equal(t, []rdf.Solution{{"s": iri("bob"), "a": rdf.NewInteger(25), "extra": rdf.NewString("kept")}}, rows)
}

func TestConnectionAccounting(t *testing.T) {
	repo := New("r")
	ctx := context.Background()

	var wg sync.WaitGroup
	conns := make([]storage.Connection, 8)
	for i := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := repo.Connect(ctx)
			require.NoError(t, err)
			conns[i] = c
		}()
	}
	wg.Wait()
	require.EqualValues(t, 8, repo.OpenConnections())

	for _, c := range conns {
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
	}
	require.EqualValues(t, 0, repo.OpenConnections())

	_, err := conns[0].Statements(ctx, rdf.Term{}, rdf.Term{}, rdf.Term{})
	require.ErrorIs(t, err, storage.ErrClosed)
	_, err = conns[0].Query(ctx, `ASK {}`)
	require.ErrorIs(t, err, storage.ErrClosed)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = repo.Connect(cancelled)
	require.ErrorIs(t, err, context.Canceled)
}
