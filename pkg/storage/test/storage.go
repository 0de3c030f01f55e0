// Package test holds the behavior every SQL member must share.
package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ephedra/ephedra/internal/iterator"
	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/storage"
	"github.com/ephedra/ephedra/pkg/storage/sqlcommon"
)

// RunAllTests runs the datastore tests against ds, which must be empty. The
// subtests share ds and run in order.
func RunAllTests(t *testing.T, ds *sqlcommon.Datastore) {
	t.Run("LoadAndRead", func(t *testing.T) { LoadAndReadTest(t, ds) })
	t.Run("LoadRejectsInvalidTriples", func(t *testing.T) { LoadRejectsInvalidTriplesTest(t, ds) })
	t.Run("StopBeforeExhaustion", func(t *testing.T) { StopBeforeExhaustionTest(t, ds) })
}

func ex(s string) rdf.Term { return rdf.NewIRI("http://example.com/" + s) }

func LoadAndReadTest(t *testing.T, ds *sqlcommon.Datastore) {
	ctx := context.Background()

	triples := []rdf.Triple{
		rdf.NewTriple(ex("a"), ex("name"), rdf.NewString("Ann \"the\" first\n")),
		rdf.NewTriple(ex("a"), ex("label"), rdf.NewLangLiteral("Anna", "DE")),
		rdf.NewTriple(ex("a"), ex("age"), rdf.NewInteger(31)),
		rdf.NewTriple(rdf.NewBlank("b0"), ex("knows"), ex("a")),
		rdf.NewTriple(ex("a"), ex("age"), rdf.NewInteger(31)),
	}
	require.NoError(t, ds.Load(ctx, triples))
	// loading again is a no-op
	require.NoError(t, ds.Load(ctx, triples[:2]))

	conn, err := ds.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()
	require.EqualValues(t, 1, ds.OpenConnections())

	it, err := conn.Statements(ctx, rdf.Term{}, rdf.Term{}, rdf.Term{})
	require.NoError(t, err)
	all, err := iterator.Collect(ctx, it)
	require.NoError(t, err)
	require.ElementsMatch(t, triples[:4], all)

	it, err = conn.Statements(ctx, ex("a"), ex("label"), rdf.Term{})
	require.NoError(t, err)
	got, err := iterator.Collect(ctx, it)
	require.NoError(t, err)
	require.Equal(t, []rdf.Triple{triples[1]}, got)

	res, err := conn.Query(ctx, `SELECT ?s WHERE { ?s <http://example.com/knows> ?o . ?o <http://example.com/age> 31 }`)
	require.NoError(t, err)
	defer res.Close()
	rows, err := iterator.Collect(ctx, res.Solutions)
	require.NoError(t, err)
	require.Equal(t, []rdf.Solution{{"s": rdf.NewBlank("b0")}}, rows)

	require.NoError(t, conn.Close())
	require.EqualValues(t, 0, ds.OpenConnections())
	_, err = conn.Statements(ctx, rdf.Term{}, rdf.Term{}, rdf.Term{})
	require.ErrorIs(t, err, storage.ErrClosed)
}

func LoadRejectsInvalidTriplesTest(t *testing.T, ds *sqlcommon.Datastore) {
	err := ds.Load(context.Background(), []rdf.Triple{
		rdf.NewTriple(rdf.NewIRI("http://s"), rdf.NewString("not a predicate"), rdf.NewIRI("http://o")),
	})
	require.ErrorIs(t, err, storage.ErrInvalidTriple)
}

func StopBeforeExhaustionTest(t *testing.T, ds *sqlcommon.Datastore) {
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, ds.Load(ctx, []rdf.Triple{
			rdf.NewTriple(rdf.NewIRI("http://s"), rdf.NewIRI("http://p"), rdf.NewInteger(int64(i))),
		}))
	}
	conn, err := ds.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	it, err := conn.Statements(ctx, rdf.NewIRI("http://s"), rdf.Term{}, rdf.Term{})
	require.NoError(t, err)
	_, err = it.Next(ctx)
	require.NoError(t, err)
	it.Stop()
	_, err = it.Next(ctx)
	require.ErrorIs(t, err, storage.ErrIteratorDone)
}
