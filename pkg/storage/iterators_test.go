package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ephedra/ephedra/pkg/rdf"
)

func TestStaticIterator(t *testing.T) {
	ctx := context.Background()
	it := NewStaticIterator(rdf.NewSolution("x", rdf.NewInteger(1)), rdf.NewSolution("x", rdf.NewInteger(2)))

	first, err := it.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, rdf.NewInteger(1), first.Get("x"))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = it.Next(cancelled)
	require.ErrorIs(t, err, context.Canceled)

	_, err = it.Next(ctx)
	require.NoError(t, err)
	_, err = it.Next(ctx)
	require.ErrorIs(t, err, ErrIteratorDone)

	it.Stop()
	it.Stop()
}

func TestQueryResultClose(t *testing.T) {
	var order []int
	res := NewSolutionsResult([]string{"x"}, NewEmptyIterator[rdf.Solution]())
	res.OnClose(func() { order = append(order, 1) })
	res.OnClose(func() { order = append(order, 2) })

	res.Close()
	res.Close()
	require.Equal(t, []int{2, 1}, order)
}
