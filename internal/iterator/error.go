package iterator

import (
	"context"

	"github.com/ephedra/ephedra/pkg/storage"
)

type errorIterator[T any] struct {
	err error
}

// Error returns an iterator whose every Next call fails with err.
func Error[T any](err error) storage.Iterator[T] {
	return &errorIterator[T]{err: err}
}

func (e *errorIterator[T]) Next(ctx context.Context) (T, error) {
	var t T
	return t, e.err
}

func (e *errorIterator[T]) Stop() {}
