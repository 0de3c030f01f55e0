package iterator

import (
	"context"
	"errors"

	"github.com/ephedra/ephedra/pkg/storage"
)

// Concat returns an iterator that yields all items of each iterator in turn.
// It exhausts one iterator completely before moving to the next.
//
// This iterator is not thread-safe and should only be consumed by a single goroutine.
func Concat[T any](iters ...storage.Iterator[T]) storage.Iterator[T] {
	switch len(iters) {
	case 0:
		return storage.NewEmptyIterator[T]()
	case 1:
		return iters[0]
	}
	return &concatIterator[T]{pending: iters}
}

type concatIterator[T any] struct {
	pending []storage.Iterator[T]
	done    bool
}

func (c *concatIterator[T]) Next(ctx context.Context) (T, error) {
	var zero T

	for !c.done {
		if len(c.pending) == 0 {
			c.done = true
			break
		}

		item, err := c.pending[0].Next(ctx)
		if errors.Is(err, storage.ErrIteratorDone) {
			// stop the current iterator before dropping the reference
			c.pending[0].Stop()
			c.pending = c.pending[1:]
			continue
		}
		if err != nil {
			return zero, err
		}
		return item, nil
	}

	return zero, storage.ErrIteratorDone
}

func (c *concatIterator[T]) Stop() {
	for _, it := range c.pending {
		it.Stop()
	}
	c.pending = nil
	c.done = true
}
