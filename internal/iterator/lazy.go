package iterator

import (
	"context"

	"github.com/ephedra/ephedra/pkg/storage"
)

// OpenFunc opens an iterator on first use.
type OpenFunc[T any] func(ctx context.Context) (storage.Iterator[T], error)

type lazyIterator[T any] struct {
	open    OpenFunc[T]
	iter    storage.Iterator[T]
	err     error
	stopped bool
}

// Lazy defers open until the first call to Next. Stopping before that never opens it.
func Lazy[T any](open OpenFunc[T]) storage.Iterator[T] {
	return &lazyIterator[T]{open: open}
}

func (l *lazyIterator[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if l.stopped {
		return zero, storage.ErrIteratorDone
	}
	if l.err != nil {
		return zero, l.err
	}
	if l.iter == nil {
		l.iter, l.err = l.open(ctx)
		if l.err != nil {
			return zero, l.err
		}
	}
	return l.iter.Next(ctx)
}

func (l *lazyIterator[T]) Stop() {
	if l.stopped {
		return
	}
	l.stopped = true
	if l.iter != nil {
		l.iter.Stop()
	}
}
