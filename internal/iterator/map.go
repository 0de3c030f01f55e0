package iterator

import (
	"context"
	"errors"
	"sync"

	"github.com/ephedra/ephedra/pkg/storage"
)

// MapFunc converts one item. Returning ok=false drops the item.
type MapFunc[T, U any] func(T) (u U, ok bool, err error)

type mapIterator[T, U any] struct {
	iter storage.Iterator[T]
	fn   MapFunc[T, U]
	once sync.Once
}

// Map returns an iterator applying fn to each item of iter.
func Map[T, U any](iter storage.Iterator[T], fn MapFunc[T, U]) storage.Iterator[U] {
	return &mapIterator[T, U]{iter: iter, fn: fn}
}

func (m *mapIterator[T, U]) Next(ctx context.Context) (U, error) {
	var zero U
	for {
		item, err := m.iter.Next(ctx)
		if err != nil {
			return zero, err
		}
		u, ok, err := m.fn(item)
		if err != nil {
			return zero, err
		}
		if ok {
			return u, nil
		}
	}
}

func (m *mapIterator[T, U]) Stop() {
	m.once.Do(m.iter.Stop)
}

// ExpandFunc opens the iterator of items derived from one outer item.
type ExpandFunc[T, U any] func(ctx context.Context, item T) (storage.Iterator[U], error)

type flatMapIterator[T, U any] struct {
	outer   storage.Iterator[T]
	fn      ExpandFunc[T, U]
	current storage.Iterator[U]
	stopped bool
}

// FlatMap returns an iterator that, for each item of outer, lazily opens fn(item)
// and yields everything it produces before pulling the next outer item.
func FlatMap[T, U any](outer storage.Iterator[T], fn ExpandFunc[T, U]) storage.Iterator[U] {
	return &flatMapIterator[T, U]{outer: outer, fn: fn}
}

func (f *flatMapIterator[T, U]) Next(ctx context.Context) (U, error) {
	var zero U
	if f.stopped {
		return zero, storage.ErrIteratorDone
	}
	for {
		if f.current == nil {
			item, err := f.outer.Next(ctx)
			if err != nil {
				return zero, err
			}
			inner, err := f.fn(ctx, item)
			if err != nil {
				return zero, err
			}
			f.current = inner
		}

		u, err := f.current.Next(ctx)
		if errors.Is(err, storage.ErrIteratorDone) {
			f.current.Stop()
			f.current = nil
			continue
		}
		if err != nil {
			return zero, err
		}
		return u, nil
	}
}

func (f *flatMapIterator[T, U]) Stop() {
	if f.stopped {
		return
	}
	f.stopped = true
	if f.current != nil {
		f.current.Stop()
		f.current = nil
	}
	f.outer.Stop()
}
