package iterator

import (
	"context"
	"sync"

	"github.com/ephedra/ephedra/pkg/storage"
)

// FilterFunc is a function that determines whether an item should be included in the iterator results.
// It returns true if the item passes the filter, false otherwise.
// A returned error ends iteration.
type FilterFunc[T any] func(T) (bool, error)

type filter[T any] struct {
	iter    storage.Iterator[T]
	filters []FilterFunc[T]
	once    sync.Once
}

func (f *filter[T]) Stop() {
	f.once.Do(func() {
		f.iter.Stop()
	})
}

func (f *filter[T]) applyFilters(entry T) (bool, error) {
	for _, filter := range f.filters {
		passes, err := filter(entry)
		if err != nil {
			return false, err
		}
		if !passes {
			return false, nil
		}
	}
	return true, nil
}

// Next returns the next item that passes all filter functions.
func (f *filter[T]) Next(ctx context.Context) (T, error) {
	var null T
	for {
		entry, err := f.iter.Next(ctx)
		if err != nil {
			return null, err
		}

		valid, err := f.applyFilters(entry)
		if err != nil {
			return null, err
		}
		if valid {
			return entry, nil
		}
	}
}

func NewFilteredIterator[T any](iter storage.Iterator[T], filters ...FilterFunc[T]) storage.Iterator[T] {
	if len(filters) == 0 {
		return iter
	}
	return &filter[T]{
		iter:    iter,
		filters: filters,
	}
}
