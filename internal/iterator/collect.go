package iterator

import (
	"context"
	"errors"

	"github.com/ephedra/ephedra/pkg/storage"
)

// Collect drains iter into a slice and stops it.
func Collect[T any](ctx context.Context, iter storage.Iterator[T]) ([]T, error) {
	defer iter.Stop()

	var items []T
	for {
		item, err := iter.Next(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrIteratorDone) {
				return items, nil
			}
			return nil, err
		}
		items = append(items, item)
	}
}

// First returns the first item of iter, stopping it. ok is false when iter is empty.
func First[T any](ctx context.Context, iter storage.Iterator[T]) (item T, ok bool, err error) {
	defer iter.Stop()

	item, err = iter.Next(ctx)
	if errors.Is(err, storage.ErrIteratorDone) {
		return item, false, nil
	}
	if err != nil {
		return item, false, err
	}
	return item, true, nil
}
