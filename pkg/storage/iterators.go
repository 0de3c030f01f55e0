//go:generate mockgen -source iterators.go -destination ../../internal/mocks/mock_iterator.go -package mocks storage

package storage

import (
	"context"
	"errors"

	"github.com/ephedra/ephedra/pkg/rdf"
)

var ErrIteratorDone = errors.New("iterator done")

type Iterator[T any] interface {
	// Next will return the next available item or ErrIteratorDone once exhausted.
	// If the context is cancelled or times out, it returns the context error.
	Next(ctx context.Context) (T, error)
	// Stop terminates iteration over the underlying iterator and releases its
	// resources. Stop must be safe to call more than once.
	Stop()
}

// SolutionIterator is an iterator for query solutions. It is closed by explicitly calling Stop() or by calling Next() until it
// returns an ErrIteratorDone error.
type SolutionIterator = Iterator[rdf.Solution]

// TripleIterator is an iterator for statements. It is closed by explicitly calling Stop() or by calling Next() until it
// returns an ErrIteratorDone error.
type TripleIterator = Iterator[rdf.Triple]

type staticIterator[T any] struct {
	items []T
}

func (s *staticIterator[T]) Next(ctx context.Context) (T, error) {
	var val T
	if ctx.Err() != nil {
		return val, ctx.Err()
	}
	if len(s.items) == 0 {
		return val, ErrIteratorDone
	}

	next, rest := s.items[0], s.items[1:]
	s.items = rest

	return next, nil
}

func (s *staticIterator[T]) Stop() {
	s.items = nil
}

// NewStaticIterator returns an iterator over the provided items.
func NewStaticIterator[T any](items ...T) Iterator[T] {
	return &staticIterator[T]{items: items}
}

// NewEmptyIterator returns an iterator that yields nothing.
func NewEmptyIterator[T any]() Iterator[T] {
	return &staticIterator[T]{}
}
