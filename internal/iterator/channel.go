package iterator

import (
	"context"
	"sync"

	"github.com/ephedra/ephedra/internal/concurrency"
	"github.com/ephedra/ephedra/pkg/storage"
)

type channelIterator[T any] struct {
	source  <-chan ValueMsg[T]
	onStop  func()
	cause   func() error
	once    sync.Once
	stopped bool
}

// FromChannel returns an iterator over the messages of source. The first message
// carrying an error ends iteration with that error. Stop runs onStop, then drains
// source in the background so producers blocked on it can exit.
func FromChannel[T any](source <-chan ValueMsg[T], onStop func()) storage.Iterator[T] {
	return &channelIterator[T]{source: source, onStop: onStop}
}

// FromChannelWithCause is FromChannel for producers that can give up without
// delivering their error, for example because their context ended. Once source is
// closed, a non-nil cause() is returned instead of ErrIteratorDone. cause is only
// called after source is closed.
func FromChannelWithCause[T any](source <-chan ValueMsg[T], onStop func(), cause func() error) storage.Iterator[T] {
	return &channelIterator[T]{source: source, onStop: onStop, cause: cause}
}

func (c *channelIterator[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if c.stopped {
		return zero, storage.ErrIteratorDone
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case msg, ok := <-c.source:
		if !ok {
			return zero, c.closed(ctx)
		}
		if msg.Err != nil {
			return zero, msg.Err
		}
		return msg.Value, nil
	}
}

// closed is the result of reading from the closed source. A consumer whose
// context is done sees that rather than an end that may be premature.
func (c *channelIterator[T]) closed(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.cause != nil {
		if err := c.cause(); err != nil {
			return err
		}
	}
	return storage.ErrIteratorDone
}

func (c *channelIterator[T]) Stop() {
	c.once.Do(func() {
		c.stopped = true
		if c.onStop != nil {
			c.onStop()
		}
		concurrency.Drain(c.source, func(ValueMsg[T]) {})
	})
}
