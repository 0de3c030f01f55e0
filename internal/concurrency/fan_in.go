package concurrency

import (
	"sync"
)

// Drain consumes ch in the background, handing every remaining message to drain.
// The returned WaitGroup is done once ch is closed.
func Drain[T any](ch <-chan T, drain func(T)) *sync.WaitGroup {
	wg := &sync.WaitGroup{}
	if ch == nil {
		return wg
	}
	wg.Add(1)
	go func() {
		for msg := range ch {
			drain(msg)
		}
		wg.Done()
	}()
	return wg
}
