package concurrency

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDrain(t *testing.T) {
	t.Cleanup(func() {
		goleak.VerifyNone(t)
	})

	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	ch <- 3
	close(ch)

	var seen []int
	wg := Drain(ch, func(i int) { seen = append(seen, i) })
	wg.Wait()
	require.Equal(t, []int{1, 2, 3}, seen)

	Drain[int](nil, func(int) {}).Wait()
}
