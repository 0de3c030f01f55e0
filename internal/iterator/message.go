package iterator

// ValueMsg carries one item, or the error that ended a producer, over a channel.
type ValueMsg[T any] struct {
	Value T
	Err   error
}
