package eval

import (
	"errors"
	"fmt"
)

var (
	// errTypeError marks an expression that failed according to the SPARQL operator
	// mapping. A failing FILTER is false and a failing BIND leaves its variable unbound.
	errTypeError = errors.New("type error")

	errUnbound = errors.New("unbound variable")
)

func typeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errTypeError}, args...)...)
}

func isExpressionError(err error) bool {
	return errors.Is(err, errTypeError) || errors.Is(err, errUnbound)
}

// EvaluationError is returned when an aggregate function rejects its input or
// fails while evaluating a group. It ends the evaluation.
type EvaluationError struct {
	Function string
	Err      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating aggregate <%s>: %v", e.Function, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
