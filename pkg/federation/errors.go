package federation

import (
	"errors"
	"fmt"
)

var (
	// ErrMemberUnavailable marks every *MemberError.
	ErrMemberUnavailable = errors.New("federation member unavailable")

	// ErrUnknownService is returned when a SERVICE IRI names no member.
	ErrUnknownService = errors.New("unknown service")

	// ErrQueryTimeout is returned when an evaluation exceeds its maximum execution
	// time. It is distinct from member failures.
	ErrQueryTimeout = errors.New("query exceeded maximum execution time")

	// ErrShutdown is returned when a federation is used after Shutdown.
	ErrShutdown = errors.New("federation is shut down")

	// ErrInvalidHint is returned when a query hint has an unusable value.
	ErrInvalidHint = errors.New("invalid query hint")

	// ErrUnboundInput is returned when a member is called before one of its
	// mandatory inputs is bound.
	ErrUnboundInput = errors.New("mandatory service input is unbound")
)

// MemberError is a failure of one member while opening a connection or evaluating.
type MemberError struct {
	MemberID string
	Op       string
	Err      error
}

func (e *MemberError) Error() string {
	return fmt.Sprintf("member %s: %s: %v", e.MemberID, e.Op, e.Err)
}

func (e *MemberError) Unwrap() error {
	return e.Err
}

func (e *MemberError) Is(target error) bool {
	return target == ErrMemberUnavailable
}

func memberError(id, op string, err error) error {
	var me *MemberError
	if errors.As(err, &me) || errors.Is(err, ErrQueryTimeout) || isContextError(err) {
		return err
	}
	return &MemberError{MemberID: id, Op: op, Err: err}
}
