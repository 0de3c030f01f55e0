package storage

import (
	"errors"
	"fmt"

	"github.com/ephedra/ephedra/pkg/rdf"
)

var (
	// ErrUnavailable is returned when a repository cannot be reached or refuses
	// connections. Callers may retry.
	ErrUnavailable = errors.New("repository unavailable")

	// ErrNotFound is returned when a repository id is not known.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned when a closed connection or repository is used.
	ErrClosed = errors.New("connection closed")

	// ErrUnsupportedEngine is returned for an unknown storage engine name.
	ErrUnsupportedEngine = errors.New("unsupported storage engine")
)

// UnavailableError wraps err as ErrUnavailable for the repository id.
func UnavailableError(id string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, id, err)
}

// ErrInvalidTriple is returned when loading a triple that is not valid RDF.
var ErrInvalidTriple = errors.New("invalid triple")

// ValidateTriple checks that t has an IRI or blank subject, an IRI predicate and
// a bound object.
func ValidateTriple(t rdf.Triple) error {
	switch {
	case !t.Subject.IsIRI() && !t.Subject.IsBlank():
		return fmt.Errorf("%w: subject %s", ErrInvalidTriple, t.Subject)
	case !t.Predicate.IsIRI():
		return fmt.Errorf("%w: predicate %s", ErrInvalidTriple, t.Predicate)
	case !t.Object.IsBound():
		return fmt.Errorf("%w: unbound object", ErrInvalidTriple)
	}
	return nil
}
