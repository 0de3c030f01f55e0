// Package aggregate holds the IRI-addressed aggregate functions a federation can
// evaluate on top of the SPARQL built-ins.
package aggregate

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ephedra/ephedra/pkg/rdf"
)

var (
	// ErrTypeMismatch is returned when a function receives values it cannot aggregate.
	ErrTypeMismatch = errors.New("aggregate type mismatch")

	// ErrDuplicateFunction is returned when two functions share an IRI.
	ErrDuplicateFunction = errors.New("duplicate aggregate function")
)

// Function is a custom aggregate. Evaluate receives every value of one group, in
// solution order, and must be pure: no I/O and no mutation of values. It must
// accept an empty slice.
type Function interface {
	IRI() string
	Evaluate(values []rdf.Term) ([]rdf.Term, error)
}

// Registry maps IRIs to functions. It is fixed at construction and safe for
// concurrent use.
type Registry struct {
	fns map[string]Function
}

// NewRegistry builds a registry holding fns.
func NewRegistry(fns ...Function) (*Registry, error) {
	r := &Registry{fns: make(map[string]Function, len(fns))}
	for _, fn := range fns {
		iri := fn.IRI()
		if iri == "" {
			return nil, fmt.Errorf("%w: empty IRI", ErrDuplicateFunction)
		}
		if _, ok := r.fns[iri]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFunction, iri)
		}
		r.fns[iri] = fn
	}
	return r, nil
}

// MustNewRegistry is NewRegistry that panics on error.
func MustNewRegistry(fns ...Function) *Registry {
	r, err := NewRegistry(fns...)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultRegistry returns a registry with the functions shipped with ephedra.
func DefaultRegistry() *Registry {
	return MustNewRegistry(Median())
}

func (r *Registry) Lookup(iri string) (Function, bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r.fns[iri]
	return fn, ok
}

func (r *Registry) Contains(iri string) bool {
	_, ok := r.Lookup(iri)
	return ok
}

// IRIs returns the registered IRIs, sorted.
func (r *Registry) IRIs() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.fns))
	for iri := range r.fns {
		out = append(out, iri)
	}
	slices.Sort(out)
	return out
}
