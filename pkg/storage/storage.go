//go:generate mockgen -source storage.go -destination ../../internal/mocks/mock_storage.go -package mocks storage

// Package storage defines the repository contract every federation member
// implements, together with the iterator types results are streamed through.
package storage

import (
	"context"

	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
)

// TripleSource reads statements. Unbound arguments are wildcards.
type TripleSource interface {
	Statements(ctx context.Context, subject, predicate, object rdf.Term) (TripleIterator, error)
}

// Connection is an open session against a repository. A Connection is used by one
// query evaluation at a time but its iterators may be consumed from other goroutines.
type Connection interface {
	TripleSource

	// Evaluate evaluates expr natively with the given input bindings. Returned
	// solutions include the input bindings.
	Evaluate(ctx context.Context, expr algebra.TupleExpr, bindings rdf.Solution) (SolutionIterator, error)

	// Query evaluates query text with the repository's native engine.
	Query(ctx context.Context, query string) (*QueryResult, error)

	// Close releases the connection. Iterators obtained from it must not be used
	// afterwards.
	Close() error
}

// Repository hands out connections. Implementations must be safe for concurrent use.
type Repository interface {
	ID() string
	Connect(ctx context.Context) (Connection, error)
}

// Loader is implemented by repositories that accept bulk data.
type Loader interface {
	Load(ctx context.Context, triples []rdf.Triple) error
}

// QueryResult is the outcome of a query. Exactly one of Boolean, Solutions or
// Triples is meaningful, depending on Form. Callers must Close it.
type QueryResult struct {
	Form      algebra.Form
	Boolean   bool
	Vars      []string
	Solutions SolutionIterator
	Triples   TripleIterator
	closers   []func()
}

// NewBooleanResult returns an ASK result.
func NewBooleanResult(b bool) *QueryResult {
	return &QueryResult{Form: algebra.FormAsk, Boolean: b}
}

// NewSolutionsResult returns a SELECT result.
func NewSolutionsResult(vars []string, it SolutionIterator) *QueryResult {
	return &QueryResult{Form: algebra.FormSelect, Vars: vars, Solutions: it}
}

// NewGraphResult returns the result of a CONSTRUCT or DESCRIBE.
func NewGraphResult(form algebra.Form, it TripleIterator) *QueryResult {
	return &QueryResult{Form: form, Triples: it}
}

// OnClose registers fn to run when the result is closed.
func (r *QueryResult) OnClose(fn func()) {
	r.closers = append(r.closers, fn)
}

// Close stops the result iterators and runs the OnClose hooks. It is safe to call
// more than once.
func (r *QueryResult) Close() {
	if r.Solutions != nil {
		r.Solutions.Stop()
	}
	if r.Triples != nil {
		r.Triples.Stop()
	}
	closers := r.closers
	r.closers = nil
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
