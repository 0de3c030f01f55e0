package eval

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ephedra/ephedra/internal/iterator"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/storage"
	"github.com/ephedra/ephedra/pkg/telemetry"
)

// Run evaluates q with strategy and shapes the solutions according to the query
// form. source serves the statements of DESCRIBE. ASK is answered eagerly; every
// other form is lazy and evaluation errors surface from the result iterators.
func Run(ctx context.Context, strategy Strategy, source storage.TripleSource, q *algebra.Query) (*storage.QueryResult, error) {
	ctx, span := tracer.Start(ctx, "eval.Run", trace.WithAttributes(
		attribute.String("form", q.Form.String()),
	))

	it, err := strategy.Evaluate(ctx, q.Root, rdf.Solution{})
	if err != nil {
		telemetry.TraceError(span, err)
		span.End()
		return nil, err
	}

	var res *storage.QueryResult
	switch q.Form {
	case algebra.FormAsk:
		defer span.End()
		_, ok, err := iterator.First(ctx, it)
		if err != nil {
			telemetry.TraceError(span, err)
			return nil, err
		}
		return storage.NewBooleanResult(ok), nil
	case algebra.FormConstruct:
		res = storage.NewGraphResult(q.Form, Construct(it, q.Template))
	case algebra.FormDescribe:
		res = storage.NewGraphResult(q.Form, Describe(it, source, q.Describe))
	default:
		res = storage.NewSolutionsResult(q.Vars, it)
	}
	res.OnClose(func() { span.End() })
	return res, nil
}

// Construct instantiates template once per solution. Template blank nodes the
// solution leaves unbound get fresh labels per solution. Triples with unbound or
// ill-typed positions are skipped, and each distinct triple is produced once.
func Construct(solutions storage.SolutionIterator, template []*algebra.StatementPattern) storage.TripleIterator {
	seen := map[rdf.Triple]struct{}{}
	return iterator.FlatMap(solutions, func(_ context.Context, s rdf.Solution) (storage.TripleIterator, error) {
		fresh := map[string]rdf.Term{}
		instantiate := func(v algebra.Var) rdf.Term {
			t := Substitute(v, s)
			if t.IsBound() || !v.Anonymous {
				return t
			}
			if b, ok := fresh[v.Name]; ok {
				return b
			}
			b := rdf.NewBlank(uuid.NewString())
			fresh[v.Name] = b
			return b
		}

		var out []rdf.Triple
		for _, sp := range template {
			t := rdf.NewTriple(instantiate(sp.Subject), instantiate(sp.Predicate), instantiate(sp.Object))
			if !t.Subject.IsBound() || t.Subject.IsLiteral() || !t.Predicate.IsIRI() || !t.Object.IsBound() {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
		return storage.NewStaticIterator(out...), nil
	})
}

// Describe produces the outgoing statements of every distinct IRI or blank node
// the resources take across the solutions.
func Describe(solutions storage.SolutionIterator, source storage.TripleSource, resources []algebra.Var) storage.TripleIterator {
	described := map[rdf.Term]struct{}{}
	return iterator.FlatMap(solutions, func(ctx context.Context, s rdf.Solution) (storage.TripleIterator, error) {
		var iters []storage.TripleIterator
		for _, r := range resources {
			t := Substitute(r, s)
			if !t.IsIRI() && !t.IsBlank() {
				continue
			}
			if _, ok := described[t]; ok {
				continue
			}
			described[t] = struct{}{}
			it, err := source.Statements(ctx, t, rdf.Term{}, rdf.Term{})
			if err != nil {
				for _, open := range iters {
					open.Stop()
				}
				return nil, err
			}
			iters = append(iters, it)
		}
		return iterator.Concat(iters...), nil
	})
}
