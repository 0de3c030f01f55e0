package eval

import (
	"context"
	"strings"
	"time"

	"github.com/ephedra/ephedra/internal/iterator"
	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
)

// Test evaluates a condition to its effective boolean value. Expression errors
// count as false.
func (e *Evaluator) Test(ctx context.Context, cond algebra.Expr, row rdf.Solution) (bool, error) {
	v, err := e.Value(ctx, cond, row)
	if err != nil {
		if isExpressionError(err) {
			return false, nil
		}
		return false, err
	}
	b, err := EffectiveBooleanValue(v)
	if err != nil {
		return false, nil
	}
	return b, nil
}

// Value evaluates expr against row.
func (e *Evaluator) Value(ctx context.Context, expr algebra.Expr, row rdf.Solution) (rdf.Term, error) {
	switch x := expr.(type) {
	case *algebra.VarExpr:
		v := row.Get(x.Name)
		if !v.IsBound() {
			return rdf.Term{}, errUnbound
		}
		return v, nil
	case *algebra.Constant:
		return x.Value, nil
	case *algebra.Bound:
		return rdf.NewBoolean(row.Has(x.Name)), nil
	case *algebra.Not:
		b, err := e.ebv(ctx, x.Arg, row)
		if err != nil {
			return rdf.Term{}, err
		}
		return rdf.NewBoolean(!b), nil
	case *algebra.And:
		return e.and(ctx, x, row)
	case *algebra.Or:
		return e.or(ctx, x, row)
	case *algebra.Compare:
		l, err := e.Value(ctx, x.Left, row)
		if err != nil {
			return rdf.Term{}, err
		}
		r, err := e.Value(ctx, x.Right, row)
		if err != nil {
			return rdf.Term{}, err
		}
		b, err := compareOp(x.Op, l, r)
		if err != nil {
			return rdf.Term{}, err
		}
		return rdf.NewBoolean(b), nil
	case *algebra.Math:
		return e.math(ctx, x, row)
	case *algebra.Negate:
		v, err := e.Value(ctx, x.Arg, row)
		if err != nil {
			return rdf.Term{}, err
		}
		n, err := number(v)
		if err != nil {
			return rdf.Term{}, err
		}
		res, err := rdf.Sub(rdf.IntegerNumber(0), n)
		if err != nil {
			return rdf.Term{}, typeErrorf("%v", err)
		}
		return res.Term(), nil
	case *algebra.In:
		return e.in(ctx, x, row)
	case *algebra.Call:
		return e.call(ctx, x, row)
	case *algebra.FunctionCall:
		if len(x.Args) != 1 {
			return rdf.Term{}, typeErrorf("<%s> takes one argument", x.IRI)
		}
		v, err := e.Value(ctx, x.Args[0], row)
		if err != nil {
			return rdf.Term{}, err
		}
		return cast(x.IRI, v)
	case *algebra.Exists:
		it, err := e.delegate.Evaluate(ctx, x.Pattern, row)
		if err != nil {
			return rdf.Term{}, err
		}
		_, ok, err := iterator.First(ctx, it)
		if err != nil {
			return rdf.Term{}, err
		}
		return rdf.NewBoolean(ok != x.Negated), nil
	case *algebra.Aggregate, *algebra.AggregateCall:
		return rdf.Term{}, typeErrorf("aggregate outside of a group")
	default:
		return rdf.Term{}, typeErrorf("unsupported expression %T", expr)
	}
}

func (e *Evaluator) ebv(ctx context.Context, expr algebra.Expr, row rdf.Solution) (bool, error) {
	v, err := e.Value(ctx, expr, row)
	if err != nil {
		return false, err
	}
	return EffectiveBooleanValue(v)
}

// and and or follow the SPARQL logical-and/or truth tables: an error on one side
// is masked when the other side decides the result.
func (e *Evaluator) and(ctx context.Context, x *algebra.And, row rdf.Solution) (rdf.Term, error) {
	l, lerr := e.ebv(ctx, x.Left, row)
	if lerr != nil && !isExpressionError(lerr) {
		return rdf.Term{}, lerr
	}
	if lerr == nil && !l {
		return rdf.NewBoolean(false), nil
	}
	r, rerr := e.ebv(ctx, x.Right, row)
	if rerr != nil && !isExpressionError(rerr) {
		return rdf.Term{}, rerr
	}
	switch {
	case rerr == nil && !r:
		return rdf.NewBoolean(false), nil
	case lerr != nil:
		return rdf.Term{}, lerr
	case rerr != nil:
		return rdf.Term{}, rerr
	}
	return rdf.NewBoolean(true), nil
}

func (e *Evaluator) or(ctx context.Context, x *algebra.Or, row rdf.Solution) (rdf.Term, error) {
	l, lerr := e.ebv(ctx, x.Left, row)
	if lerr != nil && !isExpressionError(lerr) {
		return rdf.Term{}, lerr
	}
	if lerr == nil && l {
		return rdf.NewBoolean(true), nil
	}
	r, rerr := e.ebv(ctx, x.Right, row)
	if rerr != nil && !isExpressionError(rerr) {
		return rdf.Term{}, rerr
	}
	switch {
	case rerr == nil && r:
		return rdf.NewBoolean(true), nil
	case lerr != nil:
		return rdf.Term{}, lerr
	case rerr != nil:
		return rdf.Term{}, rerr
	}
	return rdf.NewBoolean(false), nil
}

func (e *Evaluator) math(ctx context.Context, x *algebra.Math, row rdf.Solution) (rdf.Term, error) {
	lv, err := e.Value(ctx, x.Left, row)
	if err != nil {
		return rdf.Term{}, err
	}
	rv, err := e.Value(ctx, x.Right, row)
	if err != nil {
		return rdf.Term{}, err
	}
	l, err := number(lv)
	if err != nil {
		return rdf.Term{}, err
	}
	r, err := number(rv)
	if err != nil {
		return rdf.Term{}, err
	}

	var res rdf.Number
	switch x.Op {
	case '+':
		res, err = rdf.Add(l, r)
	case '-':
		res, err = rdf.Sub(l, r)
	case '*':
		res, err = rdf.Mul(l, r)
	case '/':
		res, err = rdf.Div(l, r)
	default:
		return rdf.Term{}, typeErrorf("unknown operator %q", x.Op)
	}
	if err != nil {
		return rdf.Term{}, typeErrorf("%v", err)
	}
	return res.Term(), nil
}

func (e *Evaluator) in(ctx context.Context, x *algebra.In, row rdf.Solution) (rdf.Term, error) {
	v, err := e.Value(ctx, x.Arg, row)
	if err != nil {
		return rdf.Term{}, err
	}
	var firstErr error
	for _, item := range x.List {
		w, err := e.Value(ctx, item, row)
		if err == nil {
			var eq bool
			eq, err = compareOp(algebra.OpEQ, v, w)
			if err == nil && eq {
				return rdf.NewBoolean(!x.Negated), nil
			}
		}
		if err != nil {
			if !isExpressionError(err) {
				return rdf.Term{}, err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return rdf.Term{}, firstErr
	}
	return rdf.NewBoolean(x.Negated), nil
}

// EffectiveBooleanValue converts a term to a boolean following the SPARQL rules.
func EffectiveBooleanValue(t rdf.Term) (bool, error) {
	if !t.IsLiteral() {
		return false, typeErrorf("no boolean value for %s", t)
	}
	switch {
	case t.Datatype == rdf.XSDBoolean:
		switch t.Value {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return false, nil
	case t.IsNumeric():
		n, err := rdf.ParseNumber(t)
		if err != nil {
			return false, nil
		}
		switch n.Type {
		case rdf.NumInteger:
			return n.Int != 0, nil
		case rdf.NumDecimal:
			return n.Dec.Sign() != 0, nil
		default:
			return n.Float != 0 && n.Float == n.Float, nil
		}
	case t.IsPlainString(), t.Datatype == rdf.RDFLangString:
		return t.Value != "", nil
	}
	return false, typeErrorf("no boolean value for %s", t)
}

func number(t rdf.Term) (rdf.Number, error) {
	n, err := rdf.ParseNumber(t)
	if err != nil {
		return rdf.Number{}, typeErrorf("%v", err)
	}
	return n, nil
}

// compareOp applies a comparison operator. Numbers, simple strings, booleans and
// date times are ordered by value; any other pair of terms only supports =, != as
// RDF term equality.
func compareOp(op algebra.CompareOp, a, b rdf.Term) (bool, error) {
	c, ordered, err := compareValues(a, b)
	if err != nil {
		return false, err
	}
	if !ordered {
		switch op {
		case algebra.OpEQ:
			return c == 0, nil
		case algebra.OpNE:
			return c != 0, nil
		}
		return false, typeErrorf("cannot order %s and %s", a, b)
	}
	switch op {
	case algebra.OpEQ:
		return c == 0, nil
	case algebra.OpNE:
		return c != 0, nil
	case algebra.OpLT:
		return c < 0, nil
	case algebra.OpGT:
		return c > 0, nil
	case algebra.OpLE:
		return c <= 0, nil
	case algebra.OpGE:
		return c >= 0, nil
	}
	return false, typeErrorf("unknown operator %s", op)
}

// compareValues returns the value ordering of a and b. When the pair has no value
// ordering, ordered is false and c is 0 exactly when the terms are identical.
func compareValues(a, b rdf.Term) (c int, ordered bool, err error) {
	switch {
	case a.IsNumeric() && b.IsNumeric():
		x, err := number(a)
		if err != nil {
			return 0, false, err
		}
		y, err := number(b)
		if err != nil {
			return 0, false, err
		}
		c, ok := rdf.CompareNumbers(x, y)
		if !ok {
			// NaN is unequal to everything
			return 1, false, nil
		}
		return c, true, nil
	case a.IsPlainString() && b.IsPlainString():
		return strings.Compare(a.Value, b.Value), true, nil
	case a.IsLiteral() && b.IsLiteral() && a.Datatype == rdf.XSDBoolean && b.Datatype == rdf.XSDBoolean:
		x, _ := EffectiveBooleanValue(a)
		y, _ := EffectiveBooleanValue(b)
		return boolCompare(x, y), true, nil
	case a.IsLiteral() && b.IsLiteral() && a.Datatype == rdf.XSDDateTime && b.Datatype == rdf.XSDDateTime:
		x, xerr := time.Parse(time.RFC3339Nano, a.Value)
		y, yerr := time.Parse(time.RFC3339Nano, b.Value)
		if xerr != nil || yerr != nil {
			break
		}
		return x.Compare(y), true, nil
	}
	if a == b {
		return 0, false, nil
	}
	if a.IsLiteral() && b.IsLiteral() && a.Datatype != b.Datatype && !knownDatatype(a.Datatype) && !knownDatatype(b.Datatype) {
		return 0, false, typeErrorf("cannot compare %s and %s", a, b)
	}
	return 1, false, nil
}

func knownDatatype(dt string) bool {
	switch dt {
	case rdf.XSDString, rdf.XSDBoolean, rdf.XSDDateTime, rdf.RDFLangString:
		return true
	}
	return rdf.IsNumericDatatype(dt)
}

func boolCompare(x, y bool) int {
	switch {
	case x == y:
		return 0
	case !x:
		return -1
	}
	return 1
}
