package sparql

import (
	"fmt"

	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
)

// builtins maps each supported built-in to its accepted argument count range; a
// negative maximum means variadic.
var builtins = map[string][2]int{
	"STR":            {1, 1},
	"LANG":           {1, 1},
	"LANGMATCHES":    {2, 2},
	"DATATYPE":       {1, 1},
	"IRI":            {1, 1},
	"URI":            {1, 1},
	"BNODE":          {0, 1},
	"ABS":            {1, 1},
	"CEIL":           {1, 1},
	"FLOOR":          {1, 1},
	"ROUND":          {1, 1},
	"CONCAT":         {0, -1},
	"STRLEN":         {1, 1},
	"UCASE":          {1, 1},
	"LCASE":          {1, 1},
	"ENCODE_FOR_URI": {1, 1},
	"CONTAINS":       {2, 2},
	"STRSTARTS":      {2, 2},
	"STRENDS":        {2, 2},
	"STRBEFORE":      {2, 2},
	"STRAFTER":       {2, 2},
	"SUBSTR":         {2, 3},
	"REPLACE":        {3, 4},
	"REGEX":          {2, 3},
	"MD5":            {1, 1},
	"SHA1":           {1, 1},
	"SHA256":         {1, 1},
	"COALESCE":       {0, -1},
	"IF":             {3, 3},
	"STRLANG":        {2, 2},
	"STRDT":          {2, 2},
	"SAMETERM":       {2, 2},
	"ISIRI":          {1, 1},
	"ISURI":          {1, 1},
	"ISBLANK":        {1, 1},
	"ISLITERAL":      {1, 1},
	"ISNUMERIC":      {1, 1},
	"UUID":           {0, 0},
	"STRUUID":        {0, 0},
	"BOUND":          {1, 1},
}

var aggregateOps = map[string]algebra.AggregateOp{
	"COUNT":        algebra.AggCount,
	"SUM":          algebra.AggSum,
	"MIN":          algebra.AggMin,
	"MAX":          algebra.AggMax,
	"AVG":          algebra.AggAvg,
	"SAMPLE":       algebra.AggSample,
	"GROUP_CONCAT": algebra.AggGroupConcat,
}

// casts are the XSD constructor functions the evaluator implements.
var casts = map[string]struct{}{
	rdf.XSDString:   {},
	rdf.XSDInteger:  {},
	rdf.XSDInt:      {},
	rdf.XSDLong:     {},
	rdf.XSDDecimal:  {},
	rdf.XSDDouble:   {},
	rdf.XSDFloat:    {},
	rdf.XSDBoolean:  {},
	rdf.XSDDateTime: {},
}

// IsCast reports whether iri is an XSD constructor function the evaluator supports.
func IsCast(iri string) bool {
	_, ok := casts[iri]
	return ok
}

func isBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

func isAggregate(name string) bool {
	_, ok := aggregateOps[name]
	return ok
}

func (p *parser) parseExpr() (algebra.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptPunct("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &algebra.Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (algebra.Expr, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.acceptPunct("&&") {
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = &algebra.And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseRelational() (algebra.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == tokPunct {
		switch op := algebra.CompareOp(t.text); op {
		case algebra.OpEQ, algebra.OpNE, algebra.OpLT, algebra.OpGT, algebra.OpLE, algebra.OpGE:
			p.next()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &algebra.Compare{Op: op, Left: left, Right: right}, nil
		}
	}
	negated := false
	if p.isKeyword("NOT") && p.peekAt(1).kind == tokKeyword && p.peekAt(1).text == "IN" {
		p.next()
		negated = true
	}
	if p.acceptKeyword("IN") {
		list, err := p.parseArgList()
		if err != nil {
			return nil, err
		}
		return &algebra.In{Arg: left, List: list, Negated: negated}, nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (algebra.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") {
		op := p.next().text[0]
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &algebra.Math{Op: algebra.MathOp(op), Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (algebra.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") {
		op := p.next().text[0]
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &algebra.Math{Op: algebra.MathOp(op), Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (algebra.Expr, error) {
	switch {
	case p.acceptPunct("!"):
		arg, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &algebra.Not{Arg: arg}, nil
	case p.acceptPunct("+"):
		return p.parseUnary()
	case p.acceptPunct("-"):
		arg, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if c, ok := arg.(*algebra.Constant); ok && c.Value.IsNumeric() {
			n, err := rdf.ParseNumber(c.Value)
			if err == nil {
				neg, _ := rdf.Sub(rdf.IntegerNumber(0), n)
				return &algebra.Constant{Value: negatedLiteral(c.Value, neg)}, nil
			}
		}
		return &algebra.Negate{Arg: arg}, nil
	}
	return p.parsePrimary()
}

func negatedLiteral(orig rdf.Term, neg rdf.Number) rdf.Term {
	if neg.Type == rdf.NumInteger && rdf.IsIntegerDatatype(orig.Datatype) {
		return neg.Term()
	}
	return rdf.NewLiteral("-"+orig.Value, orig.Datatype)
}

func (p *parser) parseBracketted() (algebra.Expr, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *parser) parseArgList() ([]algebra.Expr, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var args []algebra.Expr
	if p.acceptPunct(")") {
		return args, nil
	}
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		if p.acceptPunct(")") {
			return args, nil
		}
		if err := p.expectPunct(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) parsePrimary() (algebra.Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokPunct:
		if t.text == "(" {
			return p.parseBracketted()
		}
	case tokVar:
		p.next()
		return &algebra.VarExpr{Name: t.text}, nil
	case tokString:
		lit, err := p.parseRDFLiteral()
		if err != nil {
			return nil, err
		}
		return &algebra.Constant{Value: lit}, nil
	case tokInteger, tokDecimal, tokDouble:
		p.next()
		return &algebra.Constant{Value: numericLiteral(t, "")}, nil
	case tokIRI, tokPName:
		return p.parseIRIOrFunction()
	case tokKeyword:
		switch {
		case t.text == "TRUE" || t.text == "FALSE":
			p.next()
			return &algebra.Constant{Value: rdf.NewBoolean(t.text == "TRUE")}, nil
		case t.text == "EXISTS":
			p.next()
			pattern, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			return &algebra.Exists{Pattern: pattern}, nil
		case t.text == "NOT" && p.peekAt(1).kind == tokKeyword && p.peekAt(1).text == "EXISTS":
			p.next()
			p.next()
			pattern, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			return &algebra.Exists{Pattern: pattern, Negated: true}, nil
		case isAggregate(t.text):
			return p.parseAggregate()
		case t.text == "BOUND":
			p.next()
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			v := p.next()
			if v.kind != tokVar {
				return nil, p.errorf("BOUND expects a variable")
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return &algebra.Bound{Name: v.text}, nil
		case isBuiltin(t.text):
			p.next()
			args, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			arity := builtins[t.text]
			if len(args) < arity[0] || (arity[1] >= 0 && len(args) > arity[1]) {
				return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("wrong number of arguments to %s", t.text)}
			}
			return &algebra.Call{Name: t.text, Args: args}, nil
		}
	}
	return nil, p.errorf("unexpected %s in expression", t)
}

func (p *parser) parseIRIOrFunction() (algebra.Expr, error) {
	pos := p.peek().pos
	iri, err := p.parseIRI()
	if err != nil {
		return nil, err
	}
	if !p.isPunct("(") {
		return &algebra.Constant{Value: rdf.NewIRI(iri)}, nil
	}
	if p.aggregates != nil && p.aggregates.Contains(iri) {
		p.next()
		distinct := p.acceptKeyword("DISTINCT")
		var args []algebra.Expr
		if !p.acceptPunct(")") {
			for {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, e)
				if p.acceptPunct(")") {
					break
				}
				if err := p.expectPunct(","); err != nil {
					return nil, err
				}
			}
		}
		return &algebra.AggregateCall{IRI: iri, Args: args, Distinct: distinct}, nil
	}
	if !IsCast(iri) {
		return nil, fmt.Errorf("%w: <%s> at line %d, column %d", ErrUnknownAggregate, iri, pos.Line, pos.Column)
	}
	args, err := p.parseArgList()
	if err != nil {
		return nil, err
	}
	if len(args) != 1 {
		return nil, &SyntaxError{Pos: pos, Msg: fmt.Sprintf("cast <%s> takes one argument", iri)}
	}
	return &algebra.FunctionCall{IRI: iri, Args: args}, nil
}

func (p *parser) parseAggregate() (algebra.Expr, error) {
	name := p.next().text
	agg := &algebra.Aggregate{Op: aggregateOps[name]}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	agg.Distinct = p.acceptKeyword("DISTINCT")
	if agg.Op == algebra.AggCount && p.acceptPunct("*") {
		return agg, p.expectPunct(")")
	}
	arg, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	agg.Arg = arg
	if agg.Op == algebra.AggGroupConcat {
		agg.Separator = " "
		if p.acceptPunct(";") {
			if err := p.expectKeyword("SEPARATOR"); err != nil {
				return nil, err
			}
			if err := p.expectPunct("="); err != nil {
				return nil, err
			}
			sep := p.next()
			if sep.kind != tokString {
				return nil, p.errorf("expected separator string")
			}
			agg.Separator = sep.text
		}
	}
	return agg, p.expectPunct(")")
}
