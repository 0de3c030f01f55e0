package sparql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
)

// RenderSelect renders expr as a SELECT * query. Bindings that are bound in the
// solution are pushed into the query as a VALUES block.
func RenderSelect(expr algebra.TupleExpr, bindings rdf.Solution) (string, error) {
	var b strings.Builder
	b.WriteString("SELECT * WHERE {\n")
	if len(bindings) > 0 {
		names := bindings.Names()
		b.WriteString("  VALUES (")
		for _, n := range names {
			b.WriteString(" ?" + n)
		}
		b.WriteString(" ) { (")
		for _, n := range names {
			b.WriteString(" " + bindings[n].String())
		}
		b.WriteString(" ) }\n")
	}
	r := &renderer{b: &b}
	if err := r.group(expr, 1); err != nil {
		return "", err
	}
	b.WriteString("}\n")
	return b.String(), nil
}

// RenderQuery renders a whole query in its original form.
func RenderQuery(q *algebra.Query) (string, error) {
	var b strings.Builder
	r := &renderer{b: &b}
	switch q.Form {
	case algebra.FormSelect:
		return RenderSelect(q.Root, nil)
	case algebra.FormAsk:
		b.WriteString("ASK {\n")
	case algebra.FormConstruct:
		b.WriteString("CONSTRUCT {\n")
		for _, sp := range q.Template {
			b.WriteString("  ")
			r.pattern(sp)
		}
		b.WriteString("} WHERE {\n")
	case algebra.FormDescribe:
		b.WriteString("DESCRIBE")
		for _, v := range q.Describe {
			b.WriteString(" " + renderVar(v))
		}
		b.WriteString(" WHERE {\n")
	}
	if err := r.group(q.Root, 1); err != nil {
		return "", err
	}
	b.WriteString("}\n")
	return b.String(), nil
}

type renderer struct {
	b *strings.Builder
}

func (r *renderer) indent(depth int) {
	r.b.WriteString(strings.Repeat("  ", depth))
}

func (r *renderer) pattern(sp *algebra.StatementPattern) {
	r.b.WriteString(renderVar(sp.Subject) + " " + renderVar(sp.Predicate) + " " + renderVar(sp.Object) + " .\n")
}

// group writes t as the content of a group graph pattern.
func (r *renderer) group(t algebra.TupleExpr, depth int) error {
	switch n := t.(type) {
	case *algebra.StatementPattern:
		r.indent(depth)
		r.pattern(n)
	case *algebra.Singleton:
	case *algebra.Join:
		for _, a := range n.Args {
			if err := r.nested(a, depth); err != nil {
				return err
			}
		}
	case *algebra.LeftJoin:
		if err := r.nested(n.Left, depth); err != nil {
			return err
		}
		r.indent(depth)
		r.b.WriteString("OPTIONAL {\n")
		if err := r.group(n.Right, depth+1); err != nil {
			return err
		}
		if n.Condition != nil {
			r.indent(depth + 1)
			if err := r.filter(n.Condition); err != nil {
				return err
			}
		}
		r.indent(depth)
		r.b.WriteString("}\n")
	case *algebra.Union:
		r.indent(depth)
		r.b.WriteString("{\n")
		if err := r.group(n.Left, depth+1); err != nil {
			return err
		}
		r.indent(depth)
		r.b.WriteString("} UNION {\n")
		if err := r.group(n.Right, depth+1); err != nil {
			return err
		}
		r.indent(depth)
		r.b.WriteString("}\n")
	case *algebra.Minus:
		if err := r.nested(n.Left, depth); err != nil {
			return err
		}
		r.indent(depth)
		r.b.WriteString("MINUS {\n")
		if err := r.group(n.Right, depth+1); err != nil {
			return err
		}
		r.indent(depth)
		r.b.WriteString("}\n")
	case *algebra.Filter:
		if err := r.nested(n.Arg, depth); err != nil {
			return err
		}
		r.indent(depth)
		return r.filter(n.Condition)
	case *algebra.Extension:
		if err := r.nested(n.Arg, depth); err != nil {
			return err
		}
		e, err := renderExpr(n.Expr)
		if err != nil {
			return err
		}
		r.indent(depth)
		fmt.Fprintf(r.b, "BIND(%s AS ?%s)\n", e, n.Name)
	case *algebra.Values:
		r.indent(depth)
		r.values(n)
	case *algebra.Service:
		r.indent(depth)
		r.b.WriteString("SERVICE ")
		if n.Silent {
			r.b.WriteString("SILENT ")
		}
		r.b.WriteString(renderVar(n.Ref) + " {\n")
		if err := r.group(n.Arg, depth+1); err != nil {
			return err
		}
		r.indent(depth)
		r.b.WriteString("}\n")
	case *algebra.Owned:
		return r.group(n.Arg, depth)
	case *algebra.Group, *algebra.Projection, *algebra.Distinct, *algebra.Order, *algebra.Slice:
		return r.subSelect(t, depth)
	default:
		return fmt.Errorf("%w: cannot render %T", ErrUnsupported, t)
	}
	return nil
}

// nested writes t so that its scope stays separate from its siblings. Filters,
// optionals and binds are wrapped in a group of their own.
func (r *renderer) nested(t algebra.TupleExpr, depth int) error {
	switch n := t.(type) {
	case *algebra.StatementPattern, *algebra.Singleton, *algebra.Values, *algebra.Service, *algebra.Union, *algebra.Join,
		*algebra.Group, *algebra.Projection, *algebra.Distinct, *algebra.Order, *algebra.Slice:
		return r.group(t, depth)
	case *algebra.Owned:
		return r.nested(n.Arg, depth)
	}
	r.indent(depth)
	r.b.WriteString("{\n")
	if err := r.group(t, depth+1); err != nil {
		return err
	}
	r.indent(depth)
	r.b.WriteString("}\n")
	return nil
}

func (r *renderer) filter(cond algebra.Expr) error {
	e, err := renderExpr(cond)
	if err != nil {
		return err
	}
	r.b.WriteString("FILTER(" + e + ")\n")
	return nil
}

func (r *renderer) values(v *algebra.Values) {
	r.b.WriteString("VALUES (")
	for _, name := range v.Vars {
		r.b.WriteString(" ?" + name)
	}
	r.b.WriteString(" ) {")
	for _, row := range v.Rows {
		r.b.WriteString(" (")
		for _, t := range row {
			if t.IsBound() {
				r.b.WriteString(" " + t.String())
			} else {
				r.b.WriteString(" UNDEF")
			}
		}
		r.b.WriteString(" )")
	}
	r.b.WriteString(" }\n")
}

// subSelect renders a solution modifier, or a Slice over an Order, as a sub-query.
func (r *renderer) subSelect(t algebra.TupleExpr, depth int) error {
	if g, ok := t.(*algebra.Group); ok {
		return r.groupQuery(g, depth)
	}

	var slice *algebra.Slice
	var order *algebra.Order
	projection := "*"
	distinct := false
	if s, ok := t.(*algebra.Slice); ok {
		slice, t = s, s.Arg
	}
	if o, ok := t.(*algebra.Order); ok && slice != nil {
		order, t = o, o.Arg
	}
	switch n := t.(type) {
	case *algebra.Distinct:
		distinct, t = true, n.Arg
		if p, ok := t.(*algebra.Projection); ok {
			projection, t = projectionList(p), p.Arg
		}
	case *algebra.Projection:
		projection, t = projectionList(n), n.Arg
	case *algebra.Order:
		order, t = n, n.Arg
	}
	if o, ok := t.(*algebra.Order); ok && order == nil {
		order, t = o, o.Arg
	}

	r.indent(depth)
	r.b.WriteString("{ SELECT ")
	if distinct {
		r.b.WriteString("DISTINCT ")
	}
	r.b.WriteString(projection + " WHERE {\n")
	if err := r.group(t, depth+1); err != nil {
		return err
	}
	r.indent(depth)
	r.b.WriteString("}")
	if order != nil {
		r.b.WriteString(" ORDER BY")
		for _, k := range order.Keys {
			s, err := renderExpr(k.Expr)
			if err != nil {
				return err
			}
			if k.Descending {
				r.b.WriteString(" DESC(" + s + ")")
			} else {
				r.b.WriteString(" ASC(" + s + ")")
			}
		}
	}
	if slice != nil {
		if slice.Limit >= 0 {
			r.b.WriteString(" LIMIT " + strconv.FormatInt(slice.Limit, 10))
		}
		if slice.Offset > 0 {
			r.b.WriteString(" OFFSET " + strconv.FormatInt(slice.Offset, 10))
		}
	}
	r.b.WriteString(" }\n")
	return nil
}

// projectionList renders projected variables. An empty projection selects a
// variable that is never bound, which yields empty solutions.
func projectionList(p *algebra.Projection) string {
	if len(p.Vars) == 0 {
		return "?__unbound"
	}
	return "?" + strings.Join(p.Vars, " ?")
}

func (r *renderer) groupQuery(g *algebra.Group, depth int) error {
	r.indent(depth)
	r.b.WriteString("{ SELECT")
	for _, k := range g.By {
		r.b.WriteString(" ?" + k.Name)
	}
	for _, a := range g.Aggregates {
		s, err := renderExpr(a.Expr)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.b, " (%s AS ?%s)", s, a.Name)
	}
	if len(g.By) == 0 && len(g.Aggregates) == 0 {
		r.b.WriteString(" ?__unbound")
	}
	r.b.WriteString(" WHERE {\n")
	if err := r.group(g.Arg, depth+1); err != nil {
		return err
	}
	r.indent(depth)
	r.b.WriteString("}")
	if len(g.By) > 0 {
		r.b.WriteString(" GROUP BY")
		for _, k := range g.By {
			if k.Expr == nil {
				r.b.WriteString(" ?" + k.Name)
				continue
			}
			s, err := renderExpr(k.Expr)
			if err != nil {
				return err
			}
			fmt.Fprintf(r.b, " (%s AS ?%s)", s, k.Name)
		}
	}
	r.b.WriteString(" }\n")
	return nil
}

func renderVar(v algebra.Var) string {
	if v.IsConst() {
		return v.Value.String()
	}
	return "?" + v.Name
}

// RenderExpr renders a value expression.
func RenderExpr(e algebra.Expr) (string, error) {
	return renderExpr(e)
}

func renderExpr(e algebra.Expr) (string, error) {
	switch n := e.(type) {
	case *algebra.VarExpr:
		return "?" + n.Name, nil
	case *algebra.Constant:
		return n.Value.String(), nil
	case *algebra.Compare:
		return binary(n.Left, string(n.Op), n.Right)
	case *algebra.And:
		return binary(n.Left, "&&", n.Right)
	case *algebra.Or:
		return binary(n.Left, "||", n.Right)
	case *algebra.Math:
		return binary(n.Left, string(rune(n.Op)), n.Right)
	case *algebra.Not:
		s, err := renderExpr(n.Arg)
		return "!(" + s + ")", err
	case *algebra.Negate:
		s, err := renderExpr(n.Arg)
		return "-(" + s + ")", err
	case *algebra.Bound:
		return "BOUND(?" + n.Name + ")", nil
	case *algebra.In:
		arg, err := renderExpr(n.Arg)
		if err != nil {
			return "", err
		}
		list, err := renderList(n.List)
		if err != nil {
			return "", err
		}
		op := " IN "
		if n.Negated {
			op = " NOT IN "
		}
		return "(" + arg + op + "(" + list + "))", nil
	case *algebra.Call:
		list, err := renderList(n.Args)
		return n.Name + "(" + list + ")", err
	case *algebra.FunctionCall:
		list, err := renderList(n.Args)
		return "<" + n.IRI + ">(" + list + ")", err
	case *algebra.AggregateCall:
		list, err := renderList(n.Args)
		if n.Distinct {
			list = "DISTINCT " + list
		}
		return "<" + n.IRI + ">(" + list + ")", err
	case *algebra.Aggregate:
		inner := "*"
		if n.Arg != nil {
			s, err := renderExpr(n.Arg)
			if err != nil {
				return "", err
			}
			inner = s
		}
		if n.Distinct {
			inner = "DISTINCT " + inner
		}
		if n.Op == algebra.AggGroupConcat {
			inner += `; SEPARATOR="` + rdf.EscapeString(n.Separator) + `"`
		}
		return string(n.Op) + "(" + inner + ")", nil
	case *algebra.Exists:
		var b strings.Builder
		r := &renderer{b: &b}
		if err := r.group(n.Pattern, 1); err != nil {
			return "", err
		}
		prefix := "EXISTS"
		if n.Negated {
			prefix = "NOT EXISTS"
		}
		return prefix + " {\n" + b.String() + "}", nil
	}
	return "", fmt.Errorf("%w: cannot render expression %T", ErrUnsupported, e)
}

func binary(l algebra.Expr, op string, r algebra.Expr) (string, error) {
	ls, err := renderExpr(l)
	if err != nil {
		return "", err
	}
	rs, err := renderExpr(r)
	if err != nil {
		return "", err
	}
	return "(" + ls + " " + op + " " + rs + ")", nil
}

func renderList(list []algebra.Expr) (string, error) {
	parts := make([]string, len(list))
	for i, e := range list {
		s, err := renderExpr(e)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, ", "), nil
}
