package algebra

import (
	"fmt"
	"slices"
	"strings"
)

// Children returns the direct tuple sub-expressions of t in evaluation order.
func Children(t TupleExpr) []TupleExpr {
	switch n := t.(type) {
	case *Join:
		return n.Args
	case *LeftJoin:
		return []TupleExpr{n.Left, n.Right}
	case *Union:
		return []TupleExpr{n.Left, n.Right}
	case *Minus:
		return []TupleExpr{n.Left, n.Right}
	case *Filter:
		return []TupleExpr{n.Arg}
	case *Extension:
		return []TupleExpr{n.Arg}
	case *Group:
		return []TupleExpr{n.Arg}
	case *Projection:
		return []TupleExpr{n.Arg}
	case *Distinct:
		return []TupleExpr{n.Arg}
	case *Order:
		return []TupleExpr{n.Arg}
	case *Slice:
		return []TupleExpr{n.Arg}
	case *Service:
		return []TupleExpr{n.Arg}
	case *Owned:
		return []TupleExpr{n.Arg}
	default:
		return nil
	}
}

// WithChildren returns a copy of t with its children replaced. The caller must pass
// exactly as many children as Children(t) returned.
func WithChildren(t TupleExpr, c []TupleExpr) TupleExpr {
	switch n := t.(type) {
	case *Join:
		return &Join{Args: slices.Clone(c)}
	case *LeftJoin:
		return &LeftJoin{Left: c[0], Right: c[1], Condition: n.Condition}
	case *Union:
		return &Union{Left: c[0], Right: c[1]}
	case *Minus:
		return &Minus{Left: c[0], Right: c[1]}
	case *Filter:
		return &Filter{Arg: c[0], Condition: n.Condition}
	case *Extension:
		return &Extension{Arg: c[0], Name: n.Name, Expr: n.Expr}
	case *Group:
		return &Group{Arg: c[0], By: n.By, Aggregates: n.Aggregates}
	case *Projection:
		return &Projection{Arg: c[0], Vars: n.Vars}
	case *Distinct:
		return &Distinct{Arg: c[0]}
	case *Order:
		return &Order{Arg: c[0], Keys: n.Keys}
	case *Slice:
		return &Slice{Arg: c[0], Offset: n.Offset, Limit: n.Limit}
	case *Service:
		return &Service{Ref: n.Ref, Arg: c[0], Silent: n.Silent}
	case *Owned:
		return &Owned{Member: n.Member, Arg: c[0]}
	default:
		return t
	}
}

// Rewrite rebuilds t bottom-up, replacing every node with fn(node). Nodes whose
// children were not replaced are passed to fn unchanged, so untouched sub-trees are
// shared with the input. The input tree is never modified. Rewrite does not
// descend into patterns nested in EXISTS expressions.
func Rewrite(t TupleExpr, fn func(TupleExpr) TupleExpr) TupleExpr {
	children := Children(t)
	if len(children) > 0 {
		var replaced []TupleExpr
		for i, c := range children {
			nc := Rewrite(c, fn)
			if nc != c && replaced == nil {
				replaced = slices.Clone(children)
			}
			if replaced != nil {
				replaced[i] = nc
			}
		}
		if replaced != nil {
			t = WithChildren(t, replaced)
		}
	}
	return fn(t)
}

// Walk visits n and everything below it depth-first, including value expressions and
// the patterns of EXISTS. Returning false from fn skips the children of that node.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch x := n.(type) {
	case TupleExpr:
		for _, e := range exprsOf(x) {
			Walk(e, fn)
		}
		for _, c := range Children(x) {
			Walk(c, fn)
		}
	case Expr:
		for _, e := range ExprChildren(x) {
			Walk(e, fn)
		}
		if ex, ok := x.(*Exists); ok {
			Walk(ex.Pattern, fn)
		}
	}
}

// Any reports whether pred holds for some node reachable from n.
func Any(n Node, pred func(Node) bool) bool {
	found := false
	Walk(n, func(x Node) bool {
		if found {
			return false
		}
		if pred(x) {
			found = true
			return false
		}
		return true
	})
	return found
}

func exprsOf(t TupleExpr) []Expr {
	switch n := t.(type) {
	case *LeftJoin:
		if n.Condition != nil {
			return []Expr{n.Condition}
		}
	case *Filter:
		return []Expr{n.Condition}
	case *Extension:
		return []Expr{n.Expr}
	case *Group:
		var out []Expr
		for _, k := range n.By {
			if k.Expr != nil {
				out = append(out, k.Expr)
			}
		}
		for _, a := range n.Aggregates {
			out = append(out, a.Expr)
		}
		return out
	case *Order:
		out := make([]Expr, 0, len(n.Keys))
		for _, k := range n.Keys {
			out = append(out, k.Expr)
		}
		return out
	}
	return nil
}

// ExprChildren returns the direct operands of e.
func ExprChildren(e Expr) []Expr {
	switch n := e.(type) {
	case *Compare:
		return []Expr{n.Left, n.Right}
	case *And:
		return []Expr{n.Left, n.Right}
	case *Or:
		return []Expr{n.Left, n.Right}
	case *Not:
		return []Expr{n.Arg}
	case *Math:
		return []Expr{n.Left, n.Right}
	case *Negate:
		return []Expr{n.Arg}
	case *In:
		return append([]Expr{n.Arg}, n.List...)
	case *Call:
		return n.Args
	case *FunctionCall:
		return n.Args
	case *Aggregate:
		if n.Arg != nil {
			return []Expr{n.Arg}
		}
	case *AggregateCall:
		return n.Args
	}
	return nil
}

// BindingNames returns the variables t may bind, in order of first appearance.
// Anonymous variables are included only when withAnonymous is set.
func BindingNames(t TupleExpr, withAnonymous bool) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	var visit func(TupleExpr)
	visit = func(t TupleExpr) {
		switch n := t.(type) {
		case *StatementPattern:
			for _, v := range []Var{n.Subject, n.Predicate, n.Object} {
				if !v.IsConst() && (withAnonymous || !v.Anonymous) {
					add(v.Name)
				}
			}
		case *Minus:
			visit(n.Left)
		case *Extension:
			visit(n.Arg)
			add(n.Name)
		case *Group:
			for _, k := range n.By {
				add(k.Name)
			}
			for _, a := range n.Aggregates {
				add(a.Name)
			}
		case *Projection:
			for _, v := range n.Vars {
				add(v)
			}
		case *Values:
			for _, v := range n.Vars {
				add(v)
			}
		default:
			for _, c := range Children(t) {
				visit(c)
			}
		}
	}
	visit(t)
	return out
}

// Format renders t as an indented tree, for logs and test failures.
func Format(t TupleExpr) string {
	var b strings.Builder
	format(&b, t, 0)
	return b.String()
}

func format(b *strings.Builder, t TupleExpr, depth int) {
	b.WriteString(strings.Repeat("   ", depth))
	switch n := t.(type) {
	case *StatementPattern:
		fmt.Fprintf(b, "StatementPattern %s %s %s\n", formatVar(n.Subject), formatVar(n.Predicate), formatVar(n.Object))
		return
	case *Values:
		fmt.Fprintf(b, "Values (%s) rows=%d\n", strings.Join(n.Vars, ", "), len(n.Rows))
		return
	case *Singleton:
		b.WriteString("Singleton\n")
		return
	case *Join:
		b.WriteString("Join\n")
	case *LeftJoin:
		b.WriteString("LeftJoin\n")
	case *Union:
		b.WriteString("Union\n")
	case *Minus:
		b.WriteString("Minus\n")
	case *Filter:
		b.WriteString("Filter\n")
	case *Extension:
		fmt.Fprintf(b, "Extension ?%s\n", n.Name)
	case *Group:
		names := make([]string, 0, len(n.By))
		for _, k := range n.By {
			names = append(names, "?"+k.Name)
		}
		fmt.Fprintf(b, "Group (%s)\n", strings.Join(names, ", "))
	case *Projection:
		fmt.Fprintf(b, "Projection (%s)\n", strings.Join(n.Vars, ", "))
	case *Distinct:
		b.WriteString("Distinct\n")
	case *Order:
		b.WriteString("Order\n")
	case *Slice:
		fmt.Fprintf(b, "Slice offset=%d limit=%d\n", n.Offset, n.Limit)
	case *Service:
		fmt.Fprintf(b, "Service %s silent=%t\n", formatVar(n.Ref), n.Silent)
	case *Owned:
		fmt.Fprintf(b, "Owned [%s]\n", n.Member)
	default:
		fmt.Fprintf(b, "%T\n", t)
	}
	for _, c := range Children(t) {
		format(b, c, depth+1)
	}
}

func formatVar(v Var) string {
	if v.IsConst() {
		return v.Value.String()
	}
	return "?" + v.Name
}

// RewriteExpr rebuilds e bottom-up, replacing every node with fn(node). Like
// Rewrite, it never modifies its input.
func RewriteExpr(e Expr, fn func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	children := ExprChildren(e)
	if len(children) > 0 {
		changed := false
		next := make([]Expr, len(children))
		for i, c := range children {
			next[i] = RewriteExpr(c, fn)
			changed = changed || next[i] != c
		}
		if changed {
			e = withExprChildren(e, next)
		}
	}
	return fn(e)
}

func withExprChildren(e Expr, c []Expr) Expr {
	switch n := e.(type) {
	case *Compare:
		return &Compare{Op: n.Op, Left: c[0], Right: c[1]}
	case *And:
		return &And{Left: c[0], Right: c[1]}
	case *Or:
		return &Or{Left: c[0], Right: c[1]}
	case *Not:
		return &Not{Arg: c[0]}
	case *Math:
		return &Math{Op: n.Op, Left: c[0], Right: c[1]}
	case *Negate:
		return &Negate{Arg: c[0]}
	case *In:
		return &In{Arg: c[0], List: slices.Clone(c[1:]), Negated: n.Negated}
	case *Call:
		return &Call{Name: n.Name, Args: slices.Clone(c)}
	case *FunctionCall:
		return &FunctionCall{IRI: n.IRI, Args: slices.Clone(c)}
	case *Aggregate:
		return &Aggregate{Op: n.Op, Arg: c[0], Distinct: n.Distinct, Separator: n.Separator}
	case *AggregateCall:
		return &AggregateCall{IRI: n.IRI, Args: slices.Clone(c), Distinct: n.Distinct}
	default:
		return e
	}
}
