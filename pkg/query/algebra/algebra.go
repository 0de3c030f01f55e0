// Package algebra defines the immutable query algebra produced by the SPARQL parser
// and consumed by the evaluator and the federation planner.
//
// Nodes are never modified after construction. Passes that change a tree build a
// new one with Rewrite, sharing every untouched sub-tree with the input.
package algebra

import "github.com/ephedra/ephedra/pkg/rdf"

// Node is implemented by tuple expressions and value expressions.
type Node interface {
	node()
}

// TupleExpr is an operator producing a sequence of solutions.
type TupleExpr interface {
	Node
	tupleExpr()
}

// Expr is a value expression evaluated against one solution.
type Expr interface {
	Node
	expr()
}

// Var is a query variable, or a constant in pattern position when Value is bound.
// Anonymous variables come from blank nodes and are never projected by SELECT *.
type Var struct {
	Name      string
	Value     rdf.Term
	Anonymous bool
}

// NewVar returns a named variable.
func NewVar(name string) Var { return Var{Name: name} }

// NewConst returns a constant pattern position.
func NewConst(t rdf.Term) Var { return Var{Value: t} }

// IsConst reports whether v carries a fixed value.
func (v Var) IsConst() bool { return v.Value.IsBound() }

// StatementPattern matches triples against the default data of the evaluating source.
type StatementPattern struct {
	Subject, Predicate, Object Var
}

// Join is the n-ary inner join of its arguments.
type Join struct {
	Args []TupleExpr
}

// LeftJoin is OPTIONAL: every left solution survives, extended with compatible right
// solutions for which Condition (if any) holds.
type LeftJoin struct {
	Left, Right TupleExpr
	Condition   Expr
}

type Union struct {
	Left, Right TupleExpr
}

type Minus struct {
	Left, Right TupleExpr
}

type Filter struct {
	Arg       TupleExpr
	Condition Expr
}

// Extension is BIND: it binds Name to the value of Expr, leaving it unbound on error.
type Extension struct {
	Arg  TupleExpr
	Name string
	Expr Expr
}

// GroupKey is one GROUP BY element. Expr is nil when grouping by the variable Name.
type GroupKey struct {
	Name string
	Expr Expr
}

// AggregateBinding binds the result of an aggregate (Aggregate or AggregateCall) to Name.
type AggregateBinding struct {
	Name string
	Expr Expr
}

// Group groups its argument by keys and computes aggregates per group. Its output
// solutions bind the key variables and the aggregate names only.
type Group struct {
	Arg        TupleExpr
	By         []GroupKey
	Aggregates []AggregateBinding
}

// Projection keeps the named variables.
type Projection struct {
	Arg  TupleExpr
	Vars []string
}

type Distinct struct {
	Arg TupleExpr
}

type OrderKey struct {
	Expr       Expr
	Descending bool
}

type Order struct {
	Arg  TupleExpr
	Keys []OrderKey
}

// Slice applies OFFSET and LIMIT; a negative Limit means no limit.
type Slice struct {
	Arg    TupleExpr
	Offset int64
	Limit  int64
}

// Values is inline data. An unbound term in a row is UNDEF.
type Values struct {
	Vars []string
	Rows [][]rdf.Term
}

// Singleton produces exactly one empty solution.
type Singleton struct{}

// Service evaluates Arg at the endpoint named by Ref.
type Service struct {
	Ref    Var
	Arg    TupleExpr
	Silent bool
}

// Owned marks a sub-plan that is evaluated entirely by one federation member in a
// single request. It only appears in trees rewritten by the federation planner.
type Owned struct {
	Member string
	Arg    TupleExpr
}

func (*StatementPattern) node() {}
func (*Join) node()             {}
func (*LeftJoin) node()         {}
func (*Union) node()            {}
func (*Minus) node()            {}
func (*Filter) node()           {}
func (*Extension) node()        {}
func (*Group) node()            {}
func (*Projection) node()       {}
func (*Distinct) node()         {}
func (*Order) node()            {}
func (*Slice) node()            {}
func (*Values) node()           {}
func (*Singleton) node()        {}
func (*Service) node()          {}
func (*Owned) node()            {}

func (*StatementPattern) tupleExpr() {}
func (*Join) tupleExpr()             {}
func (*LeftJoin) tupleExpr()         {}
func (*Union) tupleExpr()            {}
func (*Minus) tupleExpr()            {}
func (*Filter) tupleExpr()           {}
func (*Extension) tupleExpr()        {}
func (*Group) tupleExpr()            {}
func (*Projection) tupleExpr()       {}
func (*Distinct) tupleExpr()         {}
func (*Order) tupleExpr()            {}
func (*Slice) tupleExpr()            {}
func (*Values) tupleExpr()           {}
func (*Singleton) tupleExpr()        {}
func (*Service) tupleExpr()          {}
func (*Owned) tupleExpr()            {}

// NewJoin flattens nested joins and drops singletons. It returns a Singleton for no
// arguments and the argument itself when only one remains.
func NewJoin(args ...TupleExpr) TupleExpr {
	flat := make([]TupleExpr, 0, len(args))
	for _, a := range args {
		switch n := a.(type) {
		case *Join:
			switch inner := NewJoin(n.Args...).(type) {
			case *Join:
				flat = append(flat, inner.Args...)
			case *Singleton:
			default:
				flat = append(flat, inner)
			}
		case *Singleton:
		case nil:
		default:
			flat = append(flat, a)
		}
	}
	switch len(flat) {
	case 0:
		return &Singleton{}
	case 1:
		return flat[0]
	default:
		return &Join{Args: flat}
	}
}
