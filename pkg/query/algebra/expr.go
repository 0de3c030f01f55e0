package algebra

import "github.com/ephedra/ephedra/pkg/rdf"

// VarExpr references a variable inside a value expression.
type VarExpr struct {
	Name string
}

type Constant struct {
	Value rdf.Term
}

// CompareOp is one of = != < > <= >=.
type CompareOp string

const (
	OpEQ CompareOp = "="
	OpNE CompareOp = "!="
	OpLT CompareOp = "<"
	OpGT CompareOp = ">"
	OpLE CompareOp = "<="
	OpGE CompareOp = ">="
)

type Compare struct {
	Op          CompareOp
	Left, Right Expr
}

type And struct {
	Left, Right Expr
}

type Or struct {
	Left, Right Expr
}

type Not struct {
	Arg Expr
}

// MathOp is one of + - * /.
type MathOp byte

type Math struct {
	Op          MathOp
	Left, Right Expr
}

// Negate is unary minus.
type Negate struct {
	Arg Expr
}

type Bound struct {
	Name string
}

type In struct {
	Arg     Expr
	List    []Expr
	Negated bool
}

// Call is a built-in function call. Name is the upper-case SPARQL keyword.
type Call struct {
	Name string
	Args []Expr
}

// FunctionCall invokes an IRI named function, for example an XSD constructor cast.
type FunctionCall struct {
	IRI  string
	Args []Expr
}

// Exists is [NOT] EXISTS { Pattern }.
type Exists struct {
	Pattern TupleExpr
	Negated bool
}

// AggregateOp names a built-in aggregate.
type AggregateOp string

const (
	AggCount       AggregateOp = "COUNT"
	AggSum         AggregateOp = "SUM"
	AggMin         AggregateOp = "MIN"
	AggMax         AggregateOp = "MAX"
	AggAvg         AggregateOp = "AVG"
	AggSample      AggregateOp = "SAMPLE"
	AggGroupConcat AggregateOp = "GROUP_CONCAT"
)

// Aggregate is a built-in aggregate. Arg is nil for COUNT(*).
type Aggregate struct {
	Op        AggregateOp
	Arg       Expr
	Distinct  bool
	Separator string
}

// AggregateCall is a server registered aggregate addressed by IRI. The IRI is
// resolved against the aggregate registry per group when the query is evaluated.
type AggregateCall struct {
	IRI      string
	Args     []Expr
	Distinct bool
}

func (*VarExpr) node()       {}
func (*Constant) node()      {}
func (*Compare) node()       {}
func (*And) node()           {}
func (*Or) node()            {}
func (*Not) node()           {}
func (*Math) node()          {}
func (*Negate) node()        {}
func (*Bound) node()         {}
func (*In) node()            {}
func (*Call) node()          {}
func (*FunctionCall) node()  {}
func (*Exists) node()        {}
func (*Aggregate) node()     {}
func (*AggregateCall) node() {}

func (*VarExpr) expr()       {}
func (*Constant) expr()      {}
func (*Compare) expr()       {}
func (*And) expr()           {}
func (*Or) expr()            {}
func (*Not) expr()           {}
func (*Math) expr()          {}
func (*Negate) expr()        {}
func (*Bound) expr()         {}
func (*In) expr()            {}
func (*Call) expr()          {}
func (*FunctionCall) expr()  {}
func (*Exists) expr()        {}
func (*Aggregate) expr()     {}
func (*AggregateCall) expr() {}
