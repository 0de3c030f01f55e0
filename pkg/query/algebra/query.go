package algebra

// Form is the query form.
type Form uint8

const (
	FormSelect Form = iota
	FormAsk
	FormConstruct
	FormDescribe
)

func (f Form) String() string {
	switch f {
	case FormAsk:
		return "ASK"
	case FormConstruct:
		return "CONSTRUCT"
	case FormDescribe:
		return "DESCRIBE"
	default:
		return "SELECT"
	}
}

// Query is a parsed query.
type Query struct {
	Form Form
	// Text is the query text the tree was parsed from.
	Text string
	Root TupleExpr
	// Vars are the projected variables of a SELECT in projection order.
	Vars []string
	// Template holds the CONSTRUCT template.
	Template []*StatementPattern
	// Describe holds the resources of a DESCRIBE; variables are read from Root.
	Describe []Var
	// Prefixes are the prologue declarations, kept for rendering.
	Prefixes map[string]string
	Base     string
}

// WithRoot returns a shallow copy of q with a new root.
func (q *Query) WithRoot(root TupleExpr) *Query {
	c := *q
	c.Root = root
	return &c
}
