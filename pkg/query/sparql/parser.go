// Package sparql parses SPARQL 1.1 query text into the query algebra and renders
// algebra back into query text for remote members.
package sparql

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
)

var (
	// ErrMalformedQuery is matched by every *SyntaxError.
	ErrMalformedQuery = errors.New("malformed query")

	// ErrUnknownAggregate is returned for an IRI in function position that is
	// neither a registered aggregate nor a supported cast.
	ErrUnknownAggregate = errors.New("unknown aggregate function")

	// ErrUnsupported is returned for valid SPARQL the engine does not evaluate.
	ErrUnsupported = errors.New("unsupported query feature")
)

// SyntaxError reports malformed query text.
type SyntaxError struct {
	Pos Position
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

func (e *SyntaxError) Is(target error) bool {
	return target == ErrMalformedQuery
}

// AggregateResolver tells the parser which IRIs name registered aggregates.
type AggregateResolver interface {
	Contains(iri string) bool
}

type Option func(*parser)

// WithAggregates enables the aggregate extension syntax: <iri>(args) in expression
// position becomes an AggregateCall when r knows the IRI.
func WithAggregates(r AggregateResolver) Option {
	return func(p *parser) {
		p.aggregates = r
	}
}

// WithBase sets the base IRI used to resolve relative IRIs.
func WithBase(base string) Option {
	return func(p *parser) {
		p.base = base
	}
}

// WithPrefixes predeclares prefixes.
func WithPrefixes(prefixes map[string]string) Option {
	return func(p *parser) {
		for k, v := range prefixes {
			p.prefixes[k] = v
		}
	}
}

// Parse parses query text.
func Parse(text string, opts ...Option) (*algebra.Query, error) {
	toks, err := newLexer(text).tokenize()
	if err != nil {
		return nil, err
	}
	p := &parser{
		toks:     toks,
		prefixes: map[string]string{},
		blanks:   map[string]string{},
	}
	for _, opt := range opts {
		opt(p)
	}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	q.Text = text
	return q, nil
}

type parser struct {
	toks       []token
	i          int
	prefixes   map[string]string
	base       string
	aggregates AggregateResolver
	blanks     map[string]string
	anon       int
	generated  int
}

func (p *parser) peek() token {
	return p.toks[p.i]
}

func (p *parser) peekAt(n int) token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) isPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) isKeyword(words ...string) bool {
	t := p.peek()
	if t.kind != tokKeyword {
		return false
	}
	for _, w := range words {
		if t.text == w {
			return true
		}
	}
	return false
}

func (p *parser) acceptPunct(s string) bool {
	if p.isPunct(s) {
		p.next()
		return true
	}
	return false
}

func (p *parser) acceptKeyword(w string) bool {
	if p.isKeyword(w) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expectPunct(s string) error {
	if !p.acceptPunct(s) {
		return p.errorf("expected %q, found %s", s, p.peek())
	}
	return nil
}

func (p *parser) expectKeyword(w string) error {
	if !p.acceptKeyword(w) {
		return p.errorf("expected %s, found %s", w, p.peek())
	}
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Pos: p.peek().pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) unsupported(feature string) error {
	return fmt.Errorf("%w: %s at line %d", ErrUnsupported, feature, p.peek().pos.Line)
}

func (p *parser) freshVar(prefix string) string {
	p.generated++
	return fmt.Sprintf("__%s_%d", prefix, p.generated)
}

func (p *parser) parseQuery() (*algebra.Query, error) {
	if err := p.parsePrologue(); err != nil {
		return nil, err
	}

	var q *algebra.Query
	var err error
	switch {
	case p.isKeyword("SELECT"):
		var sq *selectQuery
		sq, err = p.parseSelect()
		if err == nil {
			var values *algebra.Values
			values, err = p.parseTrailingValues()
			if err == nil {
				var root algebra.TupleExpr
				var vars []string
				root, vars, err = p.assembleSelect(sq, values)
				q = &algebra.Query{Form: algebra.FormSelect, Root: root, Vars: vars}
			}
		}
	case p.isKeyword("ASK"):
		q, err = p.parseAsk()
	case p.isKeyword("CONSTRUCT"):
		q, err = p.parseConstruct()
	case p.isKeyword("DESCRIBE"):
		q, err = p.parseDescribe()
	default:
		return nil, p.errorf("expected SELECT, ASK, CONSTRUCT or DESCRIBE, found %s", p.peek())
	}
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, p.errorf("unexpected %s after query", p.peek())
	}
	q.Prefixes = p.prefixes
	q.Base = p.base
	return q, nil
}

func (p *parser) parsePrologue() error {
	for {
		switch {
		case p.acceptKeyword("BASE"):
			t := p.next()
			if t.kind != tokIRI {
				return p.errorf("expected IRI after BASE")
			}
			p.base = p.resolve(t.text)
		case p.acceptKeyword("PREFIX"):
			t := p.next()
			if t.kind != tokPName || !strings.HasSuffix(t.text, ":") {
				return p.errorf("expected prefix name after PREFIX")
			}
			iri := p.next()
			if iri.kind != tokIRI {
				return p.errorf("expected IRI in PREFIX declaration")
			}
			p.prefixes[strings.TrimSuffix(t.text, ":")] = p.resolve(iri.text)
		default:
			return nil
		}
	}
}

func (p *parser) resolve(iri string) string {
	if p.base == "" {
		return iri
	}
	u, err := url.Parse(iri)
	if err != nil || u.IsAbs() {
		return iri
	}
	b, err := url.Parse(p.base)
	if err != nil {
		return iri
	}
	return b.ResolveReference(u).String()
}

func (p *parser) expandPName(t token) (string, error) {
	prefix, local, _ := strings.Cut(t.text, ":")
	ns, ok := p.prefixes[prefix]
	if !ok {
		return "", &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("undeclared prefix %q", prefix)}
	}
	local = strings.NewReplacer(`\`, "").Replace(local)
	return ns + local, nil
}

func (p *parser) rejectDataset() error {
	if p.isKeyword("FROM") {
		return p.unsupported("FROM clause")
	}
	return nil
}

type selectItem struct {
	name string
	expr algebra.Expr
}

type selectQuery struct {
	distinct bool
	star     bool
	items    []selectItem
	where    algebra.TupleExpr
	mods     modifiers
}

type modifiers struct {
	groupBy []algebra.GroupKey
	having  []algebra.Expr
	order   []algebra.OrderKey
	offset  int64
	limit   int64
}

func (p *parser) parseSelect() (*selectQuery, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	sq := &selectQuery{}
	if p.acceptKeyword("DISTINCT") {
		sq.distinct = true
	} else {
		p.acceptKeyword("REDUCED")
	}
	switch {
	case p.acceptPunct("*"):
		sq.star = true
	default:
		for {
			t := p.peek()
			if t.kind == tokVar {
				p.next()
				sq.items = append(sq.items, selectItem{name: t.text})
				continue
			}
			if !p.isPunct("(") {
				break
			}
			p.next()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AS"); err != nil {
				return nil, err
			}
			v := p.next()
			if v.kind != tokVar {
				return nil, p.errorf("expected variable after AS")
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			sq.items = append(sq.items, selectItem{name: v.text, expr: e})
		}
		if len(sq.items) == 0 {
			return nil, p.errorf("expected projection, found %s", p.peek())
		}
	}
	if err := p.rejectDataset(); err != nil {
		return nil, err
	}
	p.acceptKeyword("WHERE")
	where, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	sq.where = where
	sq.mods, err = p.parseModifiers()
	if err != nil {
		return nil, err
	}
	return sq, nil
}

func (p *parser) parseModifiers() (modifiers, error) {
	m := modifiers{limit: -1}
	if p.isKeyword("GROUP") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return m, err
		}
		for {
			key, ok, err := p.parseGroupKey()
			if err != nil {
				return m, err
			}
			if !ok {
				break
			}
			m.groupBy = append(m.groupBy, key)
		}
		if len(m.groupBy) == 0 {
			return m, p.errorf("expected GROUP BY condition")
		}
	}
	if p.acceptKeyword("HAVING") {
		for {
			c, ok, err := p.parseConstraintOpt()
			if err != nil {
				return m, err
			}
			if !ok {
				break
			}
			m.having = append(m.having, c)
		}
		if len(m.having) == 0 {
			return m, p.errorf("expected HAVING condition")
		}
	}
	if p.isKeyword("ORDER") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return m, err
		}
		for {
			key, ok, err := p.parseOrderKey()
			if err != nil {
				return m, err
			}
			if !ok {
				break
			}
			m.order = append(m.order, key)
		}
		if len(m.order) == 0 {
			return m, p.errorf("expected ORDER BY condition")
		}
	}
	for p.isKeyword("LIMIT", "OFFSET") {
		kw := p.next().text
		t := p.next()
		if t.kind != tokInteger {
			return m, p.errorf("expected integer after %s", kw)
		}
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return m, p.errorf("bad %s value %q", kw, t.text)
		}
		if kw == "LIMIT" {
			m.limit = n
		} else {
			m.offset = n
		}
	}
	return m, nil
}

func (p *parser) parseGroupKey() (algebra.GroupKey, bool, error) {
	t := p.peek()
	switch {
	case t.kind == tokVar:
		p.next()
		return algebra.GroupKey{Name: t.text}, true, nil
	case p.isPunct("("):
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return algebra.GroupKey{}, false, err
		}
		name := ""
		if p.acceptKeyword("AS") {
			v := p.next()
			if v.kind != tokVar {
				return algebra.GroupKey{}, false, p.errorf("expected variable after AS")
			}
			name = v.text
		}
		if err := p.expectPunct(")"); err != nil {
			return algebra.GroupKey{}, false, err
		}
		if ve, ok := e.(*algebra.VarExpr); ok && name == "" {
			return algebra.GroupKey{Name: ve.Name}, true, nil
		}
		if name == "" {
			name = p.freshVar("group")
		}
		return algebra.GroupKey{Name: name, Expr: e}, true, nil
	case t.kind == tokKeyword && isBuiltin(t.text), t.kind == tokIRI, t.kind == tokPName:
		e, err := p.parsePrimary()
		if err != nil {
			return algebra.GroupKey{}, false, err
		}
		return algebra.GroupKey{Name: p.freshVar("group"), Expr: e}, true, nil
	}
	return algebra.GroupKey{}, false, nil
}

func (p *parser) parseOrderKey() (algebra.OrderKey, bool, error) {
	t := p.peek()
	switch {
	case p.isKeyword("ASC", "DESC"):
		desc := p.next().text == "DESC"
		if !p.isPunct("(") {
			return algebra.OrderKey{}, false, p.errorf("expected '(' after ASC/DESC")
		}
		e, err := p.parseBracketted()
		if err != nil {
			return algebra.OrderKey{}, false, err
		}
		return algebra.OrderKey{Expr: e, Descending: desc}, true, nil
	case t.kind == tokVar:
		p.next()
		return algebra.OrderKey{Expr: &algebra.VarExpr{Name: t.text}}, true, nil
	}
	c, ok, err := p.parseConstraintOpt()
	if err != nil || !ok {
		return algebra.OrderKey{}, ok, err
	}
	return algebra.OrderKey{Expr: c}, true, nil
}

// parseConstraintOpt parses a bracketted expression, built-in call or function
// call, reporting ok=false when none starts here.
func (p *parser) parseConstraintOpt() (algebra.Expr, bool, error) {
	t := p.peek()
	switch {
	case p.isPunct("("):
		e, err := p.parseBracketted()
		return e, err == nil, err
	case t.kind == tokKeyword && (isBuiltin(t.text) || isAggregate(t.text) || t.text == "NOT" || t.text == "EXISTS"):
		e, err := p.parsePrimary()
		return e, err == nil, err
	case t.kind == tokIRI || t.kind == tokPName:
		if !p.isPunctAt(1, "(") {
			return nil, false, nil
		}
		e, err := p.parsePrimary()
		return e, err == nil, err
	}
	return nil, false, nil
}

func (p *parser) isPunctAt(n int, s string) bool {
	t := p.peekAt(n)
	return t.kind == tokPunct && t.text == s
}

// assembleSelect applies grouping, aggregation and solution modifiers in the order
// of the SPARQL algebra translation.
func (p *parser) assembleSelect(sq *selectQuery, values *algebra.Values) (algebra.TupleExpr, []string, error) {
	var aggs []algebra.AggregateBinding
	extract := func(e algebra.Expr) algebra.Expr {
		return algebra.RewriteExpr(e, func(n algebra.Expr) algebra.Expr {
			switch n.(type) {
			case *algebra.Aggregate, *algebra.AggregateCall:
				name := p.freshVar("agg")
				aggs = append(aggs, algebra.AggregateBinding{Name: name, Expr: n})
				return &algebra.VarExpr{Name: name}
			}
			return n
		})
	}

	items := make([]selectItem, len(sq.items))
	for i, it := range sq.items {
		items[i] = selectItem{name: it.name, expr: extract(it.expr)}
	}
	having := make([]algebra.Expr, len(sq.mods.having))
	for i, h := range sq.mods.having {
		having[i] = extract(h)
	}
	order := make([]algebra.OrderKey, len(sq.mods.order))
	for i, k := range sq.mods.order {
		order[i] = algebra.OrderKey{Expr: extract(k.Expr), Descending: k.Descending}
	}

	root := sq.where
	grouped := len(sq.mods.groupBy) > 0 || len(aggs) > 0
	if grouped {
		if sq.star {
			return nil, nil, p.errorf("SELECT * is not allowed with GROUP BY or aggregates")
		}
		root = &algebra.Group{Arg: root, By: sq.mods.groupBy, Aggregates: aggs}
	}
	for _, h := range having {
		root = &algebra.Filter{Arg: root, Condition: h}
	}
	if values != nil {
		root = algebra.NewJoin(root, values)
	}
	for _, it := range items {
		if it.expr != nil {
			root = &algebra.Extension{Arg: root, Name: it.name, Expr: it.expr}
		}
	}
	if len(order) > 0 {
		root = &algebra.Order{Arg: root, Keys: order}
	}

	var vars []string
	if sq.star {
		vars = algebra.BindingNames(root, false)
	} else {
		for _, it := range items {
			vars = append(vars, it.name)
		}
	}
	root = &algebra.Projection{Arg: root, Vars: vars}
	if sq.distinct {
		root = &algebra.Distinct{Arg: root}
	}
	if sq.mods.offset > 0 || sq.mods.limit >= 0 {
		root = &algebra.Slice{Arg: root, Offset: sq.mods.offset, Limit: sq.mods.limit}
	}
	return root, vars, nil
}

func applyModifiers(root algebra.TupleExpr, m modifiers) algebra.TupleExpr {
	if len(m.order) > 0 {
		root = &algebra.Order{Arg: root, Keys: m.order}
	}
	if m.offset > 0 || m.limit >= 0 {
		root = &algebra.Slice{Arg: root, Offset: m.offset, Limit: m.limit}
	}
	return root
}

func (p *parser) parseTrailingValues() (*algebra.Values, error) {
	if !p.acceptKeyword("VALUES") {
		return nil, nil
	}
	return p.parseDataBlock()
}

func (p *parser) parseAsk() (*algebra.Query, error) {
	p.next()
	if err := p.rejectDataset(); err != nil {
		return nil, err
	}
	p.acceptKeyword("WHERE")
	where, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	mods, err := p.parseModifiers()
	if err != nil {
		return nil, err
	}
	values, err := p.parseTrailingValues()
	if err != nil {
		return nil, err
	}
	if values != nil {
		where = algebra.NewJoin(where, values)
	}
	return &algebra.Query{Form: algebra.FormAsk, Root: applyModifiers(where, mods)}, nil
}

func (p *parser) parseConstruct() (*algebra.Query, error) {
	p.next()
	var template []*algebra.StatementPattern
	var where algebra.TupleExpr

	if p.isPunct("{") {
		p.next()
		patterns, err := p.parseTriplesTemplate("}")
		if err != nil {
			return nil, err
		}
		template = patterns
		if err := p.rejectDataset(); err != nil {
			return nil, err
		}
		p.acceptKeyword("WHERE")
		where, err = p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
	} else {
		if err := p.rejectDataset(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("WHERE"); err != nil {
			return nil, err
		}
		if err := p.expectPunct("{"); err != nil {
			return nil, err
		}
		patterns, err := p.parseTriplesTemplate("}")
		if err != nil {
			return nil, err
		}
		template = patterns
		args := make([]algebra.TupleExpr, len(patterns))
		for i, sp := range patterns {
			args[i] = sp
		}
		where = algebra.NewJoin(args...)
	}
	mods, err := p.parseModifiers()
	if err != nil {
		return nil, err
	}
	values, err := p.parseTrailingValues()
	if err != nil {
		return nil, err
	}
	if values != nil {
		where = algebra.NewJoin(where, values)
	}
	return &algebra.Query{Form: algebra.FormConstruct, Root: applyModifiers(where, mods), Template: template}, nil
}

func (p *parser) parseDescribe() (*algebra.Query, error) {
	p.next()
	var resources []algebra.Var
	if !p.acceptPunct("*") {
		for {
			t := p.peek()
			if t.kind == tokVar {
				p.next()
				resources = append(resources, algebra.NewVar(t.text))
				continue
			}
			if t.kind == tokIRI || t.kind == tokPName {
				iri, err := p.parseIRI()
				if err != nil {
					return nil, err
				}
				resources = append(resources, algebra.NewConst(rdf.NewIRI(iri)))
				continue
			}
			break
		}
		if len(resources) == 0 {
			return nil, p.errorf("expected DESCRIBE target")
		}
	}
	if err := p.rejectDataset(); err != nil {
		return nil, err
	}
	var where algebra.TupleExpr = &algebra.Singleton{}
	if p.acceptKeyword("WHERE") || p.isPunct("{") {
		var err error
		where, err = p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
	}
	if resources == nil {
		for _, name := range algebra.BindingNames(where, false) {
			resources = append(resources, algebra.NewVar(name))
		}
	}
	mods, err := p.parseModifiers()
	if err != nil {
		return nil, err
	}
	values, err := p.parseTrailingValues()
	if err != nil {
		return nil, err
	}
	if values != nil {
		where = algebra.NewJoin(where, values)
	}
	return &algebra.Query{Form: algebra.FormDescribe, Root: applyModifiers(where, mods), Describe: resources}, nil
}

func (p *parser) parseGroupGraphPattern() (algebra.TupleExpr, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	if p.isKeyword("SELECT") {
		sq, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		values, err := p.parseTrailingValues()
		if err != nil {
			return nil, err
		}
		root, _, err := p.assembleSelect(sq, values)
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("}"); err != nil {
			return nil, err
		}
		return root, nil
	}

	var g algebra.TupleExpr = &algebra.Singleton{}
	var filters []algebra.Expr
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			return nil, p.errorf("unterminated group pattern")
		case p.acceptPunct("}"):
			if len(filters) > 0 {
				g = &algebra.Filter{Arg: g, Condition: conjunction(filters)}
			}
			return g, nil
		case p.acceptPunct("."):
		case p.acceptKeyword("OPTIONAL"):
			right, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			if f, ok := right.(*algebra.Filter); ok {
				g = &algebra.LeftJoin{Left: g, Right: f.Arg, Condition: f.Condition}
			} else {
				g = &algebra.LeftJoin{Left: g, Right: right}
			}
		case p.acceptKeyword("MINUS"):
			right, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			g = &algebra.Minus{Left: g, Right: right}
		case p.isPunct("{"):
			u, err := p.parseGroupOrUnion()
			if err != nil {
				return nil, err
			}
			g = algebra.NewJoin(g, u)
		case p.acceptKeyword("FILTER"):
			c, ok, err := p.parseConstraintOpt()
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, p.errorf("expected FILTER constraint, found %s", p.peek())
			}
			filters = append(filters, c)
		case p.acceptKeyword("BIND"):
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AS"); err != nil {
				return nil, err
			}
			v := p.next()
			if v.kind != tokVar {
				return nil, p.errorf("expected variable after AS")
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			g = &algebra.Extension{Arg: g, Name: v.text, Expr: e}
		case p.acceptKeyword("VALUES"):
			values, err := p.parseDataBlock()
			if err != nil {
				return nil, err
			}
			g = algebra.NewJoin(g, values)
		case p.acceptKeyword("SERVICE"):
			silent := p.acceptKeyword("SILENT")
			ref, err := p.parseVarOrIRI()
			if err != nil {
				return nil, err
			}
			arg, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			g = algebra.NewJoin(g, &algebra.Service{Ref: ref, Arg: arg, Silent: silent})
		case p.isKeyword("GRAPH"):
			return nil, p.unsupported("GRAPH pattern")
		default:
			patterns, err := p.parseTriplesSameSubject()
			if err != nil {
				return nil, err
			}
			args := make([]algebra.TupleExpr, 0, len(patterns)+1)
			args = append(args, g)
			for _, sp := range patterns {
				args = append(args, sp)
			}
			g = algebra.NewJoin(args...)
			if !p.acceptPunct(".") && !p.isPunct("}") && !p.startsGraphPatternNotTriples() {
				return nil, p.errorf("expected '.' or '}', found %s", p.peek())
			}
		}
	}
}

func (p *parser) startsGraphPatternNotTriples() bool {
	return p.isPunct("{") || p.isKeyword("OPTIONAL", "MINUS", "FILTER", "BIND", "VALUES", "SERVICE", "GRAPH")
}

func conjunction(exprs []algebra.Expr) algebra.Expr {
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = &algebra.And{Left: out, Right: e}
	}
	return out
}

func (p *parser) parseGroupOrUnion() (algebra.TupleExpr, error) {
	left, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("UNION") {
		right, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		left = &algebra.Union{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseDataBlock() (*algebra.Values, error) {
	values := &algebra.Values{}
	single := false
	switch t := p.peek(); {
	case t.kind == tokVar:
		p.next()
		values.Vars = []string{t.text}
		single = true
	case p.acceptPunct("("):
		for {
			v := p.peek()
			if v.kind != tokVar {
				break
			}
			p.next()
			values.Vars = append(values.Vars, v.text)
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	default:
		return nil, p.errorf("expected variable list after VALUES")
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	for !p.acceptPunct("}") {
		if single {
			term, err := p.parseDataValue()
			if err != nil {
				return nil, err
			}
			values.Rows = append(values.Rows, []rdf.Term{term})
			continue
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		row := make([]rdf.Term, 0, len(values.Vars))
		for !p.acceptPunct(")") {
			term, err := p.parseDataValue()
			if err != nil {
				return nil, err
			}
			row = append(row, term)
		}
		if len(row) != len(values.Vars) {
			return nil, p.errorf("VALUES row has %d values, expected %d", len(row), len(values.Vars))
		}
		values.Rows = append(values.Rows, row)
	}
	return values, nil
}

func (p *parser) parseDataValue() (rdf.Term, error) {
	if p.acceptKeyword("UNDEF") {
		return rdf.Term{}, nil
	}
	v, err := p.parseVarOrTerm()
	if err != nil {
		return rdf.Term{}, err
	}
	if !v.IsConst() || v.Value.IsBlank() {
		return rdf.Term{}, p.errorf("VALUES accepts only IRIs, literals and UNDEF")
	}
	return v.Value, nil
}

// parseTriplesTemplate parses triples up to the closing punctuation, used by
// CONSTRUCT templates.
func (p *parser) parseTriplesTemplate(end string) ([]*algebra.StatementPattern, error) {
	var out []*algebra.StatementPattern
	for !p.acceptPunct(end) {
		if p.acceptPunct(".") {
			continue
		}
		if p.peek().kind == tokEOF {
			return nil, p.errorf("unterminated template")
		}
		patterns, err := p.parseTriplesSameSubject()
		if err != nil {
			return nil, err
		}
		out = append(out, patterns...)
	}
	return out, nil
}

func (p *parser) parseTriplesSameSubject() ([]*algebra.StatementPattern, error) {
	var out []*algebra.StatementPattern
	if p.isPunct("[") {
		subject, err := p.parseBlankNodePropertyList(&out)
		if err != nil {
			return nil, err
		}
		if p.startsVerb() {
			if err := p.parsePropertyList(subject, &out); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	subject, err := p.parseVarOrTerm()
	if err != nil {
		return nil, err
	}
	if subject.IsConst() && subject.Value.IsLiteral() {
		return nil, p.errorf("literal in subject position")
	}
	if err := p.parsePropertyList(subject, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *parser) startsVerb() bool {
	t := p.peek()
	return t.kind == tokVar || t.kind == tokIRI || t.kind == tokPName || (t.kind == tokKeyword && t.text == "a")
}

func (p *parser) parsePropertyList(subject algebra.Var, out *[]*algebra.StatementPattern) error {
	for {
		verb, err := p.parseVerb()
		if err != nil {
			return err
		}
		for {
			object, err := p.parseObject(out)
			if err != nil {
				return err
			}
			*out = append(*out, &algebra.StatementPattern{Subject: subject, Predicate: verb, Object: object})
			if !p.acceptPunct(",") {
				break
			}
		}
		if !p.acceptPunct(";") {
			return nil
		}
		for p.acceptPunct(";") {
		}
		if !p.startsVerb() {
			return nil
		}
	}
}

func (p *parser) parseVerb() (algebra.Var, error) {
	t := p.peek()
	if t.kind == tokKeyword && t.text == "a" {
		p.next()
		return algebra.NewConst(rdf.NewIRI(rdf.RDFType)), nil
	}
	switch t.kind {
	case tokVar:
		p.next()
		return algebra.NewVar(t.text), nil
	case tokIRI, tokPName:
		iri, err := p.parseIRI()
		if err != nil {
			return algebra.Var{}, err
		}
		return algebra.NewConst(rdf.NewIRI(iri)), nil
	}
	if p.isPunct("^") || p.isPunct("/") || p.isPunct("|") {
		return algebra.Var{}, p.unsupported("property path")
	}
	return algebra.Var{}, p.errorf("expected predicate, found %s", t)
}

func (p *parser) parseObject(out *[]*algebra.StatementPattern) (algebra.Var, error) {
	if p.isPunct("[") {
		return p.parseBlankNodePropertyList(out)
	}
	v, err := p.parseVarOrTerm()
	if err != nil {
		return algebra.Var{}, err
	}
	if p.isPunct("/") || p.isPunct("|") || p.isPunct("*") || p.isPunct("+") {
		return algebra.Var{}, p.unsupported("property path")
	}
	return v, nil
}

func (p *parser) parseBlankNodePropertyList(out *[]*algebra.StatementPattern) (algebra.Var, error) {
	if err := p.expectPunct("["); err != nil {
		return algebra.Var{}, err
	}
	subject := p.anonVar()
	if p.acceptPunct("]") {
		return subject, nil
	}
	if err := p.parsePropertyList(subject, out); err != nil {
		return algebra.Var{}, err
	}
	if err := p.expectPunct("]"); err != nil {
		return algebra.Var{}, err
	}
	return subject, nil
}

func (p *parser) anonVar() algebra.Var {
	p.anon++
	return algebra.Var{Name: fmt.Sprintf("__anon_%d", p.anon), Anonymous: true}
}

func (p *parser) blankVar(label string) algebra.Var {
	name, ok := p.blanks[label]
	if !ok {
		name = "__bnode_" + label
		p.blanks[label] = name
	}
	return algebra.Var{Name: name, Anonymous: true}
}

func (p *parser) parseVarOrIRI() (algebra.Var, error) {
	t := p.peek()
	if t.kind == tokVar {
		p.next()
		return algebra.NewVar(t.text), nil
	}
	iri, err := p.parseIRI()
	if err != nil {
		return algebra.Var{}, err
	}
	return algebra.NewConst(rdf.NewIRI(iri)), nil
}

func (p *parser) parseIRI() (string, error) {
	t := p.next()
	switch t.kind {
	case tokIRI:
		return p.resolve(t.text), nil
	case tokPName:
		return p.expandPName(t)
	}
	return "", &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("expected IRI, found %s", t)}
}

func (p *parser) parseVarOrTerm() (algebra.Var, error) {
	t := p.peek()
	switch t.kind {
	case tokVar:
		p.next()
		return algebra.NewVar(t.text), nil
	case tokIRI, tokPName:
		iri, err := p.parseIRI()
		if err != nil {
			return algebra.Var{}, err
		}
		return algebra.NewConst(rdf.NewIRI(iri)), nil
	case tokBlank:
		p.next()
		return p.blankVar(t.text), nil
	case tokString:
		lit, err := p.parseRDFLiteral()
		if err != nil {
			return algebra.Var{}, err
		}
		return algebra.NewConst(lit), nil
	case tokInteger, tokDecimal, tokDouble:
		p.next()
		return algebra.NewConst(numericLiteral(t, "")), nil
	case tokKeyword:
		switch t.text {
		case "TRUE", "FALSE":
			p.next()
			return algebra.NewConst(rdf.NewBoolean(t.text == "TRUE")), nil
		}
	case tokPunct:
		switch t.text {
		case "+", "-":
			n := p.peekAt(1)
			if n.kind == tokInteger || n.kind == tokDecimal || n.kind == tokDouble {
				p.next()
				p.next()
				return algebra.NewConst(numericLiteral(n, t.text)), nil
			}
		case "[":
			if p.isPunctAt(1, "]") {
				p.next()
				p.next()
				return p.anonVar(), nil
			}
		case "(":
			return algebra.Var{}, p.unsupported("RDF collection")
		}
	}
	return algebra.Var{}, p.errorf("expected variable or term, found %s", t)
}

func numericLiteral(t token, sign string) rdf.Term {
	lex := t.text
	if sign == "-" {
		lex = "-" + lex
	}
	switch t.kind {
	case tokDecimal:
		return rdf.NewLiteral(lex, rdf.XSDDecimal)
	case tokDouble:
		return rdf.NewLiteral(lex, rdf.XSDDouble)
	default:
		return rdf.NewLiteral(lex, rdf.XSDInteger)
	}
}

func (p *parser) parseRDFLiteral() (rdf.Term, error) {
	t := p.next()
	switch {
	case p.peek().kind == tokLangTag:
		return rdf.NewLangLiteral(t.text, p.next().text), nil
	case p.acceptPunct("^^"):
		dt, err := p.parseIRI()
		if err != nil {
			return rdf.Term{}, err
		}
		return rdf.NewLiteral(t.text, dt), nil
	}
	return rdf.NewString(t.text), nil
}
