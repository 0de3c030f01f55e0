// Package rdf holds the RDF data model shared by the parser, the evaluator and
// every member repository: terms, triples and solutions (binding sets).
package rdf

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Kind discriminates the three RDF term kinds. The zero Kind marks an unbound term.
type Kind uint8

const (
	KindUnbound Kind = iota
	KindIRI
	KindBlank
	KindLiteral
)

func (k Kind) String() string {
	switch k {
	case KindIRI:
		return "iri"
	case KindBlank:
		return "bnode"
	case KindLiteral:
		return "literal"
	default:
		return "unbound"
	}
}

// Term is an RDF term. It is a comparable value type: two terms are the same RDF
// term iff they are ==. The zero Term is "unbound".
type Term struct {
	Kind     Kind
	Value    string
	Datatype string
	Lang     string
}

// NewIRI returns an IRI term.
func NewIRI(iri string) Term {
	return Term{Kind: KindIRI, Value: iri}
}

// NewBlank returns a blank node with the given label (without the "_:" prefix).
func NewBlank(label string) Term {
	return Term{Kind: KindBlank, Value: label}
}

// NewLiteral returns a typed literal. An empty datatype means xsd:string.
func NewLiteral(lexical, datatype string) Term {
	if datatype == "" {
		datatype = XSDString
	}
	return Term{Kind: KindLiteral, Value: lexical, Datatype: datatype}
}

// NewLangLiteral returns a language tagged string. Tags are lower-cased.
func NewLangLiteral(lexical, lang string) Term {
	return Term{Kind: KindLiteral, Value: lexical, Datatype: RDFLangString, Lang: strings.ToLower(lang)}
}

func NewString(s string) Term {
	return NewLiteral(s, XSDString)
}

func NewInteger(i int64) Term {
	return NewLiteral(strconv.FormatInt(i, 10), XSDInteger)
}

// NewDecimal returns the canonical xsd:decimal literal of r.
func NewDecimal(r *big.Rat) Term {
	return NewLiteral(FormatDecimal(r), XSDDecimal)
}

func NewDouble(f float64) Term {
	return NewLiteral(formatDouble(f), XSDDouble)
}

func NewBoolean(b bool) Term {
	return NewLiteral(strconv.FormatBool(b), XSDBoolean)
}

func (t Term) IsBound() bool   { return t.Kind != KindUnbound }
func (t Term) IsIRI() bool     { return t.Kind == KindIRI }
func (t Term) IsBlank() bool   { return t.Kind == KindBlank }
func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

// IsNumeric reports whether t is a literal of one of the supported numeric datatypes.
func (t Term) IsNumeric() bool {
	return t.Kind == KindLiteral && IsNumericDatatype(t.Datatype)
}

// IsPlainString reports whether t is a simple literal or an xsd:string.
func (t Term) IsPlainString() bool {
	return t.Kind == KindLiteral && t.Datatype == XSDString
}

// String renders the term in N-Triples syntax.
func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + escapeIRI(t.Value) + ">"
	case KindBlank:
		return "_:" + t.Value
	case KindLiteral:
		lex := `"` + EscapeString(t.Value) + `"`
		switch {
		case t.Lang != "":
			return lex + "@" + t.Lang
		case t.Datatype == "" || t.Datatype == XSDString:
			return lex
		default:
			return lex + "^^<" + escapeIRI(t.Datatype) + ">"
		}
	default:
		return "UNDEF"
	}
}

// GoString helps test failure output.
func (t Term) GoString() string {
	return fmt.Sprintf("rdf.Term(%s)", t.String())
}

// EscapeString escapes a literal lexical form for N-Triples and SPARQL.
func EscapeString(s string) string {
	if !strings.ContainsAny(s, "\\\"\n\r\t") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func escapeIRI(s string) string {
	if !strings.ContainsAny(s, "<>\"{}|^`\\ ") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune("<>\"{}|^`\\ ", r) {
			fmt.Fprintf(&b, "\\u%04X", r)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Triple is an RDF statement.
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

func NewTriple(s, p, o Term) Triple {
	return Triple{Subject: s, Predicate: p, Object: o}
}

// String renders the triple as one N-Triples line without the trailing newline.
func (t Triple) String() string {
	return t.Subject.String() + " " + t.Predicate.String() + " " + t.Object.String() + " ."
}

// Matches reports whether t matches the pattern; unbound pattern positions match anything.
func (t Triple) Matches(s, p, o Term) bool {
	return (!s.IsBound() || s == t.Subject) &&
		(!p.IsBound() || p == t.Predicate) &&
		(!o.IsBound() || o == t.Object)
}
