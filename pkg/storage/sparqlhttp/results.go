package sparqlhttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"github.com/ephedra/ephedra/pkg/rdf"
)

const (
	ContentTypeResultsJSON = "application/sparql-results+json"
	ContentTypeNTriples    = "application/n-triples"
	ContentTypeQuery       = "application/sparql-query"
	ContentTypeForm        = "application/x-www-form-urlencoded"
)

// ErrMalformedResults is returned when a response body is not a valid result document.
var ErrMalformedResults = errors.New("malformed query results")

// DecodeTerm parses one RDF term of the SPARQL 1.1 JSON results format.
func DecodeTerm(v gjson.Result) (rdf.Term, error) {
	value := v.Get("value")
	if !value.Exists() {
		return rdf.Term{}, fmt.Errorf("%w: term without value", ErrMalformedResults)
	}
	switch v.Get("type").String() {
	case "uri":
		return rdf.NewIRI(value.String()), nil
	case "bnode":
		return rdf.NewBlank(value.String()), nil
	case "literal", "typed-literal":
		if lang := v.Get(`xml\:lang`); lang.Exists() && lang.String() != "" {
			return rdf.NewLangLiteral(value.String(), lang.String()), nil
		}
		return rdf.NewLiteral(value.String(), v.Get("datatype").String()), nil
	default:
		return rdf.Term{}, fmt.Errorf("%w: unknown term type %q", ErrMalformedResults, v.Get("type").String())
	}
}

// SelectResults is a decoded SELECT result document.
type SelectResults struct {
	Vars      []string
	Solutions []rdf.Solution
}

// DecodeSelect parses a SELECT result document.
func DecodeSelect(body []byte) (*SelectResults, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedResults)
	}
	doc := gjson.ParseBytes(body)
	bindings := doc.Get("results.bindings")
	if !bindings.IsArray() {
		return nil, fmt.Errorf("%w: missing results.bindings", ErrMalformedResults)
	}

	out := &SelectResults{}
	for _, v := range doc.Get("head.vars").Array() {
		out.Vars = append(out.Vars, v.String())
	}

	var decodeErr error
	bindings.ForEach(func(_, row gjson.Result) bool {
		s := rdf.Solution{}
		row.ForEach(func(name, term gjson.Result) bool {
			t, err := DecodeTerm(term)
			if err != nil {
				decodeErr = fmt.Errorf("binding %q: %w", name.String(), err)
				return false
			}
			s[name.String()] = t
			return true
		})
		if decodeErr != nil {
			return false
		}
		out.Solutions = append(out.Solutions, s)
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return out, nil
}

// DecodeBoolean parses an ASK result document.
func DecodeBoolean(body []byte) (bool, error) {
	b := gjson.GetBytes(body, "boolean")
	if !b.Exists() || (b.Type != gjson.True && b.Type != gjson.False) {
		return false, fmt.Errorf("%w: missing boolean", ErrMalformedResults)
	}
	return b.Bool(), nil
}

type jsonTerm struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	Lang     string `json:"xml:lang,omitempty"`
}

func encodeTerm(t rdf.Term) jsonTerm {
	switch {
	case t.IsIRI():
		return jsonTerm{Type: "uri", Value: t.Value}
	case t.IsBlank():
		return jsonTerm{Type: "bnode", Value: t.Value}
	case t.Lang != "":
		return jsonTerm{Type: "literal", Value: t.Value, Lang: t.Lang}
	case t.Datatype == rdf.XSDString || t.Datatype == "":
		return jsonTerm{Type: "literal", Value: t.Value}
	default:
		return jsonTerm{Type: "literal", Value: t.Value, Datatype: t.Datatype}
	}
}

type selectDocument struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []map[string]jsonTerm `json:"bindings"`
	} `json:"results"`
}

// EncodeSelect writes a SELECT result document.
func EncodeSelect(w io.Writer, vars []string, solutions []rdf.Solution) error {
	var doc selectDocument
	doc.Head.Vars = vars
	if doc.Head.Vars == nil {
		doc.Head.Vars = []string{}
	}
	doc.Results.Bindings = make([]map[string]jsonTerm, 0, len(solutions))
	for _, s := range solutions {
		row := make(map[string]jsonTerm, len(s))
		for name, t := range s {
			row[name] = encodeTerm(t)
		}
		doc.Results.Bindings = append(doc.Results.Bindings, row)
	}
	return json.NewEncoder(w).Encode(doc)
}

// EncodeBoolean writes an ASK result document.
func EncodeBoolean(w io.Writer, b bool) error {
	return json.NewEncoder(w).Encode(struct {
		Head    struct{} `json:"head"`
		Boolean bool     `json:"boolean"`
	}{Boolean: b})
}
