package rdf

import (
	"maps"
	"slices"
	"strings"
)

// Solution is one set of variable bindings. Solutions are treated as immutable once
// produced: every operation that changes bindings returns a new Solution.
type Solution map[string]Term

// NewSolution builds a solution from alternating name/term pairs.
func NewSolution(pairs ...any) Solution {
	s := make(Solution, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		name, _ := pairs[i].(string)
		term, _ := pairs[i+1].(Term)
		if name != "" && term.IsBound() {
			s[name] = term
		}
	}
	return s
}

// Get returns the binding of name, or the unbound term.
func (s Solution) Get(name string) Term {
	return s[name]
}

// Has reports whether name is bound.
func (s Solution) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// With returns a copy of s with name bound to t. Binding the unbound term removes name.
func (s Solution) With(name string, t Term) Solution {
	out := make(Solution, len(s)+1)
	maps.Copy(out, s)
	if t.IsBound() {
		out[name] = t
	} else {
		delete(out, name)
	}
	return out
}

// Compatible reports whether s and o agree on every variable both bind.
func (s Solution) Compatible(o Solution) bool {
	small, large := s, o
	if len(small) > len(large) {
		small, large = large, small
	}
	for k, v := range small {
		if w, ok := large[k]; ok && w != v {
			return false
		}
	}
	return true
}

// Merge returns the union of two compatible solutions; ok is false when they conflict.
func (s Solution) Merge(o Solution) (Solution, bool) {
	if len(o) == 0 {
		return s, true
	}
	if len(s) == 0 {
		return o, true
	}
	out := make(Solution, len(s)+len(o))
	maps.Copy(out, s)
	for k, v := range o {
		if w, ok := out[k]; ok && w != v {
			return nil, false
		}
		out[k] = v
	}
	return out, true
}

// Project keeps only the given variables.
func (s Solution) Project(names []string) Solution {
	out := make(Solution, len(names))
	for _, n := range names {
		if t, ok := s[n]; ok {
			out[n] = t
		}
	}
	return out
}

// Names returns the bound variable names in sorted order.
func (s Solution) Names() []string {
	return slices.Sorted(maps.Keys(s))
}

// Equal reports whether both solutions bind exactly the same variables to the same terms.
func (s Solution) Equal(o Solution) bool {
	return maps.Equal(s, o)
}

// Key renders the bindings of names into a string usable as a map key. Solutions
// with the same bindings for names produce the same key.
func (s Solution) Key(names []string) string {
	var b strings.Builder
	for _, n := range names {
		b.WriteString(s[n].String())
		b.WriteByte(0)
	}
	return b.String()
}

// String renders the solution deterministically, mostly for tests and logs.
func (s Solution) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, n := range s.Names() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?" + n + "=" + s[n].String())
	}
	b.WriteByte('}')
	return b.String()
}
