// Package ntriples reads and writes the line based N-Triples format.
package ntriples

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ephedra/ephedra/pkg/rdf"
)

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("n-triples syntax error")

// Reader decodes triples one line at a time.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &Reader{scanner: s}
}

// Read returns the next triple or io.EOF.
func (r *Reader) Read() (rdf.Triple, error) {
	for r.scanner.Scan() {
		r.line++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		t, err := ParseLine(line)
		if err != nil {
			return rdf.Triple{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return t, nil
	}
	if err := r.scanner.Err(); err != nil {
		return rdf.Triple{}, err
	}
	return rdf.Triple{}, io.EOF
}

// ReadAll decodes every remaining triple.
func (r *Reader) ReadAll() ([]rdf.Triple, error) {
	var out []rdf.Triple
	for {
		t, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
}

// ParseLine parses a single N-Triples statement.
func ParseLine(line string) (rdf.Triple, error) {
	p := &lineParser{in: line}
	s, err := p.term()
	if err != nil {
		return rdf.Triple{}, err
	}
	if s.IsLiteral() {
		return rdf.Triple{}, fmt.Errorf("%w: literal in subject position", ErrSyntax)
	}
	pr, err := p.term()
	if err != nil {
		return rdf.Triple{}, err
	}
	if !pr.IsIRI() {
		return rdf.Triple{}, fmt.Errorf("%w: predicate must be an IRI", ErrSyntax)
	}
	o, err := p.term()
	if err != nil {
		return rdf.Triple{}, err
	}
	p.skipSpace()
	if !strings.HasPrefix(p.in[p.pos:], ".") {
		return rdf.Triple{}, fmt.Errorf("%w: expected '.' at column %d", ErrSyntax, p.pos+1)
	}
	p.pos++
	p.skipSpace()
	if p.pos < len(p.in) && p.in[p.pos] != '#' {
		return rdf.Triple{}, fmt.Errorf("%w: trailing content at column %d", ErrSyntax, p.pos+1)
	}
	return rdf.NewTriple(s, pr, o), nil
}

type lineParser struct {
	in  string
	pos int
}

func (p *lineParser) skipSpace() {
	for p.pos < len(p.in) && (p.in[p.pos] == ' ' || p.in[p.pos] == '\t') {
		p.pos++
	}
}

func (p *lineParser) term() (rdf.Term, error) {
	p.skipSpace()
	if p.pos >= len(p.in) {
		return rdf.Term{}, fmt.Errorf("%w: unexpected end of line", ErrSyntax)
	}
	switch p.in[p.pos] {
	case '<':
		iri, err := p.iri()
		if err != nil {
			return rdf.Term{}, err
		}
		return rdf.NewIRI(iri), nil
	case '_':
		if !strings.HasPrefix(p.in[p.pos:], "_:") {
			return rdf.Term{}, fmt.Errorf("%w: bad blank node at column %d", ErrSyntax, p.pos+1)
		}
		start := p.pos + 2
		end := start
		for end < len(p.in) && !strings.ContainsRune(" \t.", rune(p.in[end])) {
			end++
		}
		// a trailing '.' belongs to the label only when more label characters follow
		for end < len(p.in) && p.in[end] == '.' && end+1 < len(p.in) && !strings.ContainsRune(" \t", rune(p.in[end+1])) {
			end++
			for end < len(p.in) && !strings.ContainsRune(" \t.", rune(p.in[end])) {
				end++
			}
		}
		if end == start {
			return rdf.Term{}, fmt.Errorf("%w: empty blank node label", ErrSyntax)
		}
		p.pos = end
		return rdf.NewBlank(p.in[start:end]), nil
	case '"':
		return p.literal()
	default:
		return rdf.Term{}, fmt.Errorf("%w: unexpected %q at column %d", ErrSyntax, p.in[p.pos], p.pos+1)
	}
}

func (p *lineParser) iri() (string, error) {
	end := strings.IndexByte(p.in[p.pos:], '>')
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated IRI", ErrSyntax)
	}
	raw := p.in[p.pos+1 : p.pos+end]
	p.pos += end + 1
	return Unescape(raw)
}

func (p *lineParser) literal() (rdf.Term, error) {
	p.pos++ // opening quote
	var b strings.Builder
	closed := false
	for p.pos < len(p.in) {
		c := p.in[p.pos]
		if c == '"' {
			p.pos++
			closed = true
			break
		}
		if c == '\\' {
			if p.pos+1 >= len(p.in) {
				return rdf.Term{}, fmt.Errorf("%w: dangling escape", ErrSyntax)
			}
			n, err := unescapeAt(p.in, p.pos, &b)
			if err != nil {
				return rdf.Term{}, err
			}
			p.pos += n
			continue
		}
		b.WriteByte(c)
		p.pos++
	}
	if !closed {
		return rdf.Term{}, fmt.Errorf("%w: unterminated literal", ErrSyntax)
	}
	lex := b.String()
	switch {
	case strings.HasPrefix(p.in[p.pos:], "^^"):
		p.pos += 2
		if p.pos >= len(p.in) || p.in[p.pos] != '<' {
			return rdf.Term{}, fmt.Errorf("%w: expected datatype IRI", ErrSyntax)
		}
		dt, err := p.iri()
		if err != nil {
			return rdf.Term{}, err
		}
		return rdf.NewLiteral(lex, dt), nil
	case strings.HasPrefix(p.in[p.pos:], "@"):
		start := p.pos + 1
		end := start
		for end < len(p.in) && (isAlnum(p.in[end]) || p.in[end] == '-') {
			end++
		}
		if end == start {
			return rdf.Term{}, fmt.Errorf("%w: empty language tag", ErrSyntax)
		}
		p.pos = end
		return rdf.NewLangLiteral(lex, p.in[start:end]), nil
	}
	return rdf.NewString(lex), nil
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Unescape resolves ECHAR and UCHAR escapes.
func Unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			i++
			continue
		}
		n, err := unescapeAt(s, i, &b)
		if err != nil {
			return "", err
		}
		i += n
	}
	return b.String(), nil
}

func unescapeAt(s string, i int, b *strings.Builder) (int, error) {
	if i+1 >= len(s) {
		return 0, fmt.Errorf("%w: dangling escape", ErrSyntax)
	}
	switch s[i+1] {
	case 't':
		b.WriteByte('\t')
	case 'n':
		b.WriteByte('\n')
	case 'r':
		b.WriteByte('\r')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case '"', '\'', '\\':
		b.WriteByte(s[i+1])
	case 'u', 'U':
		width := 4
		if s[i+1] == 'U' {
			width = 8
		}
		if i+2+width > len(s) {
			return 0, fmt.Errorf("%w: short unicode escape", ErrSyntax)
		}
		cp, err := strconv.ParseUint(s[i+2:i+2+width], 16, 32)
		if err != nil || !utf8.ValidRune(rune(cp)) {
			return 0, fmt.Errorf("%w: bad unicode escape", ErrSyntax)
		}
		b.WriteRune(rune(cp))
		return 2 + width, nil
	default:
		return 0, fmt.Errorf("%w: unknown escape \\%c", ErrSyntax, s[i+1])
	}
	return 2, nil
}
