package sparql

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIRI
	tokPName
	tokBlank
	tokVar
	tokString
	tokLangTag
	tokInteger
	tokDecimal
	tokDouble
	tokKeyword
	tokPunct
)

type token struct {
	kind tokenKind
	// text is the decoded value: IRI without brackets, variable name without
	// sigil, unescaped string, upper-cased keyword, or punctuation.
	text string
	pos  Position
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of query"
	case tokIRI:
		return "<" + t.text + ">"
	case tokVar:
		return "?" + t.text
	case tokString:
		return fmt.Sprintf("%q", t.text)
	default:
		return t.text
	}
}

// Position locates a token in the query text.
type Position struct {
	Offset int
	Line   int
	Column int
}

type lexer struct {
	in   string
	pos  int
	line int
	col  int
}

func newLexer(in string) *lexer {
	return &lexer{in: in, line: 1, col: 1}
}

func (l *lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.pos < len(l.in); i++ {
		if l.in[l.pos] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.pos++
	}
}

func (l *lexer) errorf(pos Position, format string, args ...any) error {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.in) {
		c := l.in[l.pos]
		switch {
		case c == '#':
			for l.pos < len(l.in) && l.in[l.pos] != '\n' {
				l.advance(1)
			}
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance(1)
		default:
			return
		}
	}
}

// tokenize splits the whole input into tokens.
func (l *lexer) tokenize() ([]token, error) {
	var out []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.kind == tokEOF {
			return out, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	start := l.position()
	if l.pos >= len(l.in) {
		return token{kind: tokEOF, pos: start}, nil
	}
	rest := l.in[l.pos:]
	c := rest[0]

	switch {
	case c == '<':
		if n, ok := scanIRIRef(rest); ok {
			iri, err := unescapeIRI(rest[1 : n-1])
			if err != nil {
				return token{}, l.errorf(start, "%v", err)
			}
			l.advance(n)
			return token{kind: tokIRI, text: iri, pos: start}, nil
		}
		if strings.HasPrefix(rest, "<=") {
			l.advance(2)
			return token{kind: tokPunct, text: "<=", pos: start}, nil
		}
		l.advance(1)
		return token{kind: tokPunct, text: "<", pos: start}, nil
	case c == '?' || c == '$':
		n := scanVarName(rest[1:])
		if n == 0 {
			return token{}, l.errorf(start, "empty variable name")
		}
		l.advance(1 + n)
		return token{kind: tokVar, text: rest[1 : 1+n], pos: start}, nil
	case c == '"' || c == '\'':
		return l.stringLiteral(start)
	case c == '@':
		n := 1
		for n < len(rest) && (isASCIIAlnum(rest[n]) || rest[n] == '-') {
			n++
		}
		if n == 1 {
			return token{}, l.errorf(start, "empty language tag")
		}
		l.advance(n)
		return token{kind: tokLangTag, text: rest[1:n], pos: start}, nil
	case c == '_' && strings.HasPrefix(rest, "_:"):
		n := scanName(rest[2:])
		if n == 0 {
			return token{}, l.errorf(start, "empty blank node label")
		}
		l.advance(2 + n)
		return token{kind: tokBlank, text: rest[2 : 2+n], pos: start}, nil
	case c >= '0' && c <= '9' || (c == '.' && len(rest) > 1 && rest[1] >= '0' && rest[1] <= '9'):
		return l.number(start)
	}

	for _, p := range []string{"^^", "&&", "||", "!=", ">=", "<=", "{", "}", "(", ")", "[", "]", ".", ",", ";", "*", "=", "<", ">", "!", "+", "-", "/", "|", "^"} {
		if strings.HasPrefix(rest, p) {
			l.advance(len(p))
			return token{kind: tokPunct, text: p, pos: start}, nil
		}
	}

	r, _ := utf8.DecodeRuneInString(rest)
	if r == ':' || unicode.IsLetter(r) {
		return l.nameOrPName(start)
	}
	return token{}, l.errorf(start, "unexpected character %q", r)
}

func (l *lexer) nameOrPName(start Position) (token, error) {
	rest := l.in[l.pos:]
	prefixLen := scanName(rest)
	if prefixLen < len(rest) && rest[prefixLen] == ':' {
		local := scanLocalName(rest[prefixLen+1:])
		n := prefixLen + 1 + local
		l.advance(n)
		return token{kind: tokPName, text: rest[:n], pos: start}, nil
	}
	if prefixLen == 0 {
		return token{}, l.errorf(start, "unexpected character %q", rest[0])
	}
	l.advance(prefixLen)
	word := rest[:prefixLen]
	if word == "a" {
		return token{kind: tokKeyword, text: "a", pos: start}, nil
	}
	return token{kind: tokKeyword, text: strings.ToUpper(word), pos: start}, nil
}

func (l *lexer) number(start Position) (token, error) {
	rest := l.in[l.pos:]
	n := 0
	for n < len(rest) && isDigit(rest[n]) {
		n++
	}
	kind := tokInteger
	if n < len(rest) && rest[n] == '.' && n+1 < len(rest) && isDigit(rest[n+1]) {
		kind = tokDecimal
		n++
		for n < len(rest) && isDigit(rest[n]) {
			n++
		}
	}
	if n < len(rest) && (rest[n] == 'e' || rest[n] == 'E') {
		m := n + 1
		if m < len(rest) && (rest[m] == '+' || rest[m] == '-') {
			m++
		}
		if m < len(rest) && isDigit(rest[m]) {
			for m < len(rest) && isDigit(rest[m]) {
				m++
			}
			kind = tokDouble
			n = m
		}
	}
	l.advance(n)
	return token{kind: kind, text: rest[:n], pos: start}, nil
}

func (l *lexer) stringLiteral(start Position) (token, error) {
	rest := l.in[l.pos:]
	q := rest[0]
	long := len(rest) >= 3 && rest[1] == q && rest[2] == q
	delim := string(q)
	if long {
		delim = strings.Repeat(string(q), 3)
	}
	i := len(delim)
	var b strings.Builder
	for i < len(rest) {
		if strings.HasPrefix(rest[i:], delim) {
			l.advance(i + len(delim))
			return token{kind: tokString, text: b.String(), pos: start}, nil
		}
		c := rest[i]
		if !long && (c == '\n' || c == '\r') {
			return token{}, l.errorf(start, "newline in string literal")
		}
		if c == '\\' {
			if i+1 >= len(rest) {
				break
			}
			n, err := unescapeInto(rest, i, &b)
			if err != nil {
				return token{}, l.errorf(start, "%v", err)
			}
			i += n
			continue
		}
		b.WriteByte(c)
		i++
	}
	return token{}, l.errorf(start, "unterminated string literal")
}

func scanIRIRef(s string) (int, bool) {
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '>':
			return i + 1, true
		case c <= ' ' || strings.IndexByte("<\"{}|^`", c) >= 0:
			return 0, false
		}
	}
	return 0, false
}

func scanName(s string) int {
	n := 0
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || (n > 0 && r == '-') {
			n += size
			continue
		}
		break
	}
	return n
}

func scanVarName(s string) int {
	n := 0
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			n += size
			continue
		}
		break
	}
	return n
}

// scanLocalName accepts the local part of a prefixed name; dots are allowed inside
// but not at the end.
func scanLocalName(s string) int {
	n := 0
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		if r == '_' || r == '-' || r == ':' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			n += size
			continue
		}
		if r == '.' && n+1 < len(s) {
			next, _ := utf8.DecodeRuneInString(s[n+1:])
			if next == '_' || next == '-' || unicode.IsLetter(next) || unicode.IsDigit(next) {
				n += size
				continue
			}
		}
		break
	}
	return n
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isASCIIAlnum(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func unescapeIRI(s string) (string, error) {
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
		if i+1 < len(s) && s[i+1] != 'u' && s[i+1] != 'U' {
			return "", fmt.Errorf("invalid escape in IRI")
		}
		n, err := unescapeInto(s, i, &b)
		if err != nil {
			return "", err
		}
		i += n
	}
	return b.String(), nil
}

func unescapeInto(s string, i int, b *strings.Builder) (int, error) {
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
			return 0, fmt.Errorf("short unicode escape")
		}
		var cp rune
		for _, h := range s[i+2 : i+2+width] {
			d := strings.IndexRune("0123456789abcdef", unicode.ToLower(h))
			if d < 0 {
				return 0, fmt.Errorf("bad unicode escape")
			}
			cp = cp*16 + rune(d)
		}
		b.WriteRune(cp)
		return 2 + width, nil
	default:
		return 0, fmt.Errorf("unknown escape \\%c", s[i+1])
	}
	return 2, nil
}
