package rdf

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// ErrNotNumeric is returned when a term is not a numeric literal or its lexical
// form does not parse.
var ErrNotNumeric = errors.New("not a numeric literal")

// ErrDivisionByZero is returned for integer and decimal division by zero.
var ErrDivisionByZero = errors.New("division by zero")

// NumericType is ordered by the XPath numeric type promotion rules.
type NumericType uint8

const (
	NumInteger NumericType = iota
	NumDecimal
	NumFloat
	NumDouble
)

// Number is a parsed numeric literal.
type Number struct {
	Type  NumericType
	Int   int64
	Dec   *big.Rat
	Float float64
}

// ParseNumber parses a numeric literal.
func ParseNumber(t Term) (Number, error) {
	if !t.IsNumeric() {
		return Number{}, fmt.Errorf("%w: %s", ErrNotNumeric, t)
	}
	lex := strings.TrimSpace(t.Value)
	switch {
	case IsIntegerDatatype(t.Datatype):
		i, err := strconv.ParseInt(lex, 10, 64)
		if err != nil {
			return Number{}, fmt.Errorf("%w: %s", ErrNotNumeric, t)
		}
		return Number{Type: NumInteger, Int: i}, nil
	case t.Datatype == XSDDecimal:
		r, ok := new(big.Rat).SetString(lex)
		if !ok || strings.ContainsAny(lex, "eE/") {
			return Number{}, fmt.Errorf("%w: %s", ErrNotNumeric, t)
		}
		return Number{Type: NumDecimal, Dec: r}, nil
	default:
		f, err := parseDouble(lex)
		if err != nil {
			return Number{}, fmt.Errorf("%w: %s", ErrNotNumeric, t)
		}
		typ := NumDouble
		if t.Datatype == XSDFloat {
			typ = NumFloat
		}
		return Number{Type: typ, Float: f}, nil
	}
}

func parseDouble(lex string) (float64, error) {
	switch lex {
	case "INF", "+INF":
		return math.Inf(1), nil
	case "-INF":
		return math.Inf(-1), nil
	case "NaN":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(lex, 64)
}

func IntegerNumber(i int64) Number { return Number{Type: NumInteger, Int: i} }

func DecimalNumber(r *big.Rat) Number { return Number{Type: NumDecimal, Dec: r} }

func DoubleNumber(f float64) Number { return Number{Type: NumDouble, Float: f} }

// Rat returns the exact value of an integer or decimal.
func (n Number) Rat() *big.Rat {
	switch n.Type {
	case NumInteger:
		return new(big.Rat).SetInt64(n.Int)
	case NumDecimal:
		return new(big.Rat).Set(n.Dec)
	default:
		r, _ := new(big.Rat).SetString(strconv.FormatFloat(n.Float, 'g', -1, 64))
		if r == nil {
			return new(big.Rat)
		}
		return r
	}
}

func (n Number) Float64() float64 {
	switch n.Type {
	case NumInteger:
		return float64(n.Int)
	case NumDecimal:
		f, _ := n.Dec.Float64()
		return f
	default:
		return n.Float
	}
}

// Term renders n as a literal in its canonical lexical form.
func (n Number) Term() Term {
	switch n.Type {
	case NumInteger:
		return NewInteger(n.Int)
	case NumDecimal:
		return NewLiteral(FormatDecimal(n.Dec), XSDDecimal)
	case NumFloat:
		return NewLiteral(formatDouble(n.Float), XSDFloat)
	default:
		return NewDouble(n.Float)
	}
}

func promote(a, b Number) NumericType {
	if a.Type > b.Type {
		return a.Type
	}
	return b.Type
}

// Add returns a+b under type promotion.
func Add(a, b Number) (Number, error) {
	return arith(a, b, '+')
}

func Sub(a, b Number) (Number, error) {
	return arith(a, b, '-')
}

func Mul(a, b Number) (Number, error) {
	return arith(a, b, '*')
}

// Div divides; integer division yields a decimal as in XPath op:numeric-divide.
func Div(a, b Number) (Number, error) {
	return arith(a, b, '/')
}

func arith(a, b Number, op byte) (Number, error) {
	typ := promote(a, b)
	if typ == NumInteger && op == '/' {
		typ = NumDecimal
	}
	switch typ {
	case NumInteger:
		x, y := a.Int, b.Int
		var r int64
		var overflow bool
		switch op {
		case '+':
			r = x + y
			overflow = (r > x) != (y > 0)
		case '-':
			r = x - y
			overflow = (r < x) != (y > 0)
		case '*':
			if x != 0 && y != 0 {
				r = x * y
				overflow = r/y != x
			}
		}
		if !overflow {
			return IntegerNumber(r), nil
		}
		return arith(DecimalNumber(a.Rat()), DecimalNumber(b.Rat()), op)
	case NumDecimal:
		x, y := a.Rat(), b.Rat()
		r := new(big.Rat)
		switch op {
		case '+':
			r.Add(x, y)
		case '-':
			r.Sub(x, y)
		case '*':
			r.Mul(x, y)
		case '/':
			if y.Sign() == 0 {
				return Number{}, ErrDivisionByZero
			}
			r.Quo(x, y)
		}
		return DecimalNumber(r), nil
	default:
		x, y := a.Float64(), b.Float64()
		var r float64
		switch op {
		case '+':
			r = x + y
		case '-':
			r = x - y
		case '*':
			r = x * y
		case '/':
			r = x / y
		}
		return Number{Type: typ, Float: r}, nil
	}
}

// CompareNumbers orders a and b. NaN compares unordered and reports ok=false.
func CompareNumbers(a, b Number) (int, bool) {
	switch promote(a, b) {
	case NumInteger:
		switch {
		case a.Int < b.Int:
			return -1, true
		case a.Int > b.Int:
			return 1, true
		}
		return 0, true
	case NumDecimal:
		return a.Rat().Cmp(b.Rat()), true
	default:
		x, y := a.Float64(), b.Float64()
		if math.IsNaN(x) || math.IsNaN(y) {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
}

// FormatDecimal renders r in the canonical xsd:decimal form, always with a
// fractional part. Non-terminating expansions are cut at 20 digits.
func FormatDecimal(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String() + ".0"
	}
	s := r.FloatString(20)
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

func formatDouble(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	}
	s := strconv.FormatFloat(f, 'E', -1, 64)
	mantissa, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mantissa, ".") {
		mantissa += ".0"
	}
	e, _ := strconv.Atoi(exp)
	return mantissa + "E" + strconv.Itoa(e)
}
