package eval

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"math/big"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ephedra/ephedra/pkg/query/algebra"
	"github.com/ephedra/ephedra/pkg/rdf"
)

func (e *Evaluator) call(ctx context.Context, c *algebra.Call, row rdf.Solution) (rdf.Term, error) {
	// functional forms evaluate their arguments lazily
	switch c.Name {
	case "BOUND":
		if v, ok := c.Args[0].(*algebra.VarExpr); ok {
			return rdf.NewBoolean(row.Has(v.Name)), nil
		}
		return rdf.Term{}, typeErrorf("BOUND expects a variable")
	case "IF":
		b, err := e.ebv(ctx, c.Args[0], row)
		if err != nil {
			return rdf.Term{}, err
		}
		if b {
			return e.Value(ctx, c.Args[1], row)
		}
		return e.Value(ctx, c.Args[2], row)
	case "COALESCE":
		for _, arg := range c.Args {
			v, err := e.Value(ctx, arg, row)
			if err == nil {
				return v, nil
			}
			if !isExpressionError(err) {
				return rdf.Term{}, err
			}
		}
		return rdf.Term{}, typeErrorf("COALESCE: no bound argument")
	}

	args := make([]rdf.Term, len(c.Args))
	for i, a := range c.Args {
		v, err := e.Value(ctx, a, row)
		if err != nil {
			return rdf.Term{}, err
		}
		args[i] = v
	}
	return builtin(c.Name, args, row)
}

func builtin(name string, args []rdf.Term, row rdf.Solution) (rdf.Term, error) {
	switch name {
	case "STR":
		if args[0].IsBlank() {
			return rdf.Term{}, typeErrorf("STR of a blank node")
		}
		return rdf.NewString(args[0].Value), nil
	case "LANG":
		if !args[0].IsLiteral() {
			return rdf.Term{}, typeErrorf("LANG of %s", args[0])
		}
		return rdf.NewString(args[0].Lang), nil
	case "LANGMATCHES":
		tag, err := simpleString(args[0])
		if err != nil {
			return rdf.Term{}, err
		}
		rng, err := simpleString(args[1])
		if err != nil {
			return rdf.Term{}, err
		}
		return rdf.NewBoolean(langMatches(tag, rng)), nil
	case "DATATYPE":
		if !args[0].IsLiteral() {
			return rdf.Term{}, typeErrorf("DATATYPE of %s", args[0])
		}
		return rdf.NewIRI(args[0].Datatype), nil
	case "IRI", "URI":
		switch {
		case args[0].IsIRI():
			return args[0], nil
		case args[0].IsPlainString():
			return rdf.NewIRI(args[0].Value), nil
		}
		return rdf.Term{}, typeErrorf("IRI of %s", args[0])
	case "BNODE":
		if len(args) == 0 {
			return rdf.NewBlank(uuid.NewString()), nil
		}
		label, err := simpleString(args[0])
		if err != nil {
			return rdf.Term{}, err
		}
		// same label within one solution, fresh across solutions
		return rdf.NewBlank(uuid.NewSHA1(uuid.NameSpaceOID, []byte(row.String()+"\x00"+label)).String()), nil
	case "ABS", "CEIL", "FLOOR", "ROUND":
		n, err := number(args[0])
		if err != nil {
			return rdf.Term{}, err
		}
		return rounding(name, n).Term(), nil
	case "STRLEN":
		lex, _, err := stringArg(args[0])
		if err != nil {
			return rdf.Term{}, err
		}
		return rdf.NewInteger(int64(utf8.RuneCountInString(lex))), nil
	case "UCASE", "LCASE":
		lex, lang, err := stringArg(args[0])
		if err != nil {
			return rdf.Term{}, err
		}
		if name == "UCASE" {
			lex = strings.ToUpper(lex)
		} else {
			lex = strings.ToLower(lex)
		}
		return sameKind(args[0], lex, lang), nil
	case "ENCODE_FOR_URI":
		lex, _, err := stringArg(args[0])
		if err != nil {
			return rdf.Term{}, err
		}
		return rdf.NewString(strings.ReplaceAll(url.QueryEscape(lex), "+", "%20")), nil
	case "CONCAT":
		var b strings.Builder
		lang := ""
		for i, a := range args {
			lex, l, err := stringArg(a)
			if err != nil {
				return rdf.Term{}, err
			}
			if i == 0 {
				lang = l
			} else if lang != l {
				lang = ""
			}
			b.WriteString(lex)
		}
		if lang != "" {
			return rdf.NewLangLiteral(b.String(), lang), nil
		}
		return rdf.NewString(b.String()), nil
	case "CONTAINS", "STRSTARTS", "STRENDS", "STRBEFORE", "STRAFTER":
		return stringPair(name, args[0], args[1])
	case "SUBSTR":
		lex, lang, err := stringArg(args[0])
		if err != nil {
			return rdf.Term{}, err
		}
		runes := []rune(lex)
		start, err := number(args[1])
		if err != nil {
			return rdf.Term{}, err
		}
		from := int(math.Round(start.Float64())) - 1
		to := len(runes)
		if len(args) == 3 {
			l, err := number(args[2])
			if err != nil {
				return rdf.Term{}, err
			}
			to = from + int(math.Round(l.Float64()))
		}
		from = max(from, 0)
		to = min(to, len(runes))
		if from >= to {
			return sameKind(args[0], "", lang), nil
		}
		return sameKind(args[0], string(runes[from:to]), lang), nil
	case "REGEX", "REPLACE":
		return regexFunction(name, args)
	case "MD5", "SHA1", "SHA256":
		lex, err := simpleString(args[0])
		if err != nil {
			return rdf.Term{}, err
		}
		var sum []byte
		switch name {
		case "MD5":
			s := md5.Sum([]byte(lex))
			sum = s[:]
		case "SHA1":
			s := sha1.Sum([]byte(lex))
			sum = s[:]
		default:
			s := sha256.Sum256([]byte(lex))
			sum = s[:]
		}
		return rdf.NewString(hex.EncodeToString(sum)), nil
	case "STRLANG":
		lex, err := simpleString(args[0])
		if err != nil {
			return rdf.Term{}, err
		}
		lang, err := simpleString(args[1])
		if err != nil || lang == "" {
			return rdf.Term{}, typeErrorf("STRLANG needs a language tag")
		}
		return rdf.NewLangLiteral(lex, lang), nil
	case "STRDT":
		lex, err := simpleString(args[0])
		if err != nil {
			return rdf.Term{}, err
		}
		if !args[1].IsIRI() {
			return rdf.Term{}, typeErrorf("STRDT needs a datatype IRI")
		}
		return rdf.NewLiteral(lex, args[1].Value), nil
	case "SAMETERM":
		return rdf.NewBoolean(args[0] == args[1]), nil
	case "ISIRI", "ISURI":
		return rdf.NewBoolean(args[0].IsIRI()), nil
	case "ISBLANK":
		return rdf.NewBoolean(args[0].IsBlank()), nil
	case "ISLITERAL":
		return rdf.NewBoolean(args[0].IsLiteral()), nil
	case "ISNUMERIC":
		_, err := rdf.ParseNumber(args[0])
		return rdf.NewBoolean(err == nil), nil
	case "UUID":
		return rdf.NewIRI("urn:uuid:" + uuid.NewString()), nil
	case "STRUUID":
		return rdf.NewString(uuid.NewString()), nil
	}
	return rdf.Term{}, typeErrorf("unknown function %s", name)
}

// stringArg accepts simple literals, xsd:string and language tagged strings.
func stringArg(t rdf.Term) (lex, lang string, err error) {
	if t.IsPlainString() || (t.IsLiteral() && t.Datatype == rdf.RDFLangString) {
		return t.Value, t.Lang, nil
	}
	return "", "", typeErrorf("%s is not a string", t)
}

func simpleString(t rdf.Term) (string, error) {
	if !t.IsPlainString() {
		return "", typeErrorf("%s is not a simple string", t)
	}
	return t.Value, nil
}

func sameKind(orig rdf.Term, lex, lang string) rdf.Term {
	if lang != "" {
		return rdf.NewLangLiteral(lex, lang)
	}
	if orig.Datatype == rdf.XSDString {
		return rdf.NewString(lex)
	}
	return rdf.NewLiteral(lex, orig.Datatype)
}

func stringPair(name string, a, b rdf.Term) (rdf.Term, error) {
	x, la, err := stringArg(a)
	if err != nil {
		return rdf.Term{}, err
	}
	y, lb, err := stringArg(b)
	if err != nil {
		return rdf.Term{}, err
	}
	if lb != "" && la != lb {
		return rdf.Term{}, typeErrorf("incompatible string arguments %s and %s", a, b)
	}
	switch name {
	case "CONTAINS":
		return rdf.NewBoolean(strings.Contains(x, y)), nil
	case "STRSTARTS":
		return rdf.NewBoolean(strings.HasPrefix(x, y)), nil
	case "STRENDS":
		return rdf.NewBoolean(strings.HasSuffix(x, y)), nil
	case "STRBEFORE":
		before, _, found := strings.Cut(x, y)
		if !found {
			return rdf.NewString(""), nil
		}
		return sameKind(a, before, la), nil
	default:
		_, after, found := strings.Cut(x, y)
		if !found {
			return rdf.NewString(""), nil
		}
		return sameKind(a, after, la), nil
	}
}

func regexFunction(name string, args []rdf.Term) (rdf.Term, error) {
	text, lang, err := stringArg(args[0])
	if err != nil {
		return rdf.Term{}, err
	}
	pattern, err := simpleString(args[1])
	if err != nil {
		return rdf.Term{}, err
	}
	flagsAt := 2
	if name == "REPLACE" {
		flagsAt = 3
	}
	flags := ""
	if len(args) > flagsAt {
		if flags, err = simpleString(args[flagsAt]); err != nil {
			return rdf.Term{}, err
		}
	}
	re, err := compileRegex(pattern, flags)
	if err != nil {
		return rdf.Term{}, err
	}
	if name == "REGEX" {
		return rdf.NewBoolean(re.MatchString(text)), nil
	}
	repl, err := simpleString(args[2])
	if err != nil {
		return rdf.Term{}, err
	}
	// XPath uses $N for groups, as does Go, but a literal $ must be escaped as \$
	repl = strings.ReplaceAll(repl, `\$`, "$$")
	return sameKind(args[0], re.ReplaceAllString(text, repl), lang), nil
}

func compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	prefix := ""
	for _, f := range flags {
		switch f {
		case 'i', 's', 'm':
			prefix += string(f)
		case 'q':
			pattern = regexp.QuoteMeta(pattern)
		default:
			return nil, typeErrorf("unsupported regex flag %q", f)
		}
	}
	if prefix != "" {
		pattern = "(?" + prefix + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, typeErrorf("invalid regex: %v", err)
	}
	return re, nil
}

func langMatches(tag, rng string) bool {
	tag, rng = strings.ToLower(tag), strings.ToLower(rng)
	if rng == "*" {
		return tag != ""
	}
	return tag == rng || strings.HasPrefix(tag, rng+"-")
}

func rounding(name string, n rdf.Number) rdf.Number {
	switch n.Type {
	case rdf.NumInteger:
		if name == "ABS" && n.Int < 0 {
			return rdf.IntegerNumber(-n.Int)
		}
		return n
	case rdf.NumDecimal:
		r := n.Rat()
		switch name {
		case "ABS":
			return rdf.DecimalNumber(r.Abs(r))
		case "CEIL":
			f := ratFloor(r.Neg(r))
			return rdf.DecimalNumber(f.Neg(f))
		case "FLOOR":
			return rdf.DecimalNumber(ratFloor(r))
		default:
			return rdf.DecimalNumber(ratFloor(r.Add(r, big.NewRat(1, 2))))
		}
	default:
		f := n.Float
		switch name {
		case "ABS":
			f = math.Abs(f)
		case "CEIL":
			f = math.Ceil(f)
		case "FLOOR":
			f = math.Floor(f)
		case "ROUND":
			f = math.Floor(f + 0.5)
		}
		return rdf.Number{Type: n.Type, Float: f}
	}
}

// ratFloor rounds towards negative infinity. Euclidean division does exactly that
// for the always positive denominator.
func ratFloor(r *big.Rat) *big.Rat {
	q := new(big.Int).Div(r.Num(), r.Denom())
	return new(big.Rat).SetInt(q)
}

func cast(iri string, v rdf.Term) (rdf.Term, error) {
	if !v.IsLiteral() {
		if iri == rdf.XSDString && v.IsIRI() {
			return rdf.NewString(v.Value), nil
		}
		return rdf.Term{}, typeErrorf("cannot cast %s to <%s>", v, iri)
	}
	lex := strings.TrimSpace(v.Value)
	switch iri {
	case rdf.XSDString:
		return rdf.NewString(v.Value), nil
	case rdf.XSDBoolean:
		switch {
		case v.IsNumeric():
			b, err := EffectiveBooleanValue(v)
			if err != nil {
				return rdf.Term{}, err
			}
			return rdf.NewBoolean(b), nil
		case lex == "true" || lex == "1":
			return rdf.NewBoolean(true), nil
		case lex == "false" || lex == "0":
			return rdf.NewBoolean(false), nil
		}
	case rdf.XSDInteger, rdf.XSDInt, rdf.XSDLong:
		if v.Datatype == rdf.XSDBoolean {
			if b, _ := EffectiveBooleanValue(v); b {
				return rdf.NewLiteral("1", iri), nil
			}
			return rdf.NewLiteral("0", iri), nil
		}
		if v.IsNumeric() {
			n, err := number(v)
			if err != nil {
				return rdf.Term{}, err
			}
			switch n.Type {
			case rdf.NumInteger:
				return rdf.NewLiteral(strconv.FormatInt(n.Int, 10), iri), nil
			case rdf.NumDecimal:
				return rdf.NewLiteral(new(big.Int).Quo(n.Dec.Num(), n.Dec.Denom()).String(), iri), nil
			default:
				if math.IsNaN(n.Float) || math.IsInf(n.Float, 0) {
					break
				}
				return rdf.NewLiteral(strconv.FormatInt(int64(n.Float), 10), iri), nil
			}
			break
		}
		if i, err := strconv.ParseInt(lex, 10, 64); err == nil {
			return rdf.NewLiteral(strconv.FormatInt(i, 10), iri), nil
		}
	case rdf.XSDDecimal:
		if v.Datatype == rdf.XSDBoolean {
			if b, _ := EffectiveBooleanValue(v); b {
				return rdf.NewDecimal(big.NewRat(1, 1)), nil
			}
			return rdf.NewDecimal(new(big.Rat)), nil
		}
		if v.IsNumeric() {
			n, err := number(v)
			if err != nil {
				return rdf.Term{}, err
			}
			if n.Type >= rdf.NumFloat && (math.IsNaN(n.Float) || math.IsInf(n.Float, 0)) {
				break
			}
			return rdf.NewDecimal(n.Rat()), nil
		}
		if r, ok := new(big.Rat).SetString(lex); ok && !strings.ContainsAny(lex, "eE/") {
			return rdf.NewDecimal(r), nil
		}
	case rdf.XSDDouble, rdf.XSDFloat:
		if v.Datatype == rdf.XSDBoolean {
			if b, _ := EffectiveBooleanValue(v); b {
				return rdf.Number{Type: floatType(iri), Float: 1}.Term(), nil
			}
			return rdf.Number{Type: floatType(iri), Float: 0}.Term(), nil
		}
		if v.IsNumeric() {
			n, err := number(v)
			if err != nil {
				return rdf.Term{}, err
			}
			return rdf.Number{Type: floatType(iri), Float: n.Float64()}.Term(), nil
		}
		if n, err := rdf.ParseNumber(rdf.NewLiteral(lex, rdf.XSDDouble)); err == nil {
			return rdf.Number{Type: floatType(iri), Float: n.Float}.Term(), nil
		}
	case rdf.XSDDateTime:
		if v.Datatype == rdf.XSDDateTime || v.IsPlainString() {
			if _, err := time.Parse(time.RFC3339Nano, lex); err == nil {
				return rdf.NewLiteral(lex, rdf.XSDDateTime), nil
			}
		}
	}
	return rdf.Term{}, typeErrorf("cannot cast %s to <%s>", v, iri)
}

func floatType(iri string) rdf.NumericType {
	if iri == rdf.XSDFloat {
		return rdf.NumFloat
	}
	return rdf.NumDouble
}
