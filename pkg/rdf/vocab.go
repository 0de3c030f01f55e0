package rdf

const (
	XSD = "http://www.w3.org/2001/XMLSchema#"
	RDF = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"

	XSDString   = XSD + "string"
	XSDBoolean  = XSD + "boolean"
	XSDInteger  = XSD + "integer"
	XSDInt      = XSD + "int"
	XSDLong     = XSD + "long"
	XSDShort    = XSD + "short"
	XSDByte     = XSD + "byte"
	XSDDecimal  = XSD + "decimal"
	XSDFloat    = XSD + "float"
	XSDDouble   = XSD + "double"
	XSDDateTime = XSD + "dateTime"
	XSDDate     = XSD + "date"

	XSDNonNegativeInteger = XSD + "nonNegativeInteger"
	XSDPositiveInteger    = XSD + "positiveInteger"
	XSDNegativeInteger    = XSD + "negativeInteger"
	XSDNonPositiveInteger = XSD + "nonPositiveInteger"
	XSDUnsignedInt        = XSD + "unsignedInt"
	XSDUnsignedLong       = XSD + "unsignedLong"

	RDFType       = RDF + "type"
	RDFLangString = RDF + "langString"
)

var integerDatatypes = map[string]struct{}{
	XSDInteger:            {},
	XSDInt:                {},
	XSDLong:               {},
	XSDShort:              {},
	XSDByte:               {},
	XSDNonNegativeInteger: {},
	XSDPositiveInteger:    {},
	XSDNegativeInteger:    {},
	XSDNonPositiveInteger: {},
	XSDUnsignedInt:        {},
	XSDUnsignedLong:       {},
}

// IsIntegerDatatype reports whether dt is xsd:integer or one of its derived types.
func IsIntegerDatatype(dt string) bool {
	_, ok := integerDatatypes[dt]
	return ok
}

// IsNumericDatatype reports whether dt is one of the numeric datatypes the
// evaluator supports.
func IsNumericDatatype(dt string) bool {
	return IsIntegerDatatype(dt) || dt == XSDDecimal || dt == XSDFloat || dt == XSDDouble
}
