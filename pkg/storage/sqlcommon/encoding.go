package sqlcommon

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ephedra/ephedra/pkg/rdf"
	"github.com/ephedra/ephedra/pkg/rdf/ntriples"
)

// TripleID is the primary key of t: the hex SHA-256 of its N-Triples form.
func TripleID(t rdf.Triple) string {
	sum := sha256.Sum256([]byte(t.String()))
	return hex.EncodeToString(sum[:])
}

// EncodeTerm returns the column value stored for t.
func EncodeTerm(t rdf.Term) string {
	return t.String()
}

// DecodeTriple rebuilds a triple from its three stored columns.
func DecodeTriple(subject, predicate, object string) (rdf.Triple, error) {
	return ntriples.ParseLine(subject + " " + predicate + " " + object + " .")
}
