package aggregate

import (
	"fmt"
	"math/big"
	"slices"

	"github.com/ephedra/ephedra/pkg/rdf"
)

// Namespace is the IRI namespace of the built-in aggregate functions.
const Namespace = "https://ephedra.dev/ns/aggregate#"

// MedianIRI addresses the median aggregate.
const MedianIRI = Namespace + "median"

type median struct{}

// Median returns the median aggregate. An empty group yields no value. An odd
// sized group yields its middle value unchanged. An even sized group yields the
// mean of the two middle values, as xsd:double when either is a float or double
// and as xsd:decimal otherwise. Any non-numeric value fails with ErrTypeMismatch.
func Median() Function {
	return median{}
}

func (median) IRI() string { return MedianIRI }

type rankedNumber struct {
	term rdf.Term
	num  rdf.Number
}

func (median) Evaluate(values []rdf.Term) ([]rdf.Term, error) {
	if len(values) == 0 {
		return nil, nil
	}

	nums := make([]rankedNumber, 0, len(values))
	for _, v := range values {
		n, err := rdf.ParseNumber(v)
		if err != nil {
			return nil, fmt.Errorf("%w: median of %s", ErrTypeMismatch, v)
		}
		if n.Type >= rdf.NumFloat && n.Float != n.Float {
			return nil, fmt.Errorf("%w: median of NaN", ErrTypeMismatch)
		}
		nums = append(nums, rankedNumber{term: v, num: n})
	}

	slices.SortStableFunc(nums, func(a, b rankedNumber) int {
		c, _ := rdf.CompareNumbers(a.num, b.num)
		return c
	})

	mid := len(nums) / 2
	if len(nums)%2 == 1 {
		return []rdf.Term{nums[mid].term}, nil
	}

	lo, hi := nums[mid-1].num, nums[mid].num
	if lo.Type >= rdf.NumFloat || hi.Type >= rdf.NumFloat {
		return []rdf.Term{rdf.NewDouble((lo.Float64() + hi.Float64()) / 2)}, nil
	}
	sum := new(big.Rat).Add(lo.Rat(), hi.Rat())
	return []rdf.Term{rdf.NewDecimal(sum.Quo(sum, big.NewRat(2, 1)))}, nil
}
