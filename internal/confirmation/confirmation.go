// Package confirmation implements the confirmation-threshold policy:
// whether a pre-finalized (Confirmed{n}) order has enough announced
// block confirmations to be accepted, indexed by the order's USD
// worth.
package confirmation

import "fmt"

// Range is one entry of a chain's ordered src_constraints list. The
// zero value of MinBlockConfirmations (0) is a legitimate threshold
// (accept any confirmation count within the range).
type Range struct {
	USDWorthFrom         float64 // exclusive lower bound
	USDWorthTo           float64 // inclusive upper bound
	MinBlockConfirmations uint64
}

// Policy holds a chain's ordered ranges. Ranges must be sorted
// ascending by USDWorthTo and must be non-overlapping; NewPolicy
// validates this once at construction so lookups never need to.
type Policy struct {
	ranges []Range
}

// NewPolicy validates that ranges are sorted ascending by
// USDWorthTo and do not overlap, and returns a Policy, or an error
// describing the first violation found.
func NewPolicy(ranges []Range) (*Policy, error) {
	for i := range ranges {
		if ranges[i].USDWorthFrom >= ranges[i].USDWorthTo {
			return nil, fmt.Errorf("confirmation range %d has from >= to", i)
		}
		if i > 0 && ranges[i].USDWorthTo <= ranges[i-1].USDWorthTo {
			return nil, fmt.Errorf("confirmation ranges not sorted ascending at index %d", i)
		}
		if i > 0 && ranges[i].USDWorthFrom < ranges[i-1].USDWorthTo {
			return nil, fmt.Errorf("confirmation ranges overlap at index %d", i)
		}
	}
	return &Policy{ranges: ranges}, nil
}

// Decision is the outcome of evaluating an order against the policy.
type Decision struct {
	Accepted              bool
	MatchedRange          *Range
	RequiredConfirmations uint64
}

// Evaluate finds the first range with From < usdWorth <= To and
// compares announcedConfirmations against its threshold. No matching
// range means "wait for finalization" — rejected.
func (p *Policy) Evaluate(usdWorth float64, announcedConfirmations uint64) Decision {
	for i := range p.ranges {
		r := &p.ranges[i]
		if usdWorth > r.USDWorthFrom && usdWorth <= r.USDWorthTo {
			if announcedConfirmations < r.MinBlockConfirmations {
				return Decision{Accepted: false, MatchedRange: r, RequiredConfirmations: r.MinBlockConfirmations}
			}
			return Decision{Accepted: true, MatchedRange: r, RequiredConfirmations: r.MinBlockConfirmations}
		}
	}
	return Decision{Accepted: false}
}
