// Package chainregistry holds per-chain configured state: RPC client,
// the two signing identities, beneficiary, constraint ranges, filter
// lists, and the two budget controllers. It is constructed once at
// startup and is read-only for the lifetime of the process.
package chainregistry

import (
	"fmt"

	"github.com/Magma-Layer/dln-taker/internal/budget"
	"github.com/Magma-Layer/dln-taker/internal/capability"
	"github.com/Magma-Layer/dln-taker/internal/confirmation"
	"github.com/Magma-Layer/dln-taker/internal/errs"
	"github.com/Magma-Layer/dln-taker/internal/filter"
)

// DstConstraintRange is the shape of a destination constraint range:
// a USD-worth bracket plus the fulfillment delay and swap recipient
// that apply within it (spec.md 6: "dst_constraints, same shape
// without confirmations").
type DstConstraintRange struct {
	USDWorthFrom                  float64
	USDWorthTo                    float64
	FulfillmentDelaySec           uint64
	PreFulfillSwapChangeRecipient string // "taker" or "maker"
}

// SrcConstraintRange additionally carries the minimum block
// confirmations required within the bracket; this is the input to
// confirmation.NewPolicy.
type SrcConstraintRange struct {
	DstConstraintRange
	MinBlockConfirmations uint64
}

// Entry is one configured chain's state. Fields are populated once at
// startup and never mutated afterward; only the budget controllers'
// internal counters change at runtime.
type Entry struct {
	ChainID              uint64
	Engine               capability.Engine
	RPC                  string
	UnlockSigner         capability.Signer
	FulfillSigner        capability.Signer
	Client               capability.ChainClient
	Beneficiary          string
	Disabled             bool
	HardCapConfirmations uint64
	SrcConstraints       []SrcConstraintRange // ascending by USDWorthTo
	DstConstraints       []DstConstraintRange // ascending by USDWorthTo
	SrcFilters           []filter.Filter
	DstFilters           []filter.Filter
	OrderProcessor       string // processor identifier; "universal" by default (spec.md 6)
	ConfirmationPolicy   *confirmation.Policy
	TVLBudget            *budget.Controller
	NonFinalizedBudget   *budget.Controller
}

// DstConstraintFor returns the first destination constraint range
// whose (From, To] brackets usdWorth, the same lookup rule the
// confirmation policy uses for src_constraints (spec.md 3).
func (e *Entry) DstConstraintFor(usdWorth float64) (DstConstraintRange, bool) {
	for _, r := range e.DstConstraints {
		if usdWorth > r.USDWorthFrom && usdWorth <= r.USDWorthTo {
			return r, true
		}
	}
	return DstConstraintRange{}, false
}

// Registry is the read-only accessor spec.md 4.1 requires: get(chain_id)
// fails with UnsupportedChain if absent.
type Registry struct {
	entries map[uint64]*Entry
}

// Get returns the configured entry for chainID, or ErrUnsupportedChain.
func (r *Registry) Get(chainID uint64) (*Entry, error) {
	e, ok := r.entries[chainID]
	if !ok {
		return nil, fmt.Errorf("chain %d: %w", chainID, errs.ErrUnsupportedChain)
	}
	return e, nil
}

// All returns every configured entry, for iterating pipelines at
// startup.
func (r *Registry) All() []*Entry {
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// BucketCoverage is satisfied by bucket.Set; declared narrowly here so
// this package does not need to import bucket's concrete type in its
// exported surface.
type BucketCoverage interface {
	CoversPair(giveChainID, takeChainID uint64) bool
}

// Build validates and constructs a Registry from configured entries.
// intendedPairs lists every (give-chain, take-chain) pair the operator
// means to serve; coverage validates at least one bucket spans each.
//
// Validation performed (spec.md 4.1):
//   - every entry's HardCapConfirmations is configured
//   - every src_constraints' MinBlockConfirmations is strictly below
//     the chain's hard cap
//   - at least one bucket covers each intended (give, take) pair
func Build(entries []*Entry, coverage BucketCoverage, intendedPairs [][2]uint64) (*Registry, error) {
	byID := make(map[uint64]*Entry, len(entries))
	for _, e := range entries {
		if e.HardCapConfirmations == 0 {
			return nil, fmt.Errorf("chain %d: %w: hard cap not configured", e.ChainID, errs.ErrConfig)
		}
		for _, r := range e.SrcConstraints {
			if r.MinBlockConfirmations >= e.HardCapConfirmations {
				return nil, fmt.Errorf("chain %d: %w: min_block_confirmations %d >= hard cap %d",
					e.ChainID, errs.ErrConfig, r.MinBlockConfirmations, e.HardCapConfirmations)
			}
		}
		byID[e.ChainID] = e
	}

	for _, pair := range intendedPairs {
		if !coverage.CoversPair(pair[0], pair[1]) {
			return nil, fmt.Errorf("%w: no bucket covers give-chain %d -> take-chain %d", errs.ErrConfig, pair[0], pair[1])
		}
	}

	return &Registry{entries: byID}, nil
}
