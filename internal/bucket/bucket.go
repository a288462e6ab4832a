// Package bucket implements TokensBucket: equivalence classes of
// tokens across chains, used to decide which token on a destination
// chain the operator can use as a reserve against a given give-token.
package bucket

import "github.com/ethereum/go-ethereum/common"

// Key identifies a token on a specific chain.
type Key struct {
	ChainID uint64
	Token   common.Address
}

// Bucket is one equivalence class: the same economic asset, bridged
// or wrapped differently on each chain it appears. Members maps each
// (chain, token) to its decimals, needed by the profitability
// evaluator to convert between token units and USD worth.
type Bucket struct {
	Name    string
	Members map[Key]int
}

// Set holds the operator's configured buckets and answers membership
// and cross-chain-equivalent queries.
type Set struct {
	buckets []Bucket
	byKey   map[Key]*Bucket
}

// NewSet builds a Set from a list of buckets, indexing members for
// O(1) lookup.
func NewSet(buckets []Bucket) *Set {
	s := &Set{
		buckets: buckets,
		byKey:   make(map[Key]*Bucket),
	}
	for i := range s.buckets {
		b := &s.buckets[i]
		for k := range b.Members {
			s.byKey[k] = b
		}
	}
	return s
}

// IsReserve reports whether (chainID, token) is a valid reserve
// currency in some configured bucket.
func (s *Set) IsReserve(chainID uint64, token common.Address) bool {
	_, ok := s.byKey[Key{ChainID: chainID, Token: token}]
	return ok
}

// Equivalent returns the token on chainID that is equivalent to
// (fromChainID, fromToken), if any bucket covers both.
func (s *Set) Equivalent(fromChainID uint64, fromToken common.Address, chainID uint64) (common.Address, bool) {
	b, ok := s.byKey[Key{ChainID: fromChainID, Token: fromToken}]
	if !ok {
		return common.Address{}, false
	}
	for k := range b.Members {
		if k.ChainID == chainID {
			return k.Token, true
		}
	}
	return common.Address{}, false
}

// Decimals returns the configured decimals for (chainID, token).
func (s *Set) Decimals(chainID uint64, token common.Address) (int, bool) {
	b, ok := s.byKey[Key{ChainID: chainID, Token: token}]
	if !ok {
		return 0, false
	}
	d, ok := b.Members[Key{ChainID: chainID, Token: token}]
	return d, ok
}

// BucketFor returns the bucket covering (chainID, token), if any.
func (s *Set) BucketFor(chainID uint64, token common.Address) (*Bucket, bool) {
	b, ok := s.byKey[Key{ChainID: chainID, Token: token}]
	return b, ok
}

// CoversPair reports whether some bucket has a member on both
// giveChainID and takeChainID — used at registry validation time to
// confirm at least one bucket covers each (give-chain, take-chain)
// pair the operator intends to serve.
func (s *Set) CoversPair(giveChainID, takeChainID uint64) bool {
	for i := range s.buckets {
		hasGive, hasTake := false, false
		for k := range s.buckets[i].Members {
			if k.ChainID == giveChainID {
				hasGive = true
			}
			if k.ChainID == takeChainID {
				hasTake = true
			}
		}
		if hasGive && hasTake {
			return true
		}
	}
	return false
}
