package bucket

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func usdcBucket() Bucket {
	return Bucket{
		Name: "USDC",
		Members: map[Key]int{
			{ChainID: 1, Token: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")}: 6,
			{ChainID: 137, Token: common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")}: 6,
		},
	}
}

func TestIsReserveReportsMembership(t *testing.T) {
	s := NewSet([]Bucket{usdcBucket()})
	assert.True(t, s.IsReserve(1, common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")))
	assert.False(t, s.IsReserve(1, common.HexToAddress("0x0000000000000000000000000000000000dEaD")))
}

func TestEquivalentFindsCrossChainMember(t *testing.T) {
	s := NewSet([]Bucket{usdcBucket()})
	eq, ok := s.Equivalent(1, common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), 137)
	assert.True(t, ok)
	assert.Equal(t, common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"), eq)
}

func TestEquivalentMissingChainReturnsFalse(t *testing.T) {
	s := NewSet([]Bucket{usdcBucket()})
	_, ok := s.Equivalent(1, common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), 56)
	assert.False(t, ok)
}

func TestDecimalsReturnsConfiguredValue(t *testing.T) {
	s := NewSet([]Bucket{usdcBucket()})
	d, ok := s.Decimals(1, common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"))
	assert.True(t, ok)
	assert.Equal(t, 6, d)
}

func TestCoversPairTrueWhenSomeBucketSpansBothChains(t *testing.T) {
	s := NewSet([]Bucket{usdcBucket()})
	assert.True(t, s.CoversPair(1, 137))
	assert.False(t, s.CoversPair(1, 56))
}
