package swapconnector

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestParseBigIntAcceptsDecimalString(t *testing.T) {
	v, ok := parseBigInt("123456789")
	assert.True(t, ok)
	assert.Equal(t, big.NewInt(123456789), v)
}

func TestParseBigIntRejectsNonNumeric(t *testing.T) {
	_, ok := parseBigInt("not-a-number")
	assert.False(t, ok)
}

func TestDecodeHexOrEmptyStripsPrefix(t *testing.T) {
	assert.Equal(t, []byte{0xAB, 0xCD}, decodeHexOrEmpty("0xabcd"))
	assert.Nil(t, decodeHexOrEmpty("not-hex"))
}

func TestApplySlippageReducesByBasisPoints(t *testing.T) {
	out := applySlippage(big.NewInt(10000), 100) // 1% slippage
	assert.Equal(t, big.NewInt(9900), out)
}

func TestApplySlippageZeroBpsIsIdentity(t *testing.T) {
	out := applySlippage(big.NewInt(10000), 0)
	assert.Equal(t, big.NewInt(10000), out)
}

func TestBpsToPercentConvertsCorrectly(t *testing.T) {
	assert.Equal(t, "0.5", bpsToPercent(50))
	assert.Equal(t, "1", bpsToPercent(100))
}

func TestDisableChainActuallyMutatesSupportedChains(t *testing.T) {
	c := New(zap.NewNop(), []uint64{1, 137})
	assert.ElementsMatch(t, []uint64{1, 137}, c.SupportedChains())

	c.DisableChain(137)
	assert.Equal(t, []uint64{1}, c.SupportedChains(), "DisableChain must actually remove the chain from future quotes")
}
