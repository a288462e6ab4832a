package confirmation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy([]Range{
		{USDWorthFrom: 0, USDWorthTo: 1000, MinBlockConfirmations: 1},
		{USDWorthFrom: 1000, USDWorthTo: 10000, MinBlockConfirmations: 6},
	})
	require.NoError(t, err)
	return p
}

func TestNewPolicyRejectsUnsortedRanges(t *testing.T) {
	_, err := NewPolicy([]Range{
		{USDWorthFrom: 1000, USDWorthTo: 500, MinBlockConfirmations: 1},
	})
	assert.Error(t, err)

	_, err = NewPolicy([]Range{
		{USDWorthFrom: 0, USDWorthTo: 1000},
		{USDWorthFrom: 500, USDWorthTo: 900},
	})
	assert.Error(t, err)
}

func TestEvaluateAcceptsAtThreshold(t *testing.T) {
	p := testPolicy(t)
	d := p.Evaluate(500, 1)
	assert.True(t, d.Accepted)
	assert.Equal(t, uint64(1), d.RequiredConfirmations)
}

func TestEvaluateRejectsBelowThreshold(t *testing.T) {
	p := testPolicy(t)
	d := p.Evaluate(5000, 5)
	assert.False(t, d.Accepted)
	assert.Equal(t, uint64(6), d.RequiredConfirmations)
}

func TestEvaluateExactlyAtUpperBoundUsesLowerBracket(t *testing.T) {
	p := testPolicy(t)
	d := p.Evaluate(1000, 1)
	assert.True(t, d.Accepted, "usd worth exactly at the bracket boundary belongs to the lower range")
}

func TestEvaluateNoMatchingRangeRejects(t *testing.T) {
	p := testPolicy(t)
	d := p.Evaluate(1_000_000, 1000)
	assert.False(t, d.Accepted)
	assert.Nil(t, d.MatchedRange)
}
