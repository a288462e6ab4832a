package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Magma-Layer/dln-taker/internal/order"
)

func TestPushDropsEventForDisabledChain(t *testing.T) {
	m := NewMemory()
	var received []order.Order
	require.NoError(t, m.Init(func(o order.Order) { received = append(received, o) }))
	m.SetEnabledChains([]uint64{1})

	m.Push(order.Order{Take: order.Asset{ChainID: 2}})
	assert.Empty(t, received)
}

func TestPushDeliversEventForEnabledChain(t *testing.T) {
	m := NewMemory()
	var received []order.Order
	require.NoError(t, m.Init(func(o order.Order) { received = append(received, o) }))
	m.SetEnabledChains([]uint64{1})

	o := order.Order{Take: order.Asset{ChainID: 1}}
	m.Push(o)
	require.Len(t, received, 1)
	assert.Equal(t, o, received[0])
}

func TestPushBeforeInitIsANoop(t *testing.T) {
	m := NewMemory()
	m.SetEnabledChains([]uint64{1})
	assert.NotPanics(t, func() {
		m.Push(order.Order{Take: order.Asset{ChainID: 1}})
	})
}

func TestInitIsIdempotent(t *testing.T) {
	m := NewMemory()
	firstCalled, secondCalled := false, false

	require.NoError(t, m.Init(func(o order.Order) { firstCalled = true }))
	require.NoError(t, m.Init(func(o order.Order) { secondCalled = true }))
	m.SetEnabledChains([]uint64{1})

	m.Push(order.Order{Take: order.Asset{ChainID: 1}})
	assert.True(t, firstCalled, "the first registered dispatch function must remain active")
	assert.False(t, secondCalled, "a later Init call must not replace the existing dispatch function")
}
