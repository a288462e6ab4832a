package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Magma-Layer/dln-taker/internal/order"
)

func idFor(b byte) order.ID {
	var id order.ID
	id[0] = b
	return id
}

func TestOrderedSetPreservesInsertionOrder(t *testing.T) {
	s := newOrderedSet()
	s.pushBack(idFor(1))
	s.pushBack(idFor(2))
	s.pushBack(idFor(3))

	for _, want := range []byte{1, 2, 3} {
		got, ok := s.popFront()
		assert.True(t, ok)
		assert.Equal(t, idFor(want), got)
	}
	_, ok := s.popFront()
	assert.False(t, ok)
}

func TestOrderedSetPushBackIsIdempotent(t *testing.T) {
	s := newOrderedSet()
	s.pushBack(idFor(1))
	s.pushBack(idFor(1))
	assert.Equal(t, 1, s.len())
}

func TestOrderedSetRemoveIsLazy(t *testing.T) {
	s := newOrderedSet()
	s.pushBack(idFor(1))
	s.pushBack(idFor(2))

	s.remove(idFor(1))
	assert.False(t, s.contains(idFor(1)))
	assert.Equal(t, 1, s.len())

	got, ok := s.popFront()
	assert.True(t, ok)
	assert.Equal(t, idFor(2), got, "removed entry must be skipped even though it is still physically in list")
}

func TestOrderedSetDisjointFromAnotherSet(t *testing.T) {
	pq := newOrderedSet()
	sq := newOrderedSet()

	pq.pushBack(idFor(1))
	assert.True(t, pq.contains(idFor(1)))
	assert.False(t, sq.contains(idFor(1)), "an id present in one queue must never simultaneously appear in the other")
}
