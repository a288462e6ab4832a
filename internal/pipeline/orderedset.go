package pipeline

import "github.com/Magma-Layer/dln-taker/internal/order"

// orderedSet is a FIFO queue with O(1) membership testing, used for
// the priority and secondary queues. Insertion order is preserved
// (spec.md 5).
type orderedSet struct {
	list []order.ID
	have map[order.ID]bool
}

func newOrderedSet() *orderedSet {
	return &orderedSet{have: make(map[order.ID]bool)}
}

func (s *orderedSet) contains(id order.ID) bool {
	return s.have[id]
}

func (s *orderedSet) pushBack(id order.ID) {
	if s.have[id] {
		return
	}
	s.have[id] = true
	s.list = append(s.list, id)
}

func (s *orderedSet) popFront() (order.ID, bool) {
	for len(s.list) > 0 {
		id := s.list[0]
		s.list = s.list[1:]
		if s.have[id] {
			delete(s.have, id)
			return id, true
		}
	}
	return order.ID{}, false
}

func (s *orderedSet) remove(id order.ID) {
	delete(s.have, id)
}

func (s *orderedSet) len() int {
	return len(s.have)
}
