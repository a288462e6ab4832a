// Package budget implements the two advisory admission gates spec.md
// 4.3 describes: a TVL-in-flight cap and a non-finalized-orders USD
// cap. Both are the same shape, so Controller is generic over neither
// — it is instantiated twice with different semantics by the caller.
package budget

import "sync"

// Controller tracks USD contributions keyed by order id and admits a
// new reservation only while the running total stays at or under cap.
// It is a gate, not a ledger: TryReserve/Release never touch on-chain
// balances, which are checked separately before fulfillment.
type Controller struct {
	mu           sync.Mutex
	capUSD       float64
	contributions map[[32]byte]float64
	sum          float64
}

// NewController builds a Controller with the given USD cap.
func NewController(capUSD float64) *Controller {
	return &Controller{
		capUSD:        capUSD,
		contributions: make(map[[32]byte]float64),
	}
}

// TryReserve admits orderID's usd contribution iff the running sum
// plus it would not exceed the cap. Reserving twice for the same
// order id without an intervening Release replaces the prior
// contribution rather than adding to it.
func (c *Controller) TryReserve(orderID [32]byte, usd float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.contributions[orderID]
	if c.sum-existing+usd > c.capUSD {
		return false
	}
	c.sum = c.sum - existing + usd
	c.contributions[orderID] = usd
	return true
}

// Release removes orderID's contribution, if any.
func (c *Controller) Release(orderID [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if usd, ok := c.contributions[orderID]; ok {
		c.sum -= usd
		delete(c.contributions, orderID)
	}
}

// InFlightUSD returns the current running total, for introspection
// (status API, logs). Advisory only.
func (c *Controller) InFlightUSD() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sum
}

// CapUSD returns the configured cap.
func (c *Controller) CapUSD() float64 {
	return c.capUSD
}
