// Package feed defines the order-feed capability the core consumes
// (spec.md 6: init/set_enabled_chains/set_logger, then pushed
// IncomingOrder events) and an in-memory implementation for scripting
// deterministic event sequences in tests.
package feed

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Magma-Layer/dln-taker/internal/order"
)

// Dispatcher receives every order event the feed observes, keyed by
// the order's take chain so it can be routed to that chain's
// pipeline. Concrete pipelines implement this via their Submit method.
type Dispatcher interface {
	Submit(o order.Order)
}

// OrderFeed is the capability surface the core requires from a feed
// implementation: a startup handshake followed by a stream of events
// routed through Dispatch. Concrete network transports live outside
// the core per spec.md 1 ("out of scope, injected capability").
type OrderFeed interface {
	Init(dispatch func(o order.Order)) error
	SetEnabledChains(chainIDs []uint64)
	SetLogger(logger *zap.Logger)
}

// Memory is a scriptable in-memory feed: tests call Push to simulate
// an incoming event, and the feed delivers it to whatever dispatch
// func Init registered.
type Memory struct {
	mu       sync.Mutex
	dispatch func(o order.Order)
	enabled  map[uint64]bool
	logger   *zap.Logger
}

// NewMemory constructs an empty Memory feed.
func NewMemory() *Memory {
	return &Memory{enabled: make(map[uint64]bool)}
}

func (m *Memory) Init(dispatch func(o order.Order)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dispatch != nil {
		return nil // idempotent re-entry per spec.md 6
	}
	m.dispatch = dispatch
	return nil
}

func (m *Memory) SetEnabledChains(chainIDs []uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = make(map[uint64]bool, len(chainIDs))
	for _, id := range chainIDs {
		m.enabled[id] = true
	}
}

func (m *Memory) SetLogger(logger *zap.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// Push delivers o to the registered dispatch function if o's take
// chain is enabled. Safe for concurrent use and intended for direct
// calls from test goroutines simulating feed arrivals.
func (m *Memory) Push(o order.Order) {
	m.mu.Lock()
	dispatch := m.dispatch
	enabled := m.enabled[o.Take.ChainID]
	logger := m.logger
	m.mu.Unlock()

	if dispatch == nil || !enabled {
		if logger != nil {
			logger.Debug("memory feed: dropped event for disabled or unregistered chain",
				zap.Uint64("take_chain_id", o.Take.ChainID))
		}
		return
	}
	dispatch(o)
}
