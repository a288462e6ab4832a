// Package mempool implements the per-chain retry queue spec.md 4.7
// describes: an order re-enters the pipeline after a delay that grows
// linearly with its attempt count, keyed by order id so a later Delete cancels a
// pending re-entry.
//
// This is the bot's internal retry queue, unrelated to any chain's
// transaction mempool.
package mempool

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Params is whatever the scheduler hands back to the pipeline on
// re-entry; the pipeline treats it opaquely.
type Params struct {
	OrderID  [32]byte
	Attempts int
}

// Record is the scheduler's bookkeeping for one pending order.
type Record struct {
	Params        Params
	FirstSeen     time.Time
	Attempts      int
	NextEligibleAt time.Time
	timer         *time.Timer
}

// Persister is the narrow seam a Scheduler uses to survive a restart
// (spec.md 6: "implementations MAY persist the mempool ... queues for
// crash-restart parity"). statestore.Store satisfies this structurally.
type Persister interface {
	UpsertMempoolEntry(orderID string, takeChainID uint64, attempts int, firstSeenAt, nextEligibleAt time.Time) error
	DeleteMempoolEntry(orderID string) error
}

// Scheduler re-delivers orders through Deliveries after a backoff
// delay. Every fire is funneled through a single buffered channel
// drained by one goroutine, but each order's timer fires on its own
// goroutine, so orders that come due within the same tick reach that
// channel in no guaranteed order; insertion order is not preserved.
type Scheduler struct {
	mu       sync.Mutex
	records  map[[32]byte]*Record
	deliver  chan Params
	stopCh   chan struct{}
	logger   *zap.Logger

	InitialInterval time.Duration
	MaxDelayStep    time.Duration

	persister   Persister
	takeChainID uint64
}

// SetPersister wires orderID/attempts bookkeeping to persister, keyed
// by takeChainID. A nil persister (the default) makes the scheduler
// purely in-memory, matching spec.md 6's "none required".
func (s *Scheduler) SetPersister(persister Persister, takeChainID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persister = persister
	s.takeChainID = takeChainID
}

// NewScheduler constructs a Scheduler. initialInterval and
// maxDelayStep parameterize the backoff formula
// next = now + (delay ?? initialInterval + attempts*maxDelayStep).
func NewScheduler(logger *zap.Logger, initialInterval, maxDelayStep time.Duration) *Scheduler {
	return &Scheduler{
		records:         make(map[[32]byte]*Record),
		deliver:         make(chan Params, 256),
		stopCh:          make(chan struct{}),
		logger:          logger,
		InitialInterval: initialInterval,
		MaxDelayStep:    maxDelayStep,
	}
}

// Deliveries returns the channel the owning pipeline should drain to
// receive re-entered orders, just like fresh feed events.
func (s *Scheduler) Deliveries() <-chan Params {
	return s.deliver
}

// Add schedules orderID for re-entry. If delay is nil, the standard
// backoff formula is used: initial_interval + attempts*max_delay_step.
// A fast-track delay (spec.md 4.6, gas blowout handling) is passed
// explicitly as delay.
func (s *Scheduler) Add(orderID [32]byte, attempts int, delay *time.Duration) {
	s.mu.Lock()

	if existing, ok := s.records[orderID]; ok && existing.timer != nil {
		existing.timer.Stop()
	}

	d := s.InitialInterval + time.Duration(attempts)*s.MaxDelayStep
	if delay != nil {
		d = *delay
	}

	rec := &Record{
		Params:         Params{OrderID: orderID, Attempts: attempts},
		FirstSeen:      time.Now(),
		Attempts:       attempts,
		NextEligibleAt: time.Now().Add(d),
	}
	if r, ok := s.records[orderID]; ok {
		rec.FirstSeen = r.FirstSeen
	}

	rec.timer = time.AfterFunc(d, func() { s.fire(orderID) })
	s.records[orderID] = rec

	persister, takeChainID := s.persister, s.takeChainID
	s.mu.Unlock()

	s.logger.Debug("mempool: scheduled order",
		zap.String("order_id", common.Bytes2Hex(orderID[:])),
		zap.Int("attempts", attempts),
		zap.Duration("delay", d))

	if persister != nil {
		if err := persister.UpsertMempoolEntry(common.Bytes2Hex(orderID[:]), takeChainID, attempts, rec.FirstSeen, rec.NextEligibleAt); err != nil {
			s.logger.Error("mempool: persist entry failed", zap.String("order_id", common.Bytes2Hex(orderID[:])), zap.Error(err))
		}
	}
}

func (s *Scheduler) fire(orderID [32]byte) {
	s.mu.Lock()
	rec, ok := s.records[orderID]
	if ok {
		delete(s.records, orderID)
	}
	s.mu.Unlock()

	if !ok {
		return // cancelled between timer fire and lock acquisition
	}

	select {
	case s.deliver <- rec.Params:
	case <-s.stopCh:
	}
}

// Delete cancels orderID's pending re-entry, if any. Used both for
// ordinary terminal-state cleanup and for a Cancelled status arriving
// while the order sits in the mempool (spec.md 5: "removes it
// synchronously").
func (s *Scheduler) Delete(orderID [32]byte) {
	s.mu.Lock()
	_, existed := s.records[orderID]
	if rec, ok := s.records[orderID]; ok {
		if rec.timer != nil {
			rec.timer.Stop()
		}
		delete(s.records, orderID)
	}
	persister := s.persister
	s.mu.Unlock()

	if !existed || persister == nil {
		return
	}
	if err := persister.DeleteMempoolEntry(common.Bytes2Hex(orderID[:])); err != nil {
		s.logger.Error("mempool: delete persisted entry failed", zap.String("order_id", common.Bytes2Hex(orderID[:])), zap.Error(err))
	}
}

// Contains reports whether orderID currently has a pending re-entry —
// used by the pipeline to recognize re-delivered orders.
func (s *Scheduler) Contains(orderID [32]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[orderID]
	return ok
}

// Attempts returns the attempt count recorded for orderID, or 0 if
// absent.
func (s *Scheduler) Attempts(orderID [32]byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[orderID]; ok {
		return rec.Attempts
	}
	return 0
}

// Stop drains pending timers without firing them (spec.md 5: shutdown
// drains mempool timers without firing).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if rec.timer != nil {
			rec.timer.Stop()
		}
		delete(s.records, id)
	}
	close(s.stopCh)
}
