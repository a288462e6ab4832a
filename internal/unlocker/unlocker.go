// Package unlocker implements the batch unlocker: it accumulates
// fulfilled orders by (give_chain, give_token) and issues a single
// unlock transaction once a batch fills (spec.md 4.9).
package unlocker

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Magma-Layer/dln-taker/internal/capability"
	"github.com/Magma-Layer/dln-taker/internal/order"
)

// SlotKey identifies one batch accumulator.
type SlotKey struct {
	GiveChainID uint64
	GiveToken   common.Address
}

// Entry is one fulfilled order waiting to be unlocked.
type Entry struct {
	OrderID  order.ID
	Receiver common.Address
	Amount   *big.Int
}

// UnlockSender issues the unlock transaction for a batch. Concrete
// implementations wrap a capability.Signer for the give chain; the
// core only needs this narrow seam (spec.md: "wrappers that
// format/issue the actual fulfill and unlock transactions" are
// injected capabilities).
type UnlockSender interface {
	SendUnlock(ctx context.Context, giveChainID uint64, giveToken common.Address, orderIDs []order.ID, logger *zap.Logger) (capability.TxHandle, error)
}

// Persister, if set, survives a restart by recording every batch
// entry as it's enqueued and removing it once its batch is sent
// (spec.md 6: "MAY persist ... the batch-unlocker queues for
// crash-restart parity"). statestore.Store satisfies this
// structurally.
type Persister interface {
	InsertBatchEntry(orderID string, giveChainID uint64, giveToken, receiver, amount string) error
	DeleteBatchEntries(orderIDs []string) error
}

// slot is one (give_chain, give_token) accumulator.
type slot struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
}

// Unlocker holds one slot per (give_chain, give_token) pair seen so
// far, each flushing independently once full.
type Unlocker struct {
	mu        sync.Mutex
	slots     map[SlotKey]*slot
	sender    UnlockSender
	logger    *zap.Logger
	batchSize int
	persister Persister
}

// New constructs an Unlocker. batchSize must be in [1, 10] (spec.md 3).
func New(sender UnlockSender, logger *zap.Logger, batchSize int) (*Unlocker, error) {
	if batchSize < 1 || batchSize > 10 {
		return nil, fmt.Errorf("batch_unlock_size %d out of [1,10]", batchSize)
	}
	return &Unlocker{
		slots:     make(map[SlotKey]*slot),
		sender:    sender,
		logger:    logger,
		batchSize: batchSize,
	}, nil
}

// SetPersister wires batch-entry bookkeeping to persister. A nil
// persister (the default) keeps the unlocker purely in-memory.
func (u *Unlocker) SetPersister(persister Persister) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.persister = persister
}

// Restore re-hydrates a slot from previously persisted entries at
// startup, without re-writing them (they are already in the store).
// If the restored slot is already at the batch limit — the process
// crashed after InsertBatchEntry but before the unlock send completed
// — it flushes immediately.
func (u *Unlocker) Restore(ctx context.Context, giveChainID uint64, giveToken common.Address, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	key := SlotKey{GiveChainID: giveChainID, GiveToken: giveToken}

	u.mu.Lock()
	s, ok := u.slots[key]
	if !ok {
		s = &slot{limit: u.batchSize}
		u.slots[key] = s
	}
	u.mu.Unlock()

	s.mu.Lock()
	s.entries = append(s.entries, entries...)
	full := len(s.entries) >= s.limit
	var toFlush []Entry
	if full {
		toFlush = s.entries
		s.entries = nil
	}
	s.mu.Unlock()

	if !full {
		return nil
	}
	return u.flush(ctx, giveChainID, giveToken, toFlush)
}

// Enqueue adds a fulfilled order's entry to its (give_chain,
// give_token) slot, in fulfillment order. Flushes and sends a single
// unlock transaction iff the slot reaches the configured batch size;
// partial batches are never flushed by a timer — an operator must
// intervene for a stalled partial batch (spec.md 4.9, Open Question).
func (u *Unlocker) Enqueue(ctx context.Context, giveChainID uint64, giveToken common.Address, e Entry) error {
	key := SlotKey{GiveChainID: giveChainID, GiveToken: giveToken}

	u.mu.Lock()
	s, ok := u.slots[key]
	if !ok {
		s = &slot{limit: u.batchSize}
		u.slots[key] = s
	}
	persister := u.persister
	u.mu.Unlock()

	if persister != nil {
		if err := persister.InsertBatchEntry(e.OrderID.String(), giveChainID, giveToken.Hex(), e.Receiver.Hex(), e.Amount.String()); err != nil {
			u.logger.Error("persist batch entry failed", zap.String("order_id", e.OrderID.String()), zap.Error(err))
		}
	}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	full := len(s.entries) >= s.limit
	var toFlush []Entry
	if full {
		toFlush = s.entries
		s.entries = nil
	}
	s.mu.Unlock()

	if !full {
		return nil
	}
	return u.flush(ctx, giveChainID, giveToken, toFlush)
}

// flush sends a full batch's unlock transaction and, on success,
// removes its entries from the persister.
func (u *Unlocker) flush(ctx context.Context, giveChainID uint64, giveToken common.Address, toFlush []Entry) error {
	orderIDs := make([]order.ID, len(toFlush))
	for i, ent := range toFlush {
		orderIDs[i] = ent.OrderID
	}

	logger := u.logger.With(
		zap.Uint64("give_chain_id", giveChainID),
		zap.String("give_token", giveToken.Hex()),
		zap.Int("batch_size", len(orderIDs)),
	)

	handle, err := u.sender.SendUnlock(ctx, giveChainID, giveToken, orderIDs, logger)
	if err != nil {
		// Failures are logged; entries are not requeued automatically
		// (spec.md 4.9: "the spec does not prescribe automatic unlock
		// retry" — this is left for operator intervention).
		logger.Error("unlock batch send failed; entries dropped from the batcher, operator intervention required", zap.Error(err))
		return fmt.Errorf("send unlock batch: %w", err)
	}

	logger.Info("unlock batch sent", zap.String("tx_hash", handle.Hash))

	u.mu.Lock()
	persister := u.persister
	u.mu.Unlock()
	if persister != nil {
		idStrs := make([]string, len(orderIDs))
		for i, id := range orderIDs {
			idStrs[i] = id.String()
		}
		if err := persister.DeleteBatchEntries(idStrs); err != nil {
			logger.Error("delete persisted batch entries failed", zap.Error(err))
		}
	}
	return nil
}

// BatchSize returns the configured batch_unlock_size, so callers
// amortizing the unlock cost (the profitability evaluator) don't need
// their own copy of this configuration value.
func (u *Unlocker) BatchSize() int {
	return u.batchSize
}

// PendingCount reports how many entries are queued for (give_chain,
// give_token) — used by introspection and tests.
func (u *Unlocker) PendingCount(giveChainID uint64, giveToken common.Address) int {
	u.mu.Lock()
	s, ok := u.slots[SlotKey{GiveChainID: giveChainID, GiveToken: giveToken}]
	u.mu.Unlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
