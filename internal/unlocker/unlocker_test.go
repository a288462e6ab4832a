package unlocker

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Magma-Layer/dln-taker/internal/capability"
	"github.com/Magma-Layer/dln-taker/internal/order"
)

type fakeSender struct {
	calls [][]order.ID
	err   error
}

func (f *fakeSender) SendUnlock(ctx context.Context, giveChainID uint64, giveToken common.Address, orderIDs []order.ID, logger *zap.Logger) (capability.TxHandle, error) {
	f.calls = append(f.calls, orderIDs)
	if f.err != nil {
		return capability.TxHandle{}, f.err
	}
	return capability.TxHandle{Hash: "0xabc"}, nil
}

var giveToken = common.HexToAddress("0x1111111111111111111111111111111111111111")

type fakePersister struct {
	inserted []string
	deleted  [][]string
}

func (f *fakePersister) InsertBatchEntry(orderID string, giveChainID uint64, giveToken, receiver, amount string) error {
	f.inserted = append(f.inserted, orderID)
	return nil
}

func (f *fakePersister) DeleteBatchEntries(orderIDs []string) error {
	f.deleted = append(f.deleted, orderIDs)
	return nil
}

func entryFor(b byte) Entry {
	return Entry{OrderID: order.ID{b}, Amount: big.NewInt(1)}
}

func TestNewRejectsBatchSizeOutOfRange(t *testing.T) {
	_, err := New(&fakeSender{}, zap.NewNop(), 0)
	assert.Error(t, err)

	_, err = New(&fakeSender{}, zap.NewNop(), 11)
	assert.Error(t, err)
}

func TestEnqueueDoesNotFlushPartialBatch(t *testing.T) {
	sender := &fakeSender{}
	u, err := New(sender, zap.NewNop(), 3)
	require.NoError(t, err)

	require.NoError(t, u.Enqueue(context.Background(), 1, giveToken, entryFor(1)))
	require.NoError(t, u.Enqueue(context.Background(), 1, giveToken, entryFor(2)))

	assert.Empty(t, sender.calls, "a partial batch must never be flushed")
	assert.Equal(t, 2, u.PendingCount(1, giveToken))
}

func TestEnqueueFlushesOnceBatchFills(t *testing.T) {
	sender := &fakeSender{}
	u, err := New(sender, zap.NewNop(), 2)
	require.NoError(t, err)

	require.NoError(t, u.Enqueue(context.Background(), 1, giveToken, entryFor(1)))
	require.NoError(t, u.Enqueue(context.Background(), 1, giveToken, entryFor(2)))

	require.Len(t, sender.calls, 1)
	assert.Len(t, sender.calls[0], 2)
	assert.Equal(t, 0, u.PendingCount(1, giveToken), "slot must reset after a flush")
}

func TestEnqueueKeepsSeparateSlotsPerGiveTokenAndChain(t *testing.T) {
	sender := &fakeSender{}
	u, err := New(sender, zap.NewNop(), 2)
	require.NoError(t, err)

	otherToken := common.HexToAddress("0x2222222222222222222222222222222222222222")
	require.NoError(t, u.Enqueue(context.Background(), 1, giveToken, entryFor(1)))
	require.NoError(t, u.Enqueue(context.Background(), 1, otherToken, entryFor(2)))

	assert.Equal(t, 1, u.PendingCount(1, giveToken))
	assert.Equal(t, 1, u.PendingCount(1, otherToken))
	assert.Empty(t, sender.calls)
}

func TestEnqueuePropagatesSendFailure(t *testing.T) {
	sender := &fakeSender{err: assert.AnError}
	u, err := New(sender, zap.NewNop(), 1)
	require.NoError(t, err)

	err = u.Enqueue(context.Background(), 1, giveToken, entryFor(1))
	assert.Error(t, err)
}

func TestBatchSizeReturnsConfiguredValue(t *testing.T) {
	u, err := New(&fakeSender{}, zap.NewNop(), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, u.BatchSize())
}

func TestEnqueuePersistsEntryAndDeletesOnFlush(t *testing.T) {
	sender := &fakeSender{}
	persister := &fakePersister{}
	u, err := New(sender, zap.NewNop(), 2)
	require.NoError(t, err)
	u.SetPersister(persister)

	require.NoError(t, u.Enqueue(context.Background(), 1, giveToken, entryFor(1)))
	assert.Len(t, persister.inserted, 1, "every enqueue persists its entry, not just the flushing one")
	assert.Empty(t, persister.deleted)

	require.NoError(t, u.Enqueue(context.Background(), 1, giveToken, entryFor(2)))
	assert.Len(t, persister.inserted, 2)
	require.Len(t, persister.deleted, 1, "a filled batch deletes its persisted entries after a successful send")
	assert.ElementsMatch(t, persister.deleted[0], []string{order.ID{1}.String(), order.ID{2}.String()})
}

func TestRestoreRehydratesSlotWithoutReinserting(t *testing.T) {
	sender := &fakeSender{}
	persister := &fakePersister{}
	u, err := New(sender, zap.NewNop(), 2)
	require.NoError(t, err)
	u.SetPersister(persister)

	require.NoError(t, u.Restore(context.Background(), 1, giveToken, []Entry{entryFor(3)}))
	assert.Empty(t, persister.inserted, "restoring from already-persisted rows must not re-write them")
	assert.Equal(t, 1, u.PendingCount(1, giveToken))
	assert.Empty(t, sender.calls)

	require.NoError(t, u.Enqueue(context.Background(), 1, giveToken, entryFor(4)))
	require.Len(t, sender.calls, 1, "the restored entry plus one fresh enqueue fills the batch")
}

func TestRestoreFlushesImmediatelyWhenAlreadyFull(t *testing.T) {
	sender := &fakeSender{}
	u, err := New(sender, zap.NewNop(), 2)
	require.NoError(t, err)

	require.NoError(t, u.Restore(context.Background(), 1, giveToken, []Entry{entryFor(5), entryFor(6)}))
	require.Len(t, sender.calls, 1, "a restored slot already at the batch limit flushes on load, covering a crash between persist and send")
}
