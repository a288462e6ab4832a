package mempool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func idFor(b byte) [32]byte {
	var id [32]byte
	id[0] = b
	return id
}

type fakePersister struct {
	mu       sync.Mutex
	upserts  []int
	deletes  []string
}

func (f *fakePersister) UpsertMempoolEntry(orderID string, takeChainID uint64, attempts int, firstSeenAt, nextEligibleAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, attempts)
	return nil
}

func (f *fakePersister) DeleteMempoolEntry(orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, orderID)
	return nil
}

func newTestScheduler() *Scheduler {
	return NewScheduler(zap.NewNop(), 10*time.Millisecond, 5*time.Millisecond)
}

func TestAddDeliversAfterBackoffDelay(t *testing.T) {
	s := newTestScheduler()
	id := idFor(1)

	s.Add(id, 0, nil)
	assert.True(t, s.Contains(id))

	select {
	case p := <-s.Deliveries():
		assert.Equal(t, id, p.OrderID)
		assert.Equal(t, 0, p.Attempts)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected delivery before timeout")
	}
	assert.False(t, s.Contains(id))
}

func TestAddHigherAttemptsDelaysLonger(t *testing.T) {
	s := newTestScheduler()
	fast, slow := idFor(1), idFor(2)

	s.Add(slow, 10, nil)
	s.Add(fast, 0, nil)

	select {
	case p := <-s.Deliveries():
		assert.Equal(t, fast, p.OrderID, "lower attempt count should use a shorter backoff and fire first")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected delivery before timeout")
	}
}

func TestAddExplicitDelayOverridesFormula(t *testing.T) {
	s := newTestScheduler()
	id := idFor(1)
	fastTrack := 2 * time.Millisecond

	start := time.Now()
	s.Add(id, 100, &fastTrack)

	select {
	case <-s.Deliveries():
		assert.Less(t, time.Since(start), 50*time.Millisecond, "explicit delay must override the attempts-scaled formula")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected delivery before timeout")
	}
}

func TestDeleteCancelsPendingReentry(t *testing.T) {
	s := newTestScheduler()
	id := idFor(1)

	s.Add(id, 0, nil)
	s.Delete(id)
	assert.False(t, s.Contains(id))

	select {
	case <-s.Deliveries():
		t.Fatal("deleted order must not be delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAttemptsReturnsRecordedCountOrZero(t *testing.T) {
	s := newTestScheduler()
	id := idFor(1)

	assert.Equal(t, 0, s.Attempts(id))
	s.Add(id, 3, nil)
	assert.Equal(t, 3, s.Attempts(id))
}

func TestReAddReplacesPendingTimer(t *testing.T) {
	s := newTestScheduler()
	id := idFor(1)

	long := time.Hour
	s.Add(id, 0, &long)
	assert.Equal(t, 0, s.Attempts(id))

	s.Add(id, 5, nil)
	assert.Equal(t, 5, s.Attempts(id), "re-adding the same order id must replace, not queue alongside, the prior timer")

	select {
	case p := <-s.Deliveries():
		assert.Equal(t, 5, p.Attempts)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected delivery from the replaced timer")
	}
}

func TestAddAndDeletePersistEntry(t *testing.T) {
	s := newTestScheduler()
	persister := &fakePersister{}
	s.SetPersister(persister, 2)
	id := idFor(1)

	s.Add(id, 1, nil)
	require.Len(t, persister.upserts, 1)
	assert.Equal(t, 1, persister.upserts[0])

	s.Delete(id)
	require.Len(t, persister.deletes, 1)
}

func TestDeleteOfUnknownOrderDoesNotPersist(t *testing.T) {
	s := newTestScheduler()
	persister := &fakePersister{}
	s.SetPersister(persister, 2)

	s.Delete(idFor(9))
	assert.Empty(t, persister.deletes, "deleting an order with no pending record has nothing to persist")
}

func TestStopDrainsWithoutFiring(t *testing.T) {
	s := newTestScheduler()
	s.Add(idFor(1), 0, nil)
	s.Add(idFor(2), 0, nil)

	s.Stop()

	select {
	case <-s.Deliveries():
		t.Fatal("stopped scheduler must not deliver pending entries")
	case <-time.After(50 * time.Millisecond):
	}
}
