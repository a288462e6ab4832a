package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Magma-Layer/dln-taker/internal/budget"
	"github.com/Magma-Layer/dln-taker/internal/bucket"
	"github.com/Magma-Layer/dln-taker/internal/capability"
	"github.com/Magma-Layer/dln-taker/internal/chainregistry"
	"github.com/Magma-Layer/dln-taker/internal/evaluator"
	"github.com/Magma-Layer/dln-taker/internal/executor"
	"github.com/Magma-Layer/dln-taker/internal/order"
	"github.com/Magma-Layer/dln-taker/internal/unlocker"
)

var (
	giveTok    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	reserveTok = common.HexToAddress("0x2222222222222222222222222222222222222222")
	takeTok    = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type stubClient struct{}

func (stubClient) Engine() capability.Engine { return capability.EngineSolana }
func (stubClient) OrderState(ctx context.Context, id [32]byte) (capability.OrderOnChainState, error) {
	return capability.OrderOnChainState{GiveStateCreated: true, TakeFulfilled: false}, nil
}
func (stubClient) EstimateGas(ctx context.Context, tx capability.EVMTxParams) (uint64, error) {
	return 0, nil
}
func (stubClient) GasPrice(ctx context.Context) (*big.Int, error) { return big.NewInt(0), nil }
func (stubClient) WaitForConfirmation(ctx context.Context, h capability.TxHandle) error {
	return nil
}

type stubSigner struct{}

func (stubSigner) Engine() capability.Engine { return capability.EngineSolana }
func (stubSigner) Address() string           { return "stub" }
func (stubSigner) GetBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}
func (stubSigner) SendTransaction(ctx context.Context, tx capability.Transaction, logger *zap.Logger) (capability.TxHandle, error) {
	return capability.TxHandle{Engine: capability.EngineSolana, Hash: "sig"}, nil
}

type stubPrices struct{}

func (stubPrices) USDPrice(ctx context.Context, chainID uint64, token common.Address) (float64, error) {
	return 1, nil
}

type stubSwap struct{}

func (stubSwap) Quote(ctx context.Context, req capability.SwapRequest) (capability.SwapQuote, error) {
	return capability.SwapQuote{AmountOut: big.NewInt(1050)}, nil
}
func (stubSwap) SupportedChains() []uint64 { return nil }
func (stubSwap) DisableChain(uint64)       {}

type recordingSender struct {
	fulfilled chan order.ID
}

func (r *recordingSender) SendUnlock(ctx context.Context, giveChainID uint64, giveToken common.Address, orderIDs []order.ID, logger *zap.Logger) (capability.TxHandle, error) {
	for _, id := range orderIDs {
		r.fulfilled <- id
	}
	return capability.TxHandle{Hash: "unlock"}, nil
}

func testBuckets(t *testing.T) *bucket.Set {
	t.Helper()
	return bucket.NewSet([]bucket.Bucket{
		{
			Name: "reserve",
			Members: map[bucket.Key]int{
				{ChainID: 1, Token: giveTok}:    0,
				{ChainID: 2, Token: reserveTok}: 0,
			},
		},
		{
			Name: "take",
			Members: map[bucket.Key]int{
				{ChainID: 2, Token: takeTok}: 0,
			},
		},
	})
}

func buildTestPipeline(t *testing.T) (*Pipeline, *recordingSender) {
	t.Helper()
	return buildTestPipelineWithClient(t, stubClient{})
}

func buildTestPipelineWithClient(t *testing.T, client capability.ChainClient) (*Pipeline, *recordingSender) {
	t.Helper()
	return buildTestPipelineWithClientAndRestore(t, client, nil)
}

func buildTestPipelineWithClientAndRestore(t *testing.T, client capability.ChainClient, restoreAttempts map[order.ID]int) (*Pipeline, *recordingSender) {
	t.Helper()
	buckets := testBuckets(t)

	giveEntry := &chainregistry.Entry{ChainID: 1, HardCapConfirmations: 12}
	takeEntry := &chainregistry.Entry{
		ChainID:              2,
		Engine:               capability.EngineSolana,
		Client:               client,
		FulfillSigner:        stubSigner{},
		HardCapConfirmations: 12,
		TVLBudget:            budget.NewController(1_000_000_000),
		DstConstraints: []chainregistry.DstConstraintRange{
			{USDWorthFrom: 0, USDWorthTo: 1_000_000, PreFulfillSwapChangeRecipient: "taker"},
		},
	}

	registry, err := chainregistry.Build(
		[]*chainregistry.Entry{giveEntry, takeEntry},
		buckets,
		[][2]uint64{{1, 2}},
	)
	require.NoError(t, err)

	sender := &recordingSender{fulfilled: make(chan order.ID, 10)}
	unlock, err := unlocker.New(sender, zap.NewNop(), 1)
	require.NoError(t, err)

	exec, err := executor.New(stubSwap{})
	require.NoError(t, err)

	ev := &evaluator.Evaluator{
		Buckets:             buckets,
		Prices:              stubPrices{},
		Swaps:                stubSwap{},
		MinProfitabilityBps: 100,
	}

	p, err := New(Config{
		TakeChainID:            2,
		Registry:               registry,
		Buckets:                buckets,
		Prices:                 stubPrices{},
		Evaluator:              ev,
		Executor:               exec,
		Unlocker:               unlock,
		Logger:                 zap.NewNop(),
		MempoolInitialInterval: 10 * time.Millisecond,
		MempoolMaxDelayStep:    10 * time.Millisecond,
		RestoreAttempts:        restoreAttempts,
	})
	require.NoError(t, err)
	return p, sender
}

func testOrder(id byte, status order.Status) order.Order {
	var oid order.ID
	oid[0] = id
	return order.Order{
		OrderID:  oid,
		Give:     order.Asset{ChainID: 1, Token: giveTok, Amount: big.NewInt(1000)},
		Take:     order.Asset{ChainID: 2, Token: takeTok, Amount: big.NewInt(1000)},
		Receiver: common.HexToAddress("0x4444444444444444444444444444444444444444"),
		Status:   status,
		Finalization: order.FinalizationInfo{
			Kind: order.FinalizationFinalized,
		},
	}
}

func TestPipelineProcessesPriorityQueueBeforeSecondary(t *testing.T) {
	p, sender := buildTestPipeline(t)

	secondary := testOrder(0xAA, order.StatusArchivalCreated)
	priority := testOrder(0xBB, order.StatusCreated)

	// Submitted before Run starts, both land in the buffered events
	// channel and are drained into their respective queues together.
	p.Submit(secondary)
	p.Submit(priority)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	var first, second order.ID
	select {
	case first = <-sender.fulfilled:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first fulfillment")
	}
	select {
	case second = <-sender.fulfilled:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second fulfillment")
	}

	assert.Equal(t, priority.OrderID, first, "the priority (freshly created) order must be fulfilled before the secondary (archival) order")
	assert.Equal(t, secondary.OrderID, second)
}

// erroringClient fails every OrderState call so the pipeline keeps
// mempooling the same order, recording the time of each attempt.
type erroringClient struct {
	stubClient
	seen chan time.Time
}

func (c erroringClient) OrderState(ctx context.Context, id [32]byte) (capability.OrderOnChainState, error) {
	c.seen <- time.Now()
	return capability.OrderOnChainState{}, assertErr
}

var assertErr = fmt.Errorf("stub: on-chain state unavailable")

func TestPipelineMempoolBackoffGrowsAcrossReentries(t *testing.T) {
	client := erroringClient{seen: make(chan time.Time, 8)}
	p, _ := buildTestPipelineWithClient(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Submit(testOrder(0xDD, order.StatusCreated))

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		select {
		case ts := <-client.seen:
			stamps = append(stamps, ts)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for re-entry %d", i+1)
		}
	}

	firstGap := stamps[1].Sub(stamps[0])
	secondGap := stamps[2].Sub(stamps[1])
	// Without carrying the attempt count forward, every re-entry uses
	// the same attempts=1 delay and the gaps would be equal; the fix
	// makes each gap grow by roughly MempoolMaxDelayStep.
	assert.Greater(t, secondGap, firstGap, "mempool backoff must grow across re-entries, not stay flat")
}

func TestPipelineRestoreAttemptsContinuesBackoffAcrossRestart(t *testing.T) {
	plainClient := erroringClient{seen: make(chan time.Time, 4)}
	plain, _ := buildTestPipelineWithClient(t, plainClient)

	seededClient := erroringClient{seen: make(chan time.Time, 4)}
	oid := testOrder(0xEE, order.StatusCreated).OrderID
	seeded, _ := buildTestPipelineWithClientAndRestore(t, seededClient, map[order.ID]int{oid: 5})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go plain.Run(ctx)
	go seeded.Run(ctx)

	plain.Submit(testOrder(0xFF, order.StatusCreated))
	seeded.Submit(testOrder(0xEE, order.StatusCreated))

	var plainFirst, plainSecond, seededFirst, seededSecond time.Time
	select {
	case plainFirst = <-plainClient.seen:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for plain first attempt")
	}
	select {
	case seededFirst = <-seededClient.seen:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for seeded first attempt")
	}
	select {
	case plainSecond = <-plainClient.seen:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for plain second attempt")
	}
	select {
	case seededSecond = <-seededClient.seen:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for seeded second attempt")
	}

	plainGap := plainSecond.Sub(plainFirst)
	seededGap := seededSecond.Sub(seededFirst)
	// The seeded pipeline starts at attempts=5 (as if restored after a
	// restart), so its first re-entry's backoff must be longer than the
	// plain pipeline's, which starts at attempts=0.
	assert.Greater(t, seededGap, plainGap, "RestoreAttempts must continue the backoff schedule instead of resetting it to zero")
}

func TestPipelineDropsOrderWithRevokedFinalization(t *testing.T) {
	p, sender := buildTestPipeline(t)

	o := testOrder(0xCC, order.StatusCreated)
	o.Finalization.Kind = order.FinalizationRevoked

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Submit(o)

	select {
	case <-sender.fulfilled:
		t.Fatal("a revoked-finalization order must never reach fulfillment")
	case <-time.After(200 * time.Millisecond):
	}
}
