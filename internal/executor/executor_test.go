package executor

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Magma-Layer/dln-taker/internal/capability"
	"github.com/Magma-Layer/dln-taker/internal/chainregistry"
	"github.com/Magma-Layer/dln-taker/internal/order"
)

type fakeSigner struct {
	engine  capability.Engine
	address string
}

func (f fakeSigner) Engine() capability.Engine { return f.engine }
func (f fakeSigner) Address() string           { return f.address }
func (f fakeSigner) GetBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f fakeSigner) SendTransaction(ctx context.Context, tx capability.Transaction, logger *zap.Logger) (capability.TxHandle, error) {
	return capability.TxHandle{Engine: f.engine, Hash: "0xdeadbeef"}, nil
}

type fakeClient struct {
	engine   capability.Engine
	gas      uint64
	gasPrice *big.Int
}

func (f fakeClient) Engine() capability.Engine { return f.engine }
func (f fakeClient) OrderState(ctx context.Context, id [32]byte) (capability.OrderOnChainState, error) {
	return capability.OrderOnChainState{}, nil
}
func (f fakeClient) EstimateGas(ctx context.Context, tx capability.EVMTxParams) (uint64, error) {
	return f.gas, nil
}
func (f fakeClient) GasPrice(ctx context.Context) (*big.Int, error) { return f.gasPrice, nil }
func (f fakeClient) WaitForConfirmation(ctx context.Context, h capability.TxHandle) error {
	return nil
}

type fakeSwap struct{}

func (fakeSwap) Quote(ctx context.Context, req capability.SwapRequest) (capability.SwapQuote, error) {
	return capability.SwapQuote{AmountOut: big.NewInt(100), Calldata: []byte{0xAA}}, nil
}
func (fakeSwap) SupportedChains() []uint64 { return nil }
func (fakeSwap) DisableChain(uint64)       {}

func testOrder() order.Order {
	return order.Order{
		OrderID:  order.ID{0x01},
		Receiver: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Take: order.Asset{
			ChainID: 1,
			Token:   common.HexToAddress("0x2222222222222222222222222222222222222222"),
			Amount:  big.NewInt(1000),
		},
	}
}

func TestBuildFulfillTxDispatchesEVM(t *testing.T) {
	x, err := New(fakeSwap{})
	require.NoError(t, err)

	entry := &chainregistry.Entry{
		Engine:       capability.EngineEVM,
		UnlockSigner: fakeSigner{engine: capability.EngineEVM, address: "0x3333333333333333333333333333333333333333"},
	}
	reserveToken := common.HexToAddress("0x4444444444444444444444444444444444444444")

	tx, quote, err := x.BuildFulfillTx(context.Background(), entry, testOrder(), reserveToken, 100, "taker", nil)
	require.NoError(t, err)
	assert.Equal(t, capability.EngineEVM, tx.Engine)
	require.NotNil(t, tx.EVM)
	assert.NotEmpty(t, tx.EVM.Data)
	assert.Nil(t, tx.Solana)
	assert.Equal(t, big.NewInt(100), quote.AmountOut)
}

func TestBuildFulfillTxDispatchesSolana(t *testing.T) {
	x, err := New(fakeSwap{})
	require.NoError(t, err)

	entry := &chainregistry.Entry{Engine: capability.EngineSolana}
	reserveToken := common.HexToAddress("0x4444444444444444444444444444444444444444")

	tx, _, err := x.BuildFulfillTx(context.Background(), entry, testOrder(), reserveToken, 100, "taker", nil)
	require.NoError(t, err)
	assert.Equal(t, capability.EngineSolana, tx.Engine)
	assert.Nil(t, tx.EVM)
	require.NotNil(t, tx.Solana)
	assert.Len(t, tx.Solana.Instructions, 1)
}

func TestBuildFulfillTxReusesPreferredQuote(t *testing.T) {
	x, err := New(fakeSwap{})
	require.NoError(t, err)

	entry := &chainregistry.Entry{
		Engine:       capability.EngineEVM,
		UnlockSigner: fakeSigner{engine: capability.EngineEVM, address: "0x3333333333333333333333333333333333333333"},
	}
	preferred := capability.SwapQuote{AmountOut: big.NewInt(999), Calldata: []byte{0xBB}}

	_, quote, err := x.BuildFulfillTx(context.Background(), entry, testOrder(), common.Address{}, 100, "taker", &preferred)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(999), quote.AmountOut)
}

func TestEstimateCappedAppliesSafetyMultipliers(t *testing.T) {
	x, err := New(fakeSwap{})
	require.NoError(t, err)

	entry := &chainregistry.Entry{
		Engine: capability.EngineEVM,
		Client: fakeClient{engine: capability.EngineEVM, gas: 100000, gasPrice: big.NewInt(1_000_000_000)},
	}
	limitCap, priceCap, err := x.EstimateCapped(context.Background(), entry, capability.EVMTxParams{})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(125000), limitCap)
	assert.Equal(t, big.NewInt(1_300_000_000), priceCap)
}

func TestEstimateCappedIsNoopForSolana(t *testing.T) {
	x, err := New(fakeSwap{})
	require.NoError(t, err)

	entry := &chainregistry.Entry{Engine: capability.EngineSolana}
	limitCap, priceCap, err := x.EstimateCapped(context.Background(), entry, capability.EVMTxParams{})
	require.NoError(t, err)
	assert.Nil(t, limitCap)
	assert.Nil(t, priceCap)
}

func TestBroadcastUsesFulfillSigner(t *testing.T) {
	x, err := New(fakeSwap{})
	require.NoError(t, err)

	entry := &chainregistry.Entry{
		Engine:        capability.EngineEVM,
		FulfillSigner: fakeSigner{engine: capability.EngineEVM, address: "0x5555555555555555555555555555555555555555"},
	}
	h, err := x.Broadcast(context.Background(), entry, capability.Transaction{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", h.Hash)
}
