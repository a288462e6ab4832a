// Package capability defines the minimal interfaces the core consumes
// from its external collaborators: signers, chain clients, swap
// quoting and token pricing (the order feed interface lives in
// package feed). Concrete adapters
// (ethclient-backed, Kafka-backed, HTTP-backed, ...) live in sibling
// packages; this package exists so the core never imports them
// directly, matching the "polymorphic provider adapters" design note:
// define the common capability set and keep engine-specific
// operations behind a tagged variant instead of a shared base class.
package capability

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Engine tags which chain-type variant a ChainClient/Signer belongs
// to. Dispatch on this tag replaces any loose base-class hierarchy.
type Engine int

const (
	EngineEVM Engine = iota
	EngineSolana
)

// Signer is the common capability every signing identity exposes,
// regardless of engine. EVM-only or Solana-only operations are kept
// off this interface and reached through the concrete adapter type
// after a type switch on Engine.
type Signer interface {
	Engine() Engine
	Address() string // hex address (EVM) or base58 pubkey (Solana)
	GetBalance(ctx context.Context, token common.Address) (*big.Int, error)
	SendTransaction(ctx context.Context, tx Transaction, logger *zap.Logger) (TxHandle, error)
}

// Transaction is an opaque, engine-tagged payload built by the
// executor. The core never inspects its contents; only the concrete
// signer adapter for the matching Engine knows how to serialize and
// submit it.
type Transaction struct {
	Engine    Engine
	EVM       *EVMTxParams
	Solana    *SolanaTxParams
}

// EVMTxParams carries the fields an EVM fulfill/unlock transaction
// needs before signing. GasLimitCap/GasPriceCap are attached by the
// executor per spec.md 4.6; a nil cap means "use the client's
// estimate unmodified" (used for the preliminary, dummy-slippage
// construction in pipeline step 6).
type EVMTxParams struct {
	To           common.Address
	Data         []byte
	Value        *big.Int
	GasLimitCap  *big.Int
	GasPriceCap  *big.Int
}

// SolanaTxParams carries the instruction bundle for a Solana
// fulfill/unlock. No gas bumping applies on Solana (spec.md 4.6).
type SolanaTxParams struct {
	Instructions [][]byte
}

// TxHandle is returned by SendTransaction and polled by
// WaitForConfirmation.
type TxHandle struct {
	Engine Engine
	Hash   string // tx hash (EVM) or signature (Solana)
}

// ChainClient is the read-side capability the executor and
// profitability evaluator need from a chain's RPC endpoint.
type ChainClient interface {
	Engine() Engine
	// OrderState reports whether id is recorded Created on the give
	// side, and whether it is already fulfilled on the take side.
	OrderState(ctx context.Context, id [32]byte) (OrderOnChainState, error)
	// EstimateGas is EVM-only; Solana clients return (0, nil).
	EstimateGas(ctx context.Context, tx EVMTxParams) (uint64, error)
	// GasPrice is EVM-only.
	GasPrice(ctx context.Context) (*big.Int, error)
	WaitForConfirmation(ctx context.Context, h TxHandle) error
}

// OrderOnChainState is the give/take-side snapshot process_order
// needs in step 2 of spec.md 4.8.
type OrderOnChainState struct {
	GiveStateCreated bool
	TakeFulfilled    bool
}

// SwapQuote is a previously-fetched route, threaded through as
// preferEstimation so the live fulfillment stays consistent with the
// quote used during profitability estimation (spec.md 4.5).
type SwapQuote struct {
	AmountOut      *big.Int
	MinAmountOut   *big.Int
	Calldata       []byte
	RecipientRole  string // "taker" or "maker", from pre_fulfill_swap_change_recipient
}

// SwapRequest describes the swap the connector should quote or route.
// SlippageBps is an explicit field here rather than a process-wide
// override hook, per the "global slippage override" design note.
type SwapRequest struct {
	Engine       Engine
	ChainID      uint64
	FromToken    common.Address
	ToToken      common.Address
	AmountIn     *big.Int
	SlippageBps  uint32
	Recipient    string
}

// SwapConnector quotes and builds swap routes. The default
// implementation dispatches 1inch for EVM chains and Jupiter for
// Solana (spec.md 6); a custom connector is rejected at config time.
type SwapConnector interface {
	Quote(ctx context.Context, req SwapRequest) (SwapQuote, error)
	SupportedChains() []uint64
	DisableChain(chainID uint64)
}

// TokenPriceService resolves a USD price for a (chain, token) pair.
// Default implementation talks to Coingecko (spec.md 6).
type TokenPriceService interface {
	USDPrice(ctx context.Context, chainID uint64, token common.Address) (float64, error)
}
