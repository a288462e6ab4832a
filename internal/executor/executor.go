// Package executor implements the Fulfillment Executor: it builds a
// destination-chain fulfill transaction (optionally preceded by a
// swap), gas-estimates it with safety multipliers on EVM chains,
// broadcasts it, and waits for on-chain confirmation (spec.md 4.6).
//
// Engine-specific behavior is reached through a type switch on
// capability.Engine rather than a shared base class, per the "dynamic
// dispatch on chain engine" design note.
package executor

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Magma-Layer/dln-taker/internal/capability"
	"github.com/Magma-Layer/dln-taker/internal/chainregistry"
	"github.com/Magma-Layer/dln-taker/internal/errs"
	"github.com/Magma-Layer/dln-taker/internal/order"
)

// Safety multipliers from spec.md 4.6.
const (
	GasLimitSafetyMultiplier = 1.25
	GasPriceBumpMultiplier   = 1.30
)

// WaitForConfirmationTimeout bounds the post-broadcast polling
// horizon; exceeding it is treated as transient (spec.md 5).
const WaitForConfirmationTimeout = 2 * time.Minute

// FulfillABI is the minimal fulfillment entrypoint the executor
// encodes calldata against. In production this would be generated
// from the taker protocol's full ABI; the core only needs the one
// method it calls.
const FulfillABI = `[{
	"type": "function",
	"name": "fulfillOrder",
	"inputs": [
		{"name": "orderId", "type": "bytes32"},
		{"name": "receiver", "type": "address"},
		{"name": "reserveToken", "type": "address"},
		{"name": "takeAmount", "type": "uint256"},
		{"name": "slippageBps", "type": "uint16"},
		{"name": "unlockAuthority", "type": "address"}
	],
	"outputs": []
}]`

// Executor builds and drives fulfillment transactions.
type Executor struct {
	Swaps capability.SwapConnector
	fulfillABI abi.ABI
}

// New parses the fulfill ABI once at construction.
func New(swaps capability.SwapConnector) (*Executor, error) {
	parsed, err := abi.JSON(strings.NewReader(FulfillABI))
	if err != nil {
		return nil, fmt.Errorf("parse fulfill abi: %w", err)
	}
	return &Executor{Swaps: swaps, fulfillABI: parsed}, nil
}

// BuildFulfillTx assembles the fulfill transaction for entry's engine.
// preferQuote, if non-nil, is reused instead of fetching a fresh swap
// route — keeping live fulfillment consistent with whatever quote
// profitability was evaluated against (spec.md 4.5).
func (x *Executor) BuildFulfillTx(
	ctx context.Context,
	entry *chainregistry.Entry,
	o order.Order,
	reserveToken common.Address,
	slippageBps uint32,
	recipientRole string,
	preferQuote *capability.SwapQuote,
) (capability.Transaction, capability.SwapQuote, error) {
	quote := preferQuote
	if quote == nil {
		q, err := x.Swaps.Quote(ctx, capability.SwapRequest{
			Engine:      entry.Engine,
			ChainID:     o.Take.ChainID,
			FromToken:   reserveToken,
			ToToken:     o.Take.Token,
			AmountIn:    o.Take.Amount,
			SlippageBps: slippageBps,
			Recipient:   recipientRole,
		})
		if err != nil {
			return capability.Transaction{}, capability.SwapQuote{}, fmt.Errorf("swap quote: %w: %v", errs.ErrClient, err)
		}
		quote = &q
	}

	switch entry.Engine {
	case capability.EngineEVM:
		data, err := x.fulfillABI.Pack("fulfillOrder",
			[32]byte(o.OrderID),
			o.Receiver,
			reserveToken,
			o.Take.Amount,
			uint16(slippageBps),
			common.HexToAddress(entry.UnlockSigner.Address()),
		)
		if err != nil {
			return capability.Transaction{}, capability.SwapQuote{}, fmt.Errorf("encode fulfill calldata: %w", err)
		}
		tx := capability.Transaction{
			Engine: capability.EngineEVM,
			EVM: &capability.EVMTxParams{
				To:   o.Take.Token, // placeholder destination: the taker contract address is environment-specific and supplied by config in a full deployment
				Data: append(quote.Calldata, data...),
			},
		}
		return tx, *quote, nil
	case capability.EngineSolana:
		tx := capability.Transaction{
			Engine: capability.EngineSolana,
			Solana: &capability.SolanaTxParams{
				Instructions: [][]byte{quote.Calldata},
			},
		}
		return tx, *quote, nil
	default:
		return capability.Transaction{}, capability.SwapQuote{}, fmt.Errorf("%w: unknown engine %v", errs.ErrFatalInternal, entry.Engine)
	}
}

// EstimateCapped runs entry's EVM gas estimate and gas price, applying
// the 1.25x/1.3x safety multipliers from spec.md 4.6. Solana entries
// return nil caps (no gas bumping applies).
func (x *Executor) EstimateCapped(ctx context.Context, entry *chainregistry.Entry, tx capability.EVMTxParams) (gasLimitCap, gasPriceCap *big.Int, err error) {
	if entry.Engine != capability.EngineEVM {
		return nil, nil, nil
	}

	gas, err := entry.Client.EstimateGas(ctx, tx)
	if err != nil {
		return nil, nil, fmt.Errorf("estimate gas: %w: %v", errs.ErrTransientRpc, err)
	}
	price, err := entry.Client.GasPrice(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("gas price: %w: %v", errs.ErrTransientRpc, err)
	}

	gasLimitCap = mulFloat(new(big.Int).SetUint64(gas), GasLimitSafetyMultiplier)
	gasPriceCap = mulFloat(price, GasPriceBumpMultiplier)
	return gasLimitCap, gasPriceCap, nil
}

// Broadcast sends tx through entry's fulfill signer.
func (x *Executor) Broadcast(ctx context.Context, entry *chainregistry.Entry, tx capability.Transaction, logger *zap.Logger) (capability.TxHandle, error) {
	h, err := entry.FulfillSigner.SendTransaction(ctx, tx, logger)
	if err != nil {
		return capability.TxHandle{}, fmt.Errorf("broadcast: %w: %v", errs.ErrTransientRpc, err)
	}
	return h, nil
}

// WaitForConfirmation polls entry's client for on-chain observation of
// h, bounded by WaitForConfirmationTimeout.
func (x *Executor) WaitForConfirmation(ctx context.Context, entry *chainregistry.Entry, h capability.TxHandle) error {
	ctx, cancel := context.WithTimeout(ctx, WaitForConfirmationTimeout)
	defer cancel()

	if err := entry.Client.WaitForConfirmation(ctx, h); err != nil {
		return fmt.Errorf("wait for confirmation: %w: %v", errs.ErrTransientRpc, err)
	}
	return nil
}

func mulFloat(v *big.Int, f float64) *big.Int {
	// Scale by a fixed-point factor to avoid floating point rounding
	// surprises on large wei values: multiply by round(f*1000), divide
	// by 1000.
	scaled := new(big.Int).Mul(v, big.NewInt(int64(math.Round(f*1000))))
	return scaled.Div(scaled, big.NewInt(1000))
}
