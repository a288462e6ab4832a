// Package unlocksender implements unlocker.UnlockSender: it encodes a
// batch-unlock call against the registry's unlock signer for the
// order's give chain, the same ABI-encode-then-SendTransaction shape
// executor.Executor uses for fulfillment, generalized to operate
// per-give-chain instead of per-take-chain.
package unlocksender

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Magma-Layer/dln-taker/internal/capability"
	"github.com/Magma-Layer/dln-taker/internal/chainregistry"
	"github.com/Magma-Layer/dln-taker/internal/errs"
	"github.com/Magma-Layer/dln-taker/internal/order"
)

// UnlockABI is the minimal batch-unlock entrypoint this sender encodes
// calldata against.
const UnlockABI = `[{
	"type": "function",
	"name": "unlockOrders",
	"inputs": [
		{"name": "orderIds", "type": "bytes32[]"},
		{"name": "giveToken", "type": "address"}
	],
	"outputs": []
}]`

// Sender dispatches unlock transactions through the give chain's
// configured unlock signer, looked up in registry by chain id.
type Sender struct {
	registry  *chainregistry.Registry
	unlockABI abi.ABI
}

// New parses UnlockABI once at construction.
func New(registry *chainregistry.Registry) (*Sender, error) {
	parsed, err := abi.JSON(strings.NewReader(UnlockABI))
	if err != nil {
		return nil, fmt.Errorf("parse unlock abi: %w", err)
	}
	return &Sender{registry: registry, unlockABI: parsed}, nil
}

// SendUnlock encodes and broadcasts the batch unlock for orderIDs on
// giveChainID/giveToken through that chain's configured unlock
// signer (chainregistry.Entry.UnlockSigner, spec.md 4.9).
func (s *Sender) SendUnlock(ctx context.Context, giveChainID uint64, giveToken common.Address, orderIDs []order.ID, logger *zap.Logger) (capability.TxHandle, error) {
	entry, err := s.registry.Get(giveChainID)
	if err != nil {
		return capability.TxHandle{}, err
	}
	if entry.UnlockSigner == nil {
		return capability.TxHandle{}, fmt.Errorf("chain %d has no unlock signer configured: %w", giveChainID, errs.ErrFatalInternal)
	}

	ids := make([][32]byte, len(orderIDs))
	for i, id := range orderIDs {
		ids[i] = [32]byte(id)
	}

	switch entry.Engine {
	case capability.EngineEVM:
		data, err := s.unlockABI.Pack("unlockOrders", ids, giveToken)
		if err != nil {
			return capability.TxHandle{}, fmt.Errorf("encode unlock calldata: %w", err)
		}
		tx := capability.Transaction{
			Engine: capability.EngineEVM,
			EVM: &capability.EVMTxParams{
				To:   giveToken, // placeholder destination: the give chain's taker contract is environment-specific
				Data: data,
			},
		}
		h, err := entry.UnlockSigner.SendTransaction(ctx, tx, logger)
		if err != nil {
			return capability.TxHandle{}, fmt.Errorf("broadcast unlock: %w: %v", errs.ErrTransientRpc, err)
		}
		return h, nil
	case capability.EngineSolana:
		tx := capability.Transaction{
			Engine: capability.EngineSolana,
			Solana: &capability.SolanaTxParams{Instructions: [][]byte{giveToken.Bytes()}},
		}
		h, err := entry.UnlockSigner.SendTransaction(ctx, tx, logger)
		if err != nil {
			return capability.TxHandle{}, fmt.Errorf("broadcast unlock: %w: %v", errs.ErrTransientRpc, err)
		}
		return h, nil
	default:
		return capability.TxHandle{}, fmt.Errorf("%w: unknown engine %v", errs.ErrFatalInternal, entry.Engine)
	}
}
