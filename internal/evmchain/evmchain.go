// Package evmchain is the default capability.Signer/ChainClient
// adapter for EVM chains: an ethclient.Client wrapped with an ecdsa
// signing key, grounded on the teacher's crawler use of ethclient and
// go-ethereum's abi/crypto packages — generalized here from read-only
// log scanning to signing and broadcasting transactions.
package evmchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/Magma-Layer/dln-taker/internal/capability"
	"github.com/Magma-Layer/dln-taker/internal/errs"
)

// erc20BalanceOfSig is keccak256("balanceOf(address)")[:4], used to
// read token balances without pulling in a full ERC-20 binding.
var erc20BalanceOfSig = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

// Signer signs and broadcasts EVM transactions with a single ecdsa
// key against one RPC endpoint.
type Signer struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewSigner dials rpcURL and derives the signing address from
// privateKeyHex (a leading 0x prefix is accepted and stripped).
func NewSigner(ctx context.Context, rpcURL, privateKeyHex string) (*Signer, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id from %s: %w", rpcURL, err)
	}
	return &Signer{
		client:  client,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

func (s *Signer) Engine() capability.Engine { return capability.EngineEVM }

func (s *Signer) Address() string { return s.address.Hex() }

// GetBalance reads the native balance when token is the zero address,
// otherwise calls the token's balanceOf(address) view function.
func (s *Signer) GetBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	if token == (common.Address{}) {
		bal, err := s.client.BalanceAt(ctx, s.address, nil)
		if err != nil {
			return nil, fmt.Errorf("balance at %s: %w: %v", s.address.Hex(), errs.ErrTransientRpc, err)
		}
		return bal, nil
	}

	data := append(append([]byte{}, erc20BalanceOfSig...), common.LeftPadBytes(s.address.Bytes(), 32)...)
	out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w: %v", token.Hex(), errs.ErrTransientRpc, err)
	}
	return new(big.Int).SetBytes(out), nil
}

// SendTransaction signs and broadcasts an EVM transaction, using
// GasLimitCap/GasPriceCap from tx.EVM when present and the client's
// own estimate/suggestion otherwise.
func (s *Signer) SendTransaction(ctx context.Context, tx capability.Transaction, logger *zap.Logger) (capability.TxHandle, error) {
	if tx.Engine != capability.EngineEVM || tx.EVM == nil {
		return capability.TxHandle{}, fmt.Errorf("evmchain signer received non-EVM transaction: %w", errs.ErrFatalInternal)
	}
	params := tx.EVM

	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return capability.TxHandle{}, fmt.Errorf("pending nonce: %w: %v", errs.ErrTransientRpc, err)
	}

	gasPrice := params.GasPriceCap
	if gasPrice == nil {
		gasPrice, err = s.client.SuggestGasPrice(ctx)
		if err != nil {
			return capability.TxHandle{}, fmt.Errorf("suggest gas price: %w: %v", errs.ErrTransientRpc, err)
		}
	}

	value := params.Value
	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit := uint64(0)
	if params.GasLimitCap != nil {
		gasLimit = params.GasLimitCap.Uint64()
	} else {
		gasLimit, err = s.client.EstimateGas(ctx, ethereum.CallMsg{
			From: s.address, To: &params.To, Value: value, Data: params.Data, GasPrice: gasPrice,
		})
		if err != nil {
			return capability.TxHandle{}, fmt.Errorf("estimate gas: %w: %v", errs.ErrTransientRpc, err)
		}
	}

	rawTx := types.NewTransaction(nonce, params.To, value, gasLimit, gasPrice, params.Data)
	signed, err := types.SignTx(rawTx, types.NewEIP155Signer(s.chainID), s.key)
	if err != nil {
		return capability.TxHandle{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return capability.TxHandle{}, fmt.Errorf("broadcast tx: %w: %v", errs.ErrTransientRpc, err)
	}

	logger.Info("evm transaction broadcast",
		zap.String("hash", signed.Hash().Hex()),
		zap.Uint64("gas_limit", gasLimit))

	return capability.TxHandle{Engine: capability.EngineEVM, Hash: signed.Hash().Hex()}, nil
}

// Client is the read-side capability.ChainClient for EVM chains. It
// shares no state with Signer so a process may wire a client for a
// chain it only reads (e.g. the give chain's confirmation checks)
// without holding a signing key for it.
type Client struct {
	client          *ethclient.Client
	orderContract   common.Address
	logger          *zap.Logger
}

// NewClient dials rpcURL for read-only use against orderContract, the
// address the taker protocol's order state is tracked on.
func NewClient(rpcURL string, orderContract common.Address, logger *zap.Logger) (*Client, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return &Client{client: client, orderContract: orderContract, logger: logger}, nil
}

func (c *Client) Engine() capability.Engine { return capability.EngineEVM }

// OrderState calls a read-only view on the order contract. The exact
// selector is protocol-specific; this issues an eth_call against a
// fixed 4-byte selector keccak256("getOrderState(bytes32)") and
// decodes the two boolean flags from the first 64 bytes returned.
func (c *Client) OrderState(ctx context.Context, id [32]byte) (capability.OrderOnChainState, error) {
	selector := crypto.Keccak256([]byte("getOrderState(bytes32)"))[:4]
	data := append(append([]byte{}, selector...), id[:]...)

	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.orderContract, Data: data}, nil)
	if err != nil {
		return capability.OrderOnChainState{}, fmt.Errorf("order state call: %w: %v", errs.ErrTransientRpc, err)
	}
	if len(out) < 64 {
		return capability.OrderOnChainState{}, fmt.Errorf("order state call returned %d bytes, want >= 64: %w", len(out), errs.ErrTransientRpc)
	}
	return capability.OrderOnChainState{
		GiveStateCreated: new(big.Int).SetBytes(out[:32]).Sign() != 0,
		TakeFulfilled:    new(big.Int).SetBytes(out[32:64]).Sign() != 0,
	}, nil
}

func (c *Client) EstimateGas(ctx context.Context, tx capability.EVMTxParams) (uint64, error) {
	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}
	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{To: &tx.To, Value: value, Data: tx.Data})
	if err != nil {
		return 0, fmt.Errorf("estimate gas: %w: %v", errs.ErrTransientRpc, err)
	}
	return gas, nil
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w: %v", errs.ErrTransientRpc, err)
	}
	return price, nil
}

// WaitForConfirmation polls for the transaction's receipt until ctx
// is done, matching the bound the executor applies
// (executor.WaitForConfirmationTimeout).
func (c *Client) WaitForConfirmation(ctx context.Context, h capability.TxHandle) error {
	hash := common.HexToHash(h.Hash)
	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return nil
			}
			return fmt.Errorf("transaction %s reverted: %w", h.Hash, errs.ErrFatalInternal)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for confirmation of %s: %w: %v", h.Hash, errs.ErrTransientRpc, ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
}
