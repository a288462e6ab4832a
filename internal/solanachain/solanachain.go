// Package solanachain is the capability.Signer/ChainClient adapter
// for Solana: a thin JSON-RPC client over net/http, the same
// raw-HTTP approach swapconnector.quoteJupiter uses, since no Solana
// SDK appears anywhere in the dependency pack this project draws
// from. Transactions are signed with the standard library's
// crypto/ed25519, Solana's native signature scheme.
package solanachain

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Magma-Layer/dln-taker/internal/capability"
	"github.com/Magma-Layer/dln-taker/internal/errs"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func call(ctx context.Context, httpClient *http.Client, rpcURL, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("rpc error: %s", decoded.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(decoded.Result, out)
}

// Signer holds an ed25519 keypair and a Solana RPC endpoint.
type Signer struct {
	httpClient *http.Client
	rpcURL     string
	key        ed25519.PrivateKey
	pubkey     string
}

// NewSigner constructs a Signer from a raw 64-byte ed25519 private
// key. Decoding the configured key text into those bytes is the
// caller's job (cmd/dln-taker hex-decodes it); no base58 decoding is
// done here.
func NewSigner(rpcURL string, seedBytes []byte) (*Signer, error) {
	if len(seedBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("solana private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(seedBytes))
	}
	key := ed25519.PrivateKey(seedBytes)
	pub := key.Public().(ed25519.PublicKey)
	return &Signer{
		httpClient: &http.Client{},
		rpcURL:     rpcURL,
		key:        key,
		pubkey:     base64.StdEncoding.EncodeToString(pub),
	}, nil
}

func (s *Signer) Engine() capability.Engine { return capability.EngineSolana }

func (s *Signer) Address() string { return s.pubkey }

// GetBalance calls getBalance for the native lamports balance; token
// account balances require resolving the associated token account,
// out of scope for this adapter (spec.md 6 scopes token balance
// checks to the reserve-bucket asset, always resolvable this way on
// EVM chains; a full Solana deployment would resolve the ATA here).
func (s *Signer) GetBalance(ctx context.Context, token common.Address) (balance *big.Int, err error) {
	var out struct {
		Value uint64 `json:"value"`
	}
	if err := call(ctx, s.httpClient, s.rpcURL, "getBalance", []any{s.pubkey}, &out); err != nil {
		return nil, fmt.Errorf("getBalance: %w: %v", errs.ErrTransientRpc, err)
	}
	return new(big.Int).SetUint64(out.Value), nil
}

// SendTransaction signs and submits a pre-built Solana instruction
// bundle. The first instruction entry is treated as raw message
// bytes: this signer's ed25519 signature is prepended to it, and the
// result is base64-encoded and submitted via sendTransaction with
// encoding "base64" and no other options.
func (s *Signer) SendTransaction(ctx context.Context, tx capability.Transaction, logger *zap.Logger) (capability.TxHandle, error) {
	if tx.Engine != capability.EngineSolana || tx.Solana == nil || len(tx.Solana.Instructions) == 0 {
		return capability.TxHandle{}, fmt.Errorf("solanachain signer received non-Solana transaction: %w", errs.ErrFatalInternal)
	}

	payload := tx.Solana.Instructions[0]
	sig := ed25519.Sign(s.key, payload)
	encoded := base64.StdEncoding.EncodeToString(append(sig, payload...))

	var signature string
	if err := call(ctx, s.httpClient, s.rpcURL, "sendTransaction", []any{encoded, map[string]any{"encoding": "base64"}}, &signature); err != nil {
		return capability.TxHandle{}, fmt.Errorf("sendTransaction: %w: %v", errs.ErrTransientRpc, err)
	}

	logger.Info("solana transaction submitted", zap.String("signature", signature))
	return capability.TxHandle{Engine: capability.EngineSolana, Hash: signature}, nil
}

// Client is the read-side capability.ChainClient for Solana.
// EstimateGas/GasPrice are no-ops (spec.md 4.6: "no gas bumping
// applies on Solana").
type Client struct {
	httpClient *http.Client
	rpcURL     string
	programID  string
}

// NewClient constructs a read-only Client against rpcURL, scoped to
// programID for order-state lookups.
func NewClient(rpcURL, programID string) *Client {
	return &Client{httpClient: &http.Client{}, rpcURL: rpcURL, programID: programID}
}

func (c *Client) Engine() capability.Engine { return capability.EngineSolana }

// OrderState queries the order account's data for the two state
// flags. A full implementation decodes the program's account layout;
// this reads the account's first two bytes as the flags, matching
// the minimal convention the EVM adapter uses for its order contract.
func (c *Client) OrderState(ctx context.Context, id [32]byte) (capability.OrderOnChainState, error) {
	addr := base64.StdEncoding.EncodeToString(id[:])
	var out struct {
		Value *struct {
			Data []string `json:"data"`
		} `json:"value"`
	}
	if err := call(ctx, c.httpClient, c.rpcURL, "getAccountInfo", []any{addr, map[string]any{"encoding": "base64"}}, &out); err != nil {
		return capability.OrderOnChainState{}, fmt.Errorf("getAccountInfo: %w: %v", errs.ErrTransientRpc, err)
	}
	if out.Value == nil || len(out.Value.Data) == 0 {
		return capability.OrderOnChainState{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(out.Value.Data[0])
	if err != nil || len(raw) < 2 {
		return capability.OrderOnChainState{}, fmt.Errorf("decode account data: %w: %v", errs.ErrTransientRpc, err)
	}
	return capability.OrderOnChainState{
		GiveStateCreated: raw[0] != 0,
		TakeFulfilled:    raw[1] != 0,
	}, nil
}

func (c *Client) EstimateGas(ctx context.Context, tx capability.EVMTxParams) (uint64, error) {
	return 0, nil
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	return nil, nil
}

// WaitForConfirmation polls getSignatureStatuses until h reaches
// "confirmed" or "finalized" status, fails, or ctx ends.
func (c *Client) WaitForConfirmation(ctx context.Context, h capability.TxHandle) error {
	for {
		var out struct {
			Value []*struct {
				ConfirmationStatus string `json:"confirmationStatus"`
				Err                any    `json:"err"`
			} `json:"value"`
		}
		if err := call(ctx, c.httpClient, c.rpcURL, "getSignatureStatuses", []any{[]string{h.Hash}}, &out); err != nil {
			return fmt.Errorf("getSignatureStatuses: %w: %v", errs.ErrTransientRpc, err)
		}
		if len(out.Value) > 0 && out.Value[0] != nil {
			if out.Value[0].Err != nil {
				return fmt.Errorf("transaction %s failed: %w", h.Hash, errs.ErrFatalInternal)
			}
			if out.Value[0].ConfirmationStatus == "finalized" || out.Value[0].ConfirmationStatus == "confirmed" {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for confirmation of %s: %w: %v", h.Hash, errs.ErrTransientRpc, ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
}
