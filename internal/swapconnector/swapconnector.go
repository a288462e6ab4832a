// Package swapconnector implements capability.SwapConnector,
// dispatching 1inch for EVM chains and Jupiter for Solana by the
// request's engine tag (spec.md 6). DisableChain is implemented as a real assignment into a
// guarded set, fixing the source's setSupportedChains no-op bug
// (spec.md 9: "=== instead of =").
package swapconnector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/Magma-Layer/dln-taker/internal/capability"
)

const (
	oneInchBaseURL = "https://api.1inch.dev/swap/v6.0"
	jupiterBaseURL = "https://quote-api.jup.ag/v6"
)

// Composite dispatches by capability.Engine, honoring per-chain
// disabling independent of which engine a chain belongs to.
type Composite struct {
	httpClient *http.Client
	logger     *zap.Logger

	mu       sync.RWMutex
	disabled map[uint64]bool
	chains   []uint64
}

// New constructs a Composite over the given configured chain ids.
func New(logger *zap.Logger, configuredChains []uint64) *Composite {
	return &Composite{
		httpClient: &http.Client{},
		logger:     logger,
		disabled:   make(map[uint64]bool),
		chains:     append([]uint64(nil), configuredChains...),
	}
}

// DisableChain marks chainID unusable for future quotes. Unlike the
// source's accidental no-op, this mutates the guarded set directly.
func (c *Composite) DisableChain(chainID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled[chainID] = true
}

// SupportedChains returns every configured chain id not currently
// disabled.
func (c *Composite) SupportedChains() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uint64, 0, len(c.chains))
	for _, id := range c.chains {
		if !c.disabled[id] {
			out = append(out, id)
		}
	}
	return out
}

// Quote dispatches to 1inch (EVM) or Jupiter (Solana) by req.Engine.
func (c *Composite) Quote(ctx context.Context, req capability.SwapRequest) (capability.SwapQuote, error) {
	c.mu.RLock()
	disabled := c.disabled[req.ChainID]
	c.mu.RUnlock()
	if disabled {
		return capability.SwapQuote{}, fmt.Errorf("chain %d disabled in swap connector", req.ChainID)
	}

	switch req.Engine {
	case capability.EngineEVM:
		return c.quoteOneInch(ctx, req)
	case capability.EngineSolana:
		return c.quoteJupiter(ctx, req)
	default:
		return capability.SwapQuote{}, fmt.Errorf("unsupported engine %v", req.Engine)
	}
}

func (c *Composite) quoteOneInch(ctx context.Context, req capability.SwapRequest) (capability.SwapQuote, error) {
	url := fmt.Sprintf("%s/%d/quote?src=%s&dst=%s&amount=%s&slippage=%s",
		oneInchBaseURL, req.ChainID, req.FromToken.Hex(), req.ToToken.Hex(), req.AmountIn.String(), bpsToPercent(req.SlippageBps))

	var out struct {
		DstAmount string `json:"dstAmount"`
		Tx        struct {
			Data string `json:"data"`
		} `json:"tx"`
	}
	if err := c.getJSON(ctx, url, &out); err != nil {
		return capability.SwapQuote{}, fmt.Errorf("1inch quote: %w", err)
	}

	amountOut, ok := parseBigInt(out.DstAmount)
	if !ok {
		return capability.SwapQuote{}, fmt.Errorf("1inch returned non-numeric dstAmount %q", out.DstAmount)
	}
	return capability.SwapQuote{
		AmountOut:     amountOut,
		MinAmountOut:  applySlippage(amountOut, req.SlippageBps),
		Calldata:      decodeHexOrEmpty(out.Tx.Data),
		RecipientRole: req.Recipient,
	}, nil
}

func (c *Composite) quoteJupiter(ctx context.Context, req capability.SwapRequest) (capability.SwapQuote, error) {
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%s&slippageBps=%d",
		jupiterBaseURL, req.FromToken.Hex(), req.ToToken.Hex(), req.AmountIn.String(), req.SlippageBps)

	var out struct {
		OutAmount string `json:"outAmount"`
	}
	if err := c.getJSON(ctx, url, &out); err != nil {
		return capability.SwapQuote{}, fmt.Errorf("jupiter quote: %w", err)
	}

	amountOut, ok := parseBigInt(out.OutAmount)
	if !ok {
		return capability.SwapQuote{}, fmt.Errorf("jupiter returned non-numeric outAmount %q", out.OutAmount)
	}
	return capability.SwapQuote{
		AmountOut:     amountOut,
		MinAmountOut:  applySlippage(amountOut, req.SlippageBps),
		Calldata:      []byte(out.OutAmount), // placeholder: a real integration serializes Jupiter's versioned transaction
		RecipientRole: req.Recipient,
	}, nil
}

func (c *Composite) getJSON(ctx context.Context, url string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
