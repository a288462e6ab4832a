// Package evaluator implements the profitability evaluator: given an
// order and a live swap quote, it computes the reserve token and
// amount the operator would spend, the slippage budget, and whether
// the trade clears the operator's configured minimum margin.
package evaluator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Magma-Layer/dln-taker/internal/bucket"
	"github.com/Magma-Layer/dln-taker/internal/capability"
	"github.com/Magma-Layer/dln-taker/internal/errs"
	"github.com/Magma-Layer/dln-taker/internal/order"
)

// Evaluator computes fulfillment profitability per spec.md 4.5.
type Evaluator struct {
	Buckets              *bucket.Set
	Prices               capability.TokenPriceService
	Swaps                capability.SwapConnector
	MinProfitabilityBps  uint32
}

// Params bundles the per-call inputs that vary with the pipeline
// state rather than the static configuration above.
type Params struct {
	// BatchUnlockSize amortizes the unlock transaction's USD cost
	// across this many orders. Nil means un-batched (Solana chains,
	// spec.md 4.5 step 2).
	BatchUnlockSize *int
	// UnlockCostUSD is the estimated USD cost of a single unlock
	// transaction on the give chain, before amortization.
	UnlockCostUSD float64
	// GasCostUSD is the estimated USD cost of the destination-chain
	// fulfill transaction.
	GasCostUSD float64
	// PreferEstimation, if set, is a previously fetched swap route
	// that must be reused instead of fetching a fresh quote, so the
	// live fulfillment stays consistent with the quote used during
	// estimation (spec.md 4.5).
	PreferEstimation *capability.SwapQuote
	// Recipient is pre_fulfill_swap_change_recipient for the matched
	// destination constraint range ("taker" or "maker").
	Recipient string
}

// Result is the evaluator's decision.
type Result struct {
	ReserveToken               common.Address
	RequiredReserveDstAmount   *big.Int
	ReserveToTakeSlippageBps   uint32
	IsProfitable               bool
	Quote                      capability.SwapQuote
}

// Evaluate runs the four steps of spec.md 4.5.
func (e *Evaluator) Evaluate(ctx context.Context, o order.Order, takeEngine capability.Engine, p Params) (Result, error) {
	// Step 1: pick a bucket containing both order.Give and a reserve
	// token on order.Take's chain.
	reserveToken, ok := e.Buckets.Equivalent(o.Give.ChainID, o.Give.Token, o.Take.ChainID)
	if !ok {
		return Result{}, fmt.Errorf("no bucket covers give token on take chain: %w", errs.ErrOrderInvalid)
	}

	reserveDecimals, ok := e.Buckets.Decimals(o.Take.ChainID, reserveToken)
	if !ok {
		return Result{}, fmt.Errorf("reserve token has no configured decimals: %w", errs.ErrFatalInternal)
	}
	if _, ok := e.Buckets.Decimals(o.Take.ChainID, o.Take.Token); !ok {
		return Result{}, fmt.Errorf("take token has no configured decimals: %w", errs.ErrOrderInvalid)
	}

	// Step 2: amortized unlock cost.
	amortizedUnlockUSD := p.UnlockCostUSD
	if p.BatchUnlockSize != nil && *p.BatchUnlockSize > 0 {
		amortizedUnlockUSD = p.UnlockCostUSD / float64(*p.BatchUnlockSize)
	}

	quote := p.PreferEstimation
	if quote == nil {
		q, err := e.Swaps.Quote(ctx, capability.SwapRequest{
			Engine:      takeEngine,
			ChainID:     o.Take.ChainID,
			FromToken:   reserveToken,
			ToToken:     o.Take.Token,
			AmountIn:    o.Take.Amount,
			SlippageBps: 500, // dummy indicative slippage to get a baseline rate, per pipeline step 6
			Recipient:   p.Recipient,
		})
		if err != nil {
			return Result{}, fmt.Errorf("swap quote: %w: %v", errs.ErrClient, err)
		}
		quote = &q
	}
	if quote.AmountOut == nil || quote.AmountOut.Sign() <= 0 {
		return Result{}, fmt.Errorf("swap quote returned non-positive amount out: %w", errs.ErrClient)
	}

	// Invert the quoted rate to find how much reserve token is needed
	// to produce order.Take.Amount of take token.
	takeAmountDec := decimal.NewFromBigInt(o.Take.Amount, 0)
	amountInDec := decimal.NewFromBigInt(o.Take.Amount, 0) // AmountIn used for the quote request above
	amountOutDec := decimal.NewFromBigInt(quote.AmountOut, 0)

	requiredReserveDec := takeAmountDec.Mul(amountInDec).Div(amountOutDec).Ceil()
	requiredReserveAmount := requiredReserveDec.BigInt()

	// Step 3: slippage budget so amount_out >= order.Take.Amount at
	// the lower bound, adjusted by min_profitability_bps. amountInDec
	// equals order.Take.Amount (the indicative quote request above),
	// so amountOutDec/amountInDec in bps directly expresses the
	// cushion between the quoted output and the amount owed.
	cushionBps := amountOutDec.Sub(amountInDec).Mul(decimal.NewFromInt(10000)).Div(amountInDec)
	slippageBudgetDec := cushionBps.Sub(decimal.NewFromInt32(int32(e.MinProfitabilityBps)))
	if slippageBudgetDec.IsNegative() {
		slippageBudgetDec = decimal.Zero
	}
	if slippageBudgetDec.GreaterThan(decimal.NewFromInt(10000)) {
		slippageBudgetDec = decimal.NewFromInt(10000)
	}
	slippageBudgetBps := uint32(slippageBudgetDec.IntPart())

	// Step 4: is_profitable = required_reserve + gas + margin <= market_equivalent.
	giveUSDPrice, err := e.Prices.USDPrice(ctx, o.Give.ChainID, o.Give.Token)
	if err != nil {
		return Result{}, fmt.Errorf("give token price: %w: %v", errs.ErrTransientRpc, err)
	}
	reserveUSDPrice, err := e.Prices.USDPrice(ctx, o.Take.ChainID, reserveToken)
	if err != nil {
		return Result{}, fmt.Errorf("reserve token price: %w: %v", errs.ErrTransientRpc, err)
	}
	if reserveUSDPrice <= 0 {
		return Result{}, fmt.Errorf("non-positive reserve token price: %w", errs.ErrFatalInternal)
	}

	giveDecimals, ok := e.Buckets.Decimals(o.Give.ChainID, o.Give.Token)
	if !ok {
		giveDecimals = reserveDecimals
	}
	giveAmountUnits := decimal.NewFromBigInt(o.Give.Amount, -int32(giveDecimals))
	giveUSDWorth := giveAmountUnits.InexactFloat64() * giveUSDPrice
	marketEquivalentReserveAmount := giveUSDWorth / reserveUSDPrice

	requiredReserveUnits := decimal.NewFromBigInt(requiredReserveAmount, -int32(reserveDecimals)).InexactFloat64()
	marginUSD := requiredReserveUnits * reserveUSDPrice * float64(e.MinProfitabilityBps) / 10000.0
	totalCostReserveUnits := requiredReserveUnits + (p.GasCostUSD+amortizedUnlockUSD+marginUSD)/reserveUSDPrice

	isProfitable := totalCostReserveUnits <= marketEquivalentReserveAmount

	return Result{
		ReserveToken:             reserveToken,
		RequiredReserveDstAmount: requiredReserveAmount,
		ReserveToTakeSlippageBps: slippageBudgetBps,
		IsProfitable:             isProfitable,
		Quote:                    *quote,
	}, nil
}
