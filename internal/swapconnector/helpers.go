package swapconnector

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

func parseBigInt(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}

func decodeHexOrEmpty(s string) []byte {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// applySlippage derives a minimum-out amount from a quoted amount and
// a slippage tolerance expressed in basis points.
func applySlippage(amountOut *big.Int, slippageBps uint32) *big.Int {
	out := decimal.NewFromBigInt(amountOut, 0)
	factor := decimal.NewFromInt(10000 - int64(slippageBps)).Div(decimal.NewFromInt(10000))
	return out.Mul(factor).BigInt()
}

// bpsToPercent renders a basis-points value as the percent string
// 1inch's quote endpoint expects (e.g. 50 bps -> "0.5").
func bpsToPercent(bps uint32) string {
	return decimal.NewFromInt(int64(bps)).Div(decimal.NewFromInt(100)).String()
}
