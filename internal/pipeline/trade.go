package pipeline

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pressure-feeder/internal/depth"
)

var hundred = decimal.NewFromInt(100)

// Trade is a parsed aggregate trade with its spike against the previous price.
type Trade struct {
	Symbol       string
	Price        decimal.Decimal
	Qty          decimal.Decimal
	SpikePct     decimal.Decimal
	IsBuyerMaker bool
	DelayMs      int64
}

// Line renders t in the [AGG_TRADE] format.
func (t Trade) Line() string {
	return fmt.Sprintf("[AGG_TRADE] %s - Price: %.2f, Qty: %.4f, Spike: %.4f%%, BuyerMaker: %v, Delay: %d ms",
		strings.ToUpper(t.Symbol),
		t.Price.InexactFloat64(),
		t.Qty.InexactFloat64(),
		t.SpikePct.InexactFloat64(),
		t.IsBuyerMaker,
		t.DelayMs,
	)
}

// parseTrade validates the price and quantity strings. Both must be positive.
func parseTrade(ev depth.TradeEvent) (price, qty decimal.Decimal, ok bool) {
	price, err := decimal.NewFromString(strings.TrimSpace(ev.Price))
	if err != nil || !price.IsPositive() {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	qty, err = decimal.NewFromString(strings.TrimSpace(ev.Qty))
	if err != nil || !qty.IsPositive() {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	return price, qty, true
}

// SpikePct is |cur-last|/last*100, or 0 when there is no previous price.
func SpikePct(last, cur decimal.Decimal) decimal.Decimal {
	if !last.IsPositive() {
		return decimal.Zero
	}
	return cur.Sub(last).Abs().Div(last).Mul(hundred)
}
