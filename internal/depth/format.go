package depth

import (
	"fmt"
	"math"
	"strings"
)

const pressureBarWidth = 12

// Side names the dominant side of a reading: BUY, SELL or BALANCED.
func (p Pressure) Side() string {
	switch {
	case p.BidPct > p.AskPct:
		return "BUY"
	case p.AskPct > p.BidPct:
		return "SELL"
	}
	return "BALANCED"
}

// Line renders r in the one-line [DEPTH] format consumed by subscribers. Field
// order is part of the wire contract.
func (r Reading) Line() string {
	return fmt.Sprintf("[DEPTH] %s %s [%s] B:%.1f%% S:%.1f%% | notional %s vs %s | top %s / %s",
		strings.ToUpper(r.Symbol),
		r.Pressure.Side(),
		PressureBar(r.Pressure.BidPct, pressureBarWidth),
		r.Pressure.BidPct,
		r.Pressure.AskPct,
		CompactNotional(r.Pressure.BidNotional),
		CompactNotional(r.Pressure.AskNotional),
		bestLevel(r.Bids),
		bestLevel(r.Asks),
	)
}

// PressureBar draws bidPct as width cells: '#' for the bid share, '-' for the rest.
func PressureBar(bidPct float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(math.Round(clampPct(bidPct) / 100 * float64(width)))
	return strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
}

// CompactNotional abbreviates a notional amount (1.5K, 2.30M, 1.05B).
func CompactNotional(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	}
	return fmt.Sprintf("%.0f", v)
}

func bestLevel(levels []Level) string {
	if len(levels) == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fx%.3f", levels[0].Price, levels[0].Qty)
}
