package depth

import (
	"cmp"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ParseLevel turns a raw [price, qty] pair into a Level. Pairs that are not
// plain decimal numbers, are not finite, or are not strictly positive report
// ok=false.
func ParseLevel(raw [2]string) (Level, bool) {
	price, ok := parseDecimal(raw[0])
	if !ok {
		return Level{}, false
	}
	qty, ok := parseDecimal(raw[1])
	if !ok {
		return Level{}, false
	}
	if !isPositive(price) || !isPositive(qty) {
		return Level{}, false
	}
	return Level{Price: price, Qty: qty, Notional: price * qty}, true
}

// parseDecimal accepts only what the exchange sends: digits, one optional
// point, an optional sign and exponent. Surrounding whitespace, hex floats,
// underscores and the Inf/NaN spellings are rejected before ParseFloat.
func parseDecimal(s string) (float64, bool) {
	if s == "" || strings.IndexFunc(s, func(r rune) bool {
		return !strings.ContainsRune("0123456789.eE+-", r)
	}) >= 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isPositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// IsBig reports whether a level passes the size test. The quantity and notional
// thresholds are OR-ed; a threshold <= 0 is disabled, and with both disabled every
// level passes.
func IsBig(l Level, minQty, minNotional float64) bool {
	if minQty <= 0 && minNotional <= 0 {
		return true
	}
	qtyOK := minQty > 0 && l.Qty >= minQty
	notionalOK := minNotional > 0 && l.Notional >= minNotional
	return qtyOK || notionalOK
}

// FilterLevels keeps the valid levels that pass IsBig, ordered by notional
// descending (input order on ties) and capped at maxMatches. maxMatches <= 0
// means no cap. Malformed pairs are dropped silently.
func FilterLevels(levels [][2]string, minQty, minNotional float64, maxMatches int) []Level {
	out := make([]Level, 0, len(levels))
	for _, raw := range levels {
		l, ok := ParseLevel(raw)
		if !ok || !IsBig(l, minQty, minNotional) {
			continue
		}
		out = append(out, l)
	}
	slices.SortStableFunc(out, func(a, b Level) int {
		return cmp.Compare(b.Notional, a.Notional)
	})
	if maxMatches > 0 && len(out) > maxMatches {
		out = out[:maxMatches]
	}
	return out
}
