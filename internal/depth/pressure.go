package depth

// HasSignal reports whether at least one side has a qualifying level. An update
// with nothing on either side carries no signal and must not be processed further.
func HasSignal(bids, asks []Level) bool {
	return len(bids) > 0 || len(asks) > 0
}

// ComputePressure aggregates the notional on both sides into percentages.
// With zero total notional both percentages are 0.
func ComputePressure(bids, asks []Level) Pressure {
	p := Pressure{
		BidNotional: sumNotional(bids),
		AskNotional: sumNotional(asks),
	}
	p.Total = p.BidNotional + p.AskNotional
	if p.Total <= 0 {
		return p
	}
	p.BidPct = clampPct(p.BidNotional / p.Total * 100)
	p.AskPct = clampPct(100 - p.BidPct)
	return p
}

// PassesPressureFloor rejects readings where neither side reaches minPressurePct.
// A floor <= 0 disables the gate.
func PassesPressureFloor(p Pressure, minPressurePct float64) bool {
	if minPressurePct <= 0 {
		return true
	}
	threshold := clampPct(minPressurePct)
	return clampPct(p.BidPct) >= threshold || clampPct(p.AskPct) >= threshold
}

func sumNotional(levels []Level) float64 {
	var total float64
	for _, l := range levels {
		total += l.Notional
	}
	return total
}

func clampPct(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
