package depth

import "strings"

// Thresholds parameterises an Aggregator for one symbol.
type Thresholds struct {
	// GateQty and GateMatches select the "big" levels that let an update through
	// at all: at least one side must hold a level with qty >= GateQty.
	GateQty     float64
	GateMatches int

	// MinQty and MinNotional select the levels that feed the pressure reading.
	MinQty      float64
	MinNotional float64
	MaxMatches  int

	MinPressurePct float64
}

// Reading is the outcome of a qualifying update.
type Reading struct {
	Symbol   string
	Bids     []Level // largest notional first
	Asks     []Level
	Pressure Pressure
}

// Snapshot returns the detector input for r.
func (r Reading) Snapshot() Snapshot { return r.Pressure.Snapshot() }

// Aggregator turns raw depth updates into pressure readings. It holds no
// mutable state and is safe for concurrent use.
type Aggregator struct {
	th Thresholds
}

func NewAggregator(th Thresholds) *Aggregator {
	return &Aggregator{th: th}
}

// Process runs an update through the level filters and the pressure floor.
// ok is false when the update carries no signal.
func (a *Aggregator) Process(up Update) (Reading, bool) {
	if len(up.Bids) == 0 && len(up.Asks) == 0 {
		return Reading{}, false
	}

	gateBids := FilterLevels(up.Bids, a.th.GateQty, 0, a.th.GateMatches)
	gateAsks := FilterLevels(up.Asks, a.th.GateQty, 0, a.th.GateMatches)
	if !HasSignal(gateBids, gateAsks) {
		return Reading{}, false
	}

	bids := FilterLevels(up.Bids, a.th.MinQty, a.th.MinNotional, a.th.MaxMatches)
	asks := FilterLevels(up.Asks, a.th.MinQty, a.th.MinNotional, a.th.MaxMatches)
	if !HasSignal(bids, asks) {
		return Reading{}, false
	}

	p := ComputePressure(bids, asks)
	if !PassesPressureFloor(p, a.th.MinPressurePct) {
		return Reading{}, false
	}

	return Reading{
		Symbol:   strings.ToUpper(up.Symbol),
		Bids:     bids,
		Asks:     asks,
		Pressure: p,
	}, true
}
