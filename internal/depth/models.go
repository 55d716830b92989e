package depth

// Level is a single validated price level.
type Level struct {
	Price    float64 `json:"price"`
	Qty      float64 `json:"qty"`
	Notional float64 `json:"notional"` // price * qty
}

// Update is one depth message as delivered by the feed adapter.
type Update struct {
	Symbol        string
	Bids          [][2]string // [price, qty] as sent by the exchange
	Asks          [][2]string
	EventTime     uint64 // ms
	FirstUpdateID uint64
	FinalUpdateID uint64
}

// TradeEvent is one aggregate trade.
type TradeEvent struct {
	Symbol       string
	Price        string
	Qty          string
	Timestamp    uint64 // trade time, ms
	IsBuyerMaker bool
}

// Snapshot is the reduced view of an update that the breakout detector keeps.
type Snapshot struct {
	BidPressurePct float64 `json:"bidPressurePct"` // 0..100
	TotalNotional  float64 `json:"totalNotional"`
}

// Pressure is the result of ComputePressure.
type Pressure struct {
	BidPct      float64 `json:"bidPct"`
	AskPct      float64 `json:"askPct"`
	BidNotional float64 `json:"bidNotional"`
	AskNotional float64 `json:"askNotional"`
	Total       float64 `json:"total"`
}

// Snapshot reduces p to what the detector needs.
func (p Pressure) Snapshot() Snapshot {
	return Snapshot{BidPressurePct: p.BidPct, TotalNotional: p.Total}
}
