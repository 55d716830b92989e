package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"pressure-feeder/internal/depth"
)

// Binance payload keys differ only by case ("e"/"E", "m"/"M", "t"/"T"), and
// encoding/json matches keys case-insensitively, so every key that could
// collide is declared explicitly on the wire structs.

type combinedMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// eventHeader only needs "e", but "E" must be declared too or the numeric
// event time is matched into Event.
type eventHeader struct {
	Event        string          `json:"e"`
	EventTime    json.RawMessage `json:"E"`
	LastUpdateID *uint64         `json:"lastUpdateId"`
	Bids         json.RawMessage `json:"bids"`
}

type wireDepthUpdate struct {
	Event         string      `json:"e"`
	EventTime     uint64      `json:"E"`
	TxTime        uint64      `json:"T"`
	Symbol        string      `json:"s"`
	FirstUpdateID uint64      `json:"U"`
	FinalUpdateID uint64      `json:"u"`
	PrevFinalID   uint64      `json:"pu"`
	Bids          [][2]string `json:"b"`
	Asks          [][2]string `json:"a"`
}

type wirePartialDepth struct {
	LastUpdateID uint64      `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

type wireAggTrade struct {
	Event        string `json:"e"`
	EventTime    uint64 `json:"E"`
	Symbol       string `json:"s"`
	AggID        uint64 `json:"a"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	FirstTradeID uint64 `json:"f"`
	LastTradeID  uint64 `json:"l"`
	TradeTime    uint64 `json:"T"`
	BuyerMaker   bool   `json:"m"`
	Ignore       bool   `json:"M"`
}

// Decode parses one Binance message, either wrapped in a combined-stream
// envelope or raw. Unknown event types and malformed JSON report ok=false.
func Decode(msg []byte) (Event, bool) {
	var stream string
	data := json.RawMessage(msg)

	var wrapper combinedMsg
	if err := json.Unmarshal(msg, &wrapper); err != nil {
		return Event{}, false
	}
	if len(wrapper.Data) > 0 {
		stream, data = wrapper.Stream, wrapper.Data
	}

	var hdr eventHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return Event{}, false
	}

	switch {
	case hdr.Event == "aggTrade":
		var w wireAggTrade
		if err := json.Unmarshal(data, &w); err != nil {
			return Event{}, false
		}
		return Event{Trade: &depth.TradeEvent{
			Symbol:       w.Symbol,
			Price:        w.Price,
			Qty:          w.Qty,
			Timestamp:    w.TradeTime,
			IsBuyerMaker: w.BuyerMaker,
		}}, true

	case hdr.Event == "depthUpdate":
		var w wireDepthUpdate
		if err := json.Unmarshal(data, &w); err != nil {
			return Event{}, false
		}
		return Event{Depth: &depth.Update{
			Symbol:        w.Symbol,
			Bids:          w.Bids,
			Asks:          w.Asks,
			EventTime:     w.EventTime,
			FirstUpdateID: w.FirstUpdateID,
			FinalUpdateID: w.FinalUpdateID,
		}}, true

	case hdr.Event == "" && hdr.LastUpdateID != nil && len(hdr.Bids) > 0:
		// Spot partial book depth carries no symbol; it lives in the stream name.
		symbol := symbolFromStream(stream)
		if symbol == "" {
			return Event{}, false
		}
		var w wirePartialDepth
		if err := json.Unmarshal(data, &w); err != nil {
			return Event{}, false
		}
		return Event{Depth: &depth.Update{
			Symbol:        symbol,
			Bids:          w.Bids,
			Asks:          w.Asks,
			FirstUpdateID: w.LastUpdateID,
			FinalUpdateID: w.LastUpdateID,
		}}, true
	}
	return Event{}, false
}

func symbolFromStream(stream string) string {
	name, _, ok := strings.Cut(stream, "@")
	if !ok {
		return ""
	}
	return strings.ToUpper(name)
}

// StreamNames builds the combined-stream subscription list: one aggTrade stream
// per symbol and, unless disabled, one depth stream. levels == 0 selects the
// diff stream.
func StreamNames(symbols []string, levels, speedMs int, disableDepth bool) []string {
	out := make([]string, 0, 2*len(symbols))
	for _, s := range symbols {
		out = append(out, strings.ToLower(s)+"@aggTrade")
	}
	if disableDepth {
		return out
	}
	for _, s := range symbols {
		if levels > 0 {
			out = append(out, fmt.Sprintf("%s@depth%d@%dms", strings.ToLower(s), levels, speedMs))
		} else {
			out = append(out, fmt.Sprintf("%s@depth@%dms", strings.ToLower(s), speedMs))
		}
	}
	return out
}

// CombinedURL joins streams onto a combined-stream endpoint.
func CombinedURL(base string, streams []string) string {
	return base + "?streams=" + strings.Join(streams, "/")
}
