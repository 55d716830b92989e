// Package feed adapts upstream market-data sources into a single ordered
// stream of depth updates and trades.
package feed

import (
	"context"

	"pressure-feeder/internal/depth"
)

// Event carries exactly one of Depth or Trade.
type Event struct {
	Depth *depth.Update
	Trade *depth.TradeEvent
}

// Symbol returns the symbol of whichever payload is set.
func (e Event) Symbol() string {
	switch {
	case e.Depth != nil:
		return e.Depth.Symbol
	case e.Trade != nil:
		return e.Trade.Symbol
	}
	return ""
}

type Feed interface {
	// Run connects and keeps reconnecting until ctx ends. onStatus is called on
	// every connect and disconnect.
	Run(ctx context.Context, onStatus func(connected bool))
	Events() <-chan Event
	Errors() <-chan error
	Close()
}
