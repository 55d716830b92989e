// Package pipeline routes feed events to per-symbol processing and publishes
// the resulting lines.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pressure-feeder/internal/breakout"
	"pressure-feeder/internal/config"
	"pressure-feeder/internal/depth"
	"pressure-feeder/internal/feed"
	"pressure-feeder/internal/instrumentation"
	"pressure-feeder/internal/state"
)

// Publisher receives every produced line. hub.Hub satisfies it.
type Publisher interface {
	Publish(line string)
}

// SymbolPipeline owns all mutable state for one symbol. It is driven by a
// single goroutine.
type SymbolPipeline struct {
	cfg       config.SymbolConfig
	agg       *depth.Aggregator
	detector  *breakout.Detector
	lastPrice decimal.Decimal
}

func newSymbolPipeline(cfg config.SymbolConfig) *SymbolPipeline {
	return &SymbolPipeline{
		cfg:      cfg,
		agg:      depth.NewAggregator(cfg.Thresholds()),
		detector: breakout.New(cfg.Detector()),
	}
}

// Config returns the resolved settings for the symbol.
func (p *SymbolPipeline) Config() config.SymbolConfig { return p.cfg }

// ProcessDepth returns the depth reading and the breakout signal for up.
// ok is false when the update does not qualify; the detector is untouched then.
func (p *SymbolPipeline) ProcessDepth(up depth.Update) (depth.Reading, breakout.Signal, bool) {
	r, ok := p.agg.Process(up)
	if !ok {
		return depth.Reading{}, breakout.Signal{}, false
	}
	return r, p.detector.Push(r.Snapshot()), true
}

// ProcessTrade updates the last price and reports whether the trade is
// noteworthy: qty >= BigTradeQty or spike >= SpikePct.
func (p *SymbolPipeline) ProcessTrade(ev depth.TradeEvent, now time.Time) (Trade, bool) {
	price, qty, ok := parseTrade(ev)
	if !ok {
		return Trade{}, false
	}
	spike := SpikePct(p.lastPrice, price)
	p.lastPrice = price

	t := Trade{
		Symbol:       p.cfg.Symbol,
		Price:        price,
		Qty:          qty,
		SpikePct:     spike,
		IsBuyerMaker: ev.IsBuyerMaker,
		DelayMs:      max(now.UnixMilli()-int64(ev.Timestamp), 0),
	}
	big := qty.GreaterThanOrEqual(decimal.NewFromFloat(p.cfg.BigTradeQty))
	spiked := spike.GreaterThanOrEqual(decimal.NewFromFloat(p.cfg.SpikePct))
	return t, big || spiked
}

type Option func(*Router)

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

func WithMetrics(m *instrumentation.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithState records feed status and event times, and applies the alert cooldown.
func WithState(st *state.State) Option {
	return func(r *Router) { r.state = st }
}

// WithDepthDisabled drops depth updates without processing them.
func WithDepthDisabled(v bool) Option {
	return func(r *Router) { r.depthDisabled = v }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// Router dispatches events to the SymbolPipeline for their symbol. The
// symbol table is built once in New and never mutated.
type Router struct {
	symbols       map[string]*SymbolPipeline
	pub           Publisher
	log           *slog.Logger
	metrics       *instrumentation.Metrics
	state         *state.State
	depthDisabled bool
	now           func() time.Time
}

func New(symbols map[string]config.SymbolConfig, pub Publisher, opts ...Option) *Router {
	r := &Router{
		symbols: make(map[string]*SymbolPipeline, len(symbols)),
		pub:     pub,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With(slog.String("component", "pipeline"))
	for sym, cfg := range symbols {
		key := strings.ToUpper(strings.TrimSpace(sym))
		cfg.Symbol = key
		r.symbols[key] = newSymbolPipeline(cfg)
	}
	return r
}

// Symbol returns the pipeline for sym, if configured.
func (r *Router) Symbol(sym string) (*SymbolPipeline, bool) {
	p, ok := r.symbols[strings.ToUpper(strings.TrimSpace(sym))]
	return p, ok
}

// HandleDepth processes one depth update and publishes the depth line and,
// when the window signals, the breakout line.
func (r *Router) HandleDepth(up depth.Update) {
	p, ok := r.Symbol(up.Symbol)
	if !ok {
		r.metrics.RecordDepth("other", "unconfigured")
		return
	}
	sym := p.cfg.Symbol
	if r.depthDisabled {
		r.metrics.RecordDepth(sym, "disabled")
		return
	}

	reading, sig, ok := p.ProcessDepth(up)
	if !ok {
		r.metrics.RecordDepth(sym, "filtered")
		return
	}
	r.metrics.RecordDepth(sym, "published")
	r.publish(reading.Line())

	if sig.Kind == breakout.None {
		return
	}
	if r.state != nil && !r.state.AllowAlert(sym, sig.Kind.String(), r.now()) {
		r.log.Debug("breakout suppressed by cooldown", "symbol", sym, "direction", sig.Kind.String())
		return
	}
	r.metrics.RecordSignal(sym, sig.Kind.String())
	r.log.Info("breakout", "symbol", sym, "direction", sig.Kind.String(),
		"avg_pressure", sig.AvgPressure, "notional", sig.TotalNotional)
	r.publish(sig.Line(sym))
}

// HandleTrade processes one aggregate trade.
func (r *Router) HandleTrade(ev depth.TradeEvent) {
	p, ok := r.Symbol(ev.Symbol)
	if !ok {
		r.metrics.RecordTrade("other", "unconfigured")
		return
	}
	t, ok := p.ProcessTrade(ev, r.now())
	if !ok {
		r.metrics.RecordTrade(p.cfg.Symbol, "filtered")
		return
	}
	r.metrics.RecordTrade(p.cfg.Symbol, "published")
	r.publish(t.Line())
}

// Handle dispatches ev by payload.
func (r *Router) Handle(ev feed.Event) {
	switch {
	case ev.Depth != nil:
		r.HandleDepth(*ev.Depth)
	case ev.Trade != nil:
		r.HandleTrade(*ev.Trade)
	}
}

// Run drives f until ctx ends or the feed's event channel closes. It is the
// only goroutine touching per-symbol state.
func (r *Router) Run(ctx context.Context, f feed.Feed) {
	events, errs := f.Events(), f.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if r.state != nil {
				r.state.MarkEvent(r.now())
			}
			r.Handle(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.log.Warn("feed error", "error", err)
		}
	}
}

// OnFeedStatus is the onStatus callback for feed.Feed.Run.
func (r *Router) OnFeedStatus(connected bool) {
	if r.state != nil {
		r.state.SetConnected(connected)
	}
	r.metrics.SetFeedConnected(connected)
	r.log.Info("feed status", "connected", connected)
}

func (r *Router) publish(line string) { r.pub.Publish(line) }
