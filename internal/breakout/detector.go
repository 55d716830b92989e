// Package breakout detects sustained one-sided depth pressure.
//
// A Detector keeps a bounded window of pressure snapshots for one symbol and
// emits a signal when the newest MinConsecutive snapshots all lean the same way
// past PressureThreshold and their mean notional clears MinTotalNotional.
// A Detector is not safe for concurrent use; it belongs to one pipeline.
package breakout

import (
	"errors"
	"fmt"
	"strings"

	"pressure-feeder/internal/depth"
)

// Kind is the direction of a signal.
type Kind int

const (
	None Kind = iota
	Bullish
	Bearish
)

func (k Kind) String() string {
	switch k {
	case Bullish:
		return "BULLISH"
	case Bearish:
		return "BEARISH"
	}
	return "NONE"
}

// Signal is the result of one Push. For Bearish signals AvgPressure is the
// sell-side percentage, not the bid percentage.
type Signal struct {
	Kind          Kind
	AvgPressure   float64
	TotalNotional float64
}

// Line renders the [BIGMOVE] alert for symbol. It returns "" for None.
func (s Signal) Line(symbol string) string {
	if s.Kind == None {
		return ""
	}
	return fmt.Sprintf("[BIGMOVE] %s %s BREAKOUT likely! avg_pressure=%.1f%% notional=%.0f",
		strings.ToUpper(symbol), s.Kind, s.AvgPressure, s.TotalNotional)
}

type Config struct {
	WindowSize        int
	PressureThreshold float64 // percent, must be > 50
	MinTotalNotional  float64
	MinConsecutive    int
}

// Validate rejects configurations under which the detector could never fire or
// could see both directions at once.
func (c Config) Validate() error {
	if c.WindowSize < 1 {
		return errors.New("window_size must be >=1")
	}
	if c.MinConsecutive < 1 {
		return errors.New("min_consecutive must be >=1")
	}
	if c.MinConsecutive > c.WindowSize {
		return fmt.Errorf("min_consecutive (%d) must not exceed window_size (%d)", c.MinConsecutive, c.WindowSize)
	}
	if c.PressureThreshold <= 50 || c.PressureThreshold > 100 {
		return fmt.Errorf("pressure_threshold_pct must be in (50,100], got %v", c.PressureThreshold)
	}
	if c.MinTotalNotional < 0 {
		return errors.New("min_total_notional must be >=0")
	}
	return nil
}

type Detector struct {
	cfg Config

	// ring buffer, oldest entry at head
	buf  []depth.Snapshot
	head int
	n    int
}

// New builds a detector. Call Config.Validate first; New only guards against
// sizes that would break the ring buffer.
func New(cfg Config) *Detector {
	if cfg.WindowSize < 1 {
		cfg.WindowSize = 1
	}
	return &Detector{cfg: cfg, buf: make([]depth.Snapshot, cfg.WindowSize)}
}

func (d *Detector) Len() int { return d.n }
func (d *Detector) Cap() int { return len(d.buf) }

// Push records snap and evaluates the newest MinConsecutive entries.
func (d *Detector) Push(snap depth.Snapshot) Signal {
	d.append(snap)

	need := d.cfg.MinConsecutive
	if need < 1 || d.n < need {
		return Signal{}
	}

	allBullish, allBearish := true, true
	var sumPressure, sumNotional float64
	for i := 0; i < need; i++ {
		s := d.recent(i)
		if s.BidPressurePct < d.cfg.PressureThreshold {
			allBullish = false
		}
		if 100-s.BidPressurePct < d.cfg.PressureThreshold {
			allBearish = false
		}
		sumPressure += s.BidPressurePct
		sumNotional += s.TotalNotional
	}

	// Both at once only happens with a threshold <= 50; prefer no signal.
	if allBullish == allBearish {
		return Signal{}
	}

	avgPressure := sumPressure / float64(need)
	avgNotional := sumNotional / float64(need)
	if avgNotional < d.cfg.MinTotalNotional {
		return Signal{}
	}

	if allBullish {
		return Signal{Kind: Bullish, AvgPressure: avgPressure, TotalNotional: avgNotional}
	}
	return Signal{Kind: Bearish, AvgPressure: 100 - avgPressure, TotalNotional: avgNotional}
}

func (d *Detector) append(s depth.Snapshot) {
	if d.n == len(d.buf) {
		d.buf[d.head] = s
		d.head = (d.head + 1) % len(d.buf)
		return
	}
	d.buf[(d.head+d.n)%len(d.buf)] = s
	d.n++
}

// recent returns the i-th newest entry (0 is the latest).
func (d *Detector) recent(i int) depth.Snapshot {
	return d.buf[(d.head+d.n-1-i)%len(d.buf)]
}
