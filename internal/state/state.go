package state

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// State is the small amount of process-wide state shared between the feed, the
// pipeline and the HTTP surface.
type State struct {
	connected   atomic.Bool
	lastEventMs atomic.Int64
	started     time.Time

	alertMu   sync.Mutex
	lastAlert map[string]time.Time // key: "SYMBOL:DIRECTION"
	cooldown  time.Duration
}

func NewState(cooldown time.Duration) *State {
	return &State{
		lastAlert: make(map[string]time.Time),
		cooldown:  cooldown,
		started:   time.Now(),
	}
}

func (s *State) SetConnected(v bool) { s.connected.Store(v) }
func (s *State) Connected() bool     { return s.connected.Load() }

// MarkEvent records the time of the latest upstream event.
func (s *State) MarkEvent(t time.Time) { s.lastEventMs.Store(t.UnixMilli()) }

// LastEvent is zero until the first event arrives.
func (s *State) LastEvent() time.Time {
	ms := s.lastEventMs.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *State) Uptime() time.Duration { return time.Since(s.started) }

func (s *State) Cooldown() time.Duration { return s.cooldown }

func (s *State) key(symbol, direction string) string {
	return strings.ToUpper(symbol) + ":" + strings.ToUpper(direction)
}

// AllowAlert reports whether an alert for symbol/direction may be published at
// now, and records it if so. A zero cooldown always allows.
func (s *State) AllowAlert(symbol, direction string, now time.Time) bool {
	if s.cooldown <= 0 {
		return true
	}
	k := s.key(symbol, direction)
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	last, ok := s.lastAlert[k]
	if !ok || now.Sub(last) >= s.cooldown {
		s.lastAlert[k] = now
		return true
	}
	return false
}
