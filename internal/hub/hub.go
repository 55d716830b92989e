// Package hub fans published lines out to any number of subscriber sessions.
//
// Publish never blocks: every registered session gets the line appended to its
// own bounded queue, and a full queue drops its oldest entry. Each session is
// drained by its own Serve loop, which also owns the heartbeat and answers the
// peer's pings and close requests.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"pressure-feeder/internal/instrumentation"
)

var (
	ErrSessionClosed = errors.New("hub: session closed")
	ErrPeerGone      = errors.New("hub: peer stopped reading")
)

const (
	DefaultQueueSize = 256
	DefaultHeartbeat = 15 * time.Second

	// maxBatch bounds how many lines Serve takes off a queue at once, so a
	// session never holds more than QueueSize+maxBatch lines.
	maxBatch = 32
)

type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	subs     []*Session // copy-on-write view used by Publish
	closed   bool

	queueSize int
	heartbeat time.Duration
	log       *slog.Logger
	metrics   *instrumentation.Metrics
}

type Option func(*Hub)

// WithQueueSize sets the per-session queue capacity.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

func WithHeartbeat(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

func WithMetrics(m *instrumentation.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

func New(opts ...Option) *Hub {
	h := &Hub{
		sessions:  map[string]*Session{},
		queueSize: DefaultQueueSize,
		heartbeat: DefaultHeartbeat,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	h.log = h.log.With(slog.String("component", "hub"))
	return h
}

// Publish hands msg to every registered session. With no sessions it is a no-op.
func (h *Hub) Publish(msg string) {
	h.mu.RLock()
	subs := h.subs
	h.mu.RUnlock()

	h.metrics.RecordPublished()
	for _, s := range subs {
		h.metrics.RecordDropped(s.enqueue(msg))
	}
}

// Subscribe registers a new session. After Close it returns an already closed session.
func (h *Hub) Subscribe() *Session {
	s := newSession(h.queueSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.close()
		return s
	}
	h.sessions[s.id] = s
	h.rebuildLocked()
	n := len(h.sessions)
	h.mu.Unlock()

	h.metrics.SetSubscribers(n)
	h.log.Debug("session registered", slog.String("session", s.id), slog.Int("sessions", n))
	return s
}

// Unsubscribe removes s and releases its queue. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Session) {
	if s == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.sessions[s.id]
	if ok {
		delete(h.sessions, s.id)
		h.rebuildLocked()
	}
	n := len(h.sessions)
	h.mu.Unlock()

	s.close()
	if ok {
		h.metrics.SetSubscribers(n)
		h.log.Debug("session removed",
			slog.String("session", s.id),
			slog.Uint64("dropped", s.Dropped()),
			slog.Int("sessions", n),
		)
	}
}

// Len is the number of registered sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Sessions reports every registered session, oldest first.
func (h *Hub) Sessions() []Info {
	h.mu.RLock()
	subs := h.subs
	h.mu.RUnlock()

	out := make([]Info, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.Info())
	}
	slices.SortFunc(out, func(a, b Info) int { return a.Created.Compare(b.Created) })
	return out
}

func (h *Hub) Heartbeat() time.Duration { return h.heartbeat }
func (h *Hub) QueueSize() int           { return h.queueSize }

// Close closes every session; their Serve loops send a close frame and return.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.sessions = map[string]*Session{}
	h.subs = nil
	h.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	h.metrics.SetSubscribers(0)
}

func (h *Hub) rebuildLocked() {
	subs := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		subs = append(subs, s)
	}
	h.subs = subs
}

// FrameKind classifies an inbound frame from the subscriber.
type FrameKind int

const (
	FrameText FrameKind = iota
	FramePing
	FramePong
	FrameClose
)

type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// Transport is the write half of a subscriber connection.
type Transport interface {
	WriteText(msg string) error
	WritePing() error
	WritePong(payload []byte) error
	WriteClose() error
}

// Serve runs the send loop for s until the peer closes, a write fails, the hub
// closes s, or ctx ends. inbound carries frames read from the peer and must be
// closed when the read side fails. s is always unsubscribed on return.
func (h *Hub) Serve(ctx context.Context, s *Session, t Transport, inbound <-chan Frame) error {
	defer h.Unsubscribe(s)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	var batch []string
	for {
		select {
		case <-ctx.Done():
			_ = t.WriteClose()
			return ctx.Err()

		case <-s.done:
			_ = t.WriteClose()
			return ErrSessionClosed

		case <-ticker.C:
			if err := t.WritePing(); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}

		case f, ok := <-inbound:
			if stop, err := handleFrame(s, t, f, ok); stop {
				return err
			}

		case <-s.ready:
			batch = s.drainN(batch[:0], maxBatch)
			for i, msg := range batch {
				// a backlog must not delay the heartbeat, shutdown or the peer's close
				select {
				case <-ctx.Done():
					_ = t.WriteClose()
					return ctx.Err()
				case <-s.done:
					_ = t.WriteClose()
					return ErrSessionClosed
				case <-ticker.C:
					if err := t.WritePing(); err != nil {
						return fmt.Errorf("heartbeat: %w", err)
					}
				case f, ok := <-inbound:
					if stop, err := handleFrame(s, t, f, ok); stop {
						return err
					}
				default:
				}
				if err := t.WriteText(msg); err != nil {
					return fmt.Errorf("write: %w", err)
				}
				batch[i] = ""
			}
			s.touch()
		}
	}
}

// handleFrame answers one inbound frame. stop reports that Serve must return err.
func handleFrame(s *Session, t Transport, f Frame, ok bool) (stop bool, err error) {
	if !ok {
		return true, ErrPeerGone
	}
	s.touch()
	switch f.Kind {
	case FramePing:
		if err := t.WritePong(f.Payload); err != nil {
			return true, fmt.Errorf("pong: %w", err)
		}
	case FrameClose:
		_ = t.WriteClose()
		return true, nil
	}
	return false, nil
}
