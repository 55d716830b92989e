package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one subscriber's view of the hub: a bounded outbound queue with a
// drop-oldest policy. When the queue is full the oldest pending line is evicted
// to make room, so a slow subscriber sees a gap but never a reordering.
type Session struct {
	id      string
	created time.Time

	mu           sync.Mutex
	queue        []string // ring, oldest at head
	head, n      int
	dropped      uint64
	lastActivity time.Time
	closed       bool

	ready     chan struct{} // signalled when the queue goes non-empty
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(queueSize int) *Session {
	if queueSize < 1 {
		queueSize = 1
	}
	now := time.Now()
	return &Session{
		id:           uuid.NewString(),
		created:      now,
		queue:        make([]string, queueSize),
		lastActivity: now,
		ready:        make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Done() <-chan struct{} { return s.done }

// Dropped is the number of lines evicted from this session's queue.
func (s *Session) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Pending is the number of queued, undelivered lines.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Receive blocks until at least one line is queued and returns everything
// pending, oldest first.
func (s *Session) Receive(ctx context.Context) ([]string, error) {
	for {
		if batch := s.drain(nil); len(batch) > 0 {
			return batch, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrSessionClosed
		case <-s.ready:
		}
	}
}

// enqueue never blocks. It returns how many lines were evicted (0 or 1).
func (s *Session) enqueue(msg string) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	evicted := 0
	if s.n == len(s.queue) {
		s.queue[s.head] = ""
		s.head = (s.head + 1) % len(s.queue)
		s.n--
		s.dropped++
		evicted = 1
	}
	s.queue[(s.head+s.n)%len(s.queue)] = msg
	s.n++
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return evicted
}

// drain appends all pending lines to dst in publish order and empties the queue.
func (s *Session) drain(dst []string) []string {
	return s.drainN(dst, 0)
}

// drainN is drain capped at limit lines (limit <= 0 means all). If lines remain,
// ready is re-signalled so the sender comes back for them.
func (s *Session) drainN(dst []string, limit int) []string {
	s.mu.Lock()
	k := s.n
	if limit > 0 && k > limit {
		k = limit
	}
	for i := 0; i < k; i++ {
		idx := (s.head + i) % len(s.queue)
		dst = append(dst, s.queue[idx])
		s.queue[idx] = ""
	}
	s.head = (s.head + k) % len(s.queue)
	s.n -= k
	rest := s.n
	s.mu.Unlock()

	if rest > 0 {
		select {
		case s.ready <- struct{}{}:
		default:
		}
	}
	return dst
}

// Info is a point-in-time view of a session for status endpoints.
type Info struct {
	ID           string    `json:"id"`
	Created      time.Time `json:"created"`
	LastActivity time.Time `json:"lastActivity"`
	Pending      int       `json:"pending"`
	Dropped      uint64    `json:"dropped"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.id,
		Created:      s.created,
		LastActivity: s.lastActivity,
		Pending:      s.n,
		Dropped:      s.dropped,
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// close releases the queue and wakes anyone waiting on the session.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = make([]string, 1)
		s.head, s.n = 0, 0
		s.mu.Unlock()
		close(s.done)
	})
}
