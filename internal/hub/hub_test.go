package hub

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressure-feeder/internal/instrumentation"
)

type fakeTransport struct {
	mu      sync.Mutex
	texts   []string
	pings   int
	pongs   [][]byte
	closes  int
	failOn  string        // WriteText fails for this line
	delay   time.Duration // per-line write latency
	written chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{written: make(chan string, 1024)}
}

func (f *fakeTransport) WriteText(msg string) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && msg == f.failOn {
		return errors.New("broken pipe")
	}
	f.texts = append(f.texts, msg)
	select {
	case f.written <- msg:
	default:
	}
	return nil
}

func (f *fakeTransport) WritePing() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeTransport) WritePong(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pongs = append(f.pongs, p)
	return nil
}

func (f *fakeTransport) WriteClose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) snapshot() (texts []string, pings, closes int, pongs [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...), f.pings, f.closes, append([][]byte(nil), f.pongs...)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	h := New()
	assert.NotPanics(t, func() { h.Publish("[DEPTH] nobody listening") })
	assert.Equal(t, 0, h.Len())
}

func TestSubscribeUnsubscribe(t *testing.T) {
	m := instrumentation.NewMetrics()
	h := New(WithMetrics(m))
	a := h.Subscribe()
	b := h.Subscribe()
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, h.Len())

	h.Unsubscribe(a)
	h.Unsubscribe(a)
	assert.Equal(t, 1, h.Len())

	select {
	case <-a.Done():
	default:
		t.Fatal("unsubscribed session should be closed")
	}

	_, err := a.Receive(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)

	h.Publish("only b")
	got, err := b.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"only b"}, got)
}

func TestDropOldestKeepsOrder(t *testing.T) {
	h := New(WithQueueSize(3))
	s := h.Subscribe()
	for i := 0; i < 10; i++ {
		h.Publish(strconv.Itoa(i))
	}
	assert.Equal(t, 3, s.Pending())
	assert.Equal(t, uint64(7), s.Dropped())

	got, err := s.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "8", "9"}, got)
}

func TestFastAndSlowSubscribers(t *testing.T) {
	const (
		bursts    = 5
		burstSize = 200
		n         = bursts * burstSize
	)
	h := New(WithHeartbeat(time.Hour))
	fast, slow := h.Subscribe(), h.Subscribe()
	fastTr, slowTr := newFakeTransport(), newFakeTransport()
	slowTr.delay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Serve(ctx, fast, fastTr, make(chan Frame)) }()
	go func() { _ = h.Serve(ctx, slow, slowTr, make(chan Frame)) }()

	for b := 0; b < bursts; b++ {
		for i := b * burstSize; i < (b+1)*burstSize; i++ {
			h.Publish(strconv.Itoa(i))
		}
		want := (b + 1) * burstSize
		require.Eventually(t, func() bool {
			texts, _, _, _ := fastTr.snapshot()
			return len(texts) == want
		}, 2*time.Second, time.Millisecond, "fast subscriber behind after burst %d", b)
	}

	fastGot, _, _, _ := fastTr.snapshot()
	for i, m := range fastGot {
		require.Equal(t, strconv.Itoa(i), m)
	}
	assert.Zero(t, fast.Dropped())

	// every line is either written or evicted once the slow side catches up
	require.Eventually(t, func() bool {
		texts, _, _, _ := slowTr.snapshot()
		return uint64(len(texts))+slow.Dropped() == n
	}, 10*time.Second, 5*time.Millisecond)

	slowGot, _, _, _ := slowTr.snapshot()
	assert.Less(t, len(slowGot), n)
	assert.Positive(t, slow.Dropped())
	prev := -1
	for _, m := range slowGot {
		v, err := strconv.Atoi(m)
		require.NoError(t, err)
		require.Greater(t, v, prev, "slow subscriber must never see lines out of order")
		prev = v
	}
}

func TestServeStopsMidBatch(t *testing.T) {
	h := New(WithHeartbeat(time.Hour))
	s := h.Subscribe()
	tr := newFakeTransport()
	tr.delay = 20 * time.Millisecond
	inbound := make(chan Frame, 1)

	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background(), s, tr, inbound) }()

	for i := 0; i < 30; i++ {
		h.Publish(strconv.Itoa(i))
	}
	require.Eventually(t, func() bool {
		texts, _, _, _ := tr.snapshot()
		return len(texts) >= 1
	}, time.Second, time.Millisecond)

	inbound <- Frame{Kind: FrameClose}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(300 * time.Millisecond):
		t.Fatal("close request waited for the whole batch")
	}
	texts, _, closes, _ := tr.snapshot()
	assert.Less(t, len(texts), 30)
	assert.Equal(t, 1, closes)
}

func TestDrainNLeavesRestQueued(t *testing.T) {
	h := New(WithQueueSize(8))
	s := h.Subscribe()
	for i := 0; i < 5; i++ {
		h.Publish(strconv.Itoa(i))
	}
	<-s.ready

	assert.Equal(t, []string{"0", "1"}, s.drainN(nil, 2))
	assert.Equal(t, 3, s.Pending())
	select {
	case <-s.ready:
	default:
		t.Fatal("ready must be re-signalled while lines remain")
	}
	assert.Equal(t, []string{"2", "3", "4"}, s.drainN(nil, 0))

	// wrap the ring after a partial drain
	for i := 5; i < 12; i++ {
		h.Publish(strconv.Itoa(i))
	}
	assert.Equal(t, []string{"5", "6", "7", "8", "9", "10", "11"}, s.drain(nil))
}

func TestSessionsReportsState(t *testing.T) {
	h := New(WithQueueSize(2))
	a := h.Subscribe()
	time.Sleep(time.Millisecond)
	b := h.Subscribe()
	for i := 0; i < 3; i++ {
		h.Publish(strconv.Itoa(i))
	}

	infos := h.Sessions()
	require.Len(t, infos, 2)
	assert.Equal(t, a.ID(), infos[0].ID)
	assert.Equal(t, b.ID(), infos[1].ID)
	assert.Equal(t, 2, infos[0].Pending)
	assert.Equal(t, uint64(1), infos[0].Dropped)
	assert.False(t, infos[0].LastActivity.Before(infos[0].Created))

	before := infos[0].LastActivity
	time.Sleep(2 * time.Millisecond)
	a.touch()
	assert.True(t, a.Info().LastActivity.After(before))

	h.Unsubscribe(a)
	assert.Len(t, h.Sessions(), 1)
}

func TestServeDeliversInOrder(t *testing.T) {
	h := New(WithHeartbeat(time.Hour))
	s := h.Subscribe()
	tr := newFakeTransport()
	inbound := make(chan Frame)

	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background(), s, tr, inbound) }()

	for i := 0; i < 50; i++ {
		h.Publish(strconv.Itoa(i))
	}
	require.Eventually(t, func() bool {
		texts, _, _, _ := tr.snapshot()
		return len(texts) == 50
	}, 2*time.Second, 5*time.Millisecond)

	texts, _, _, _ := tr.snapshot()
	for i, m := range texts {
		require.Equal(t, strconv.Itoa(i), m)
	}

	inbound <- Frame{Kind: FrameClose}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return on close frame")
	}
	_, _, closes, _ := tr.snapshot()
	assert.Equal(t, 1, closes)
	assert.Equal(t, 0, h.Len())
}

func TestServeAnswersPings(t *testing.T) {
	h := New(WithHeartbeat(time.Hour))
	s := h.Subscribe()
	tr := newFakeTransport()
	inbound := make(chan Frame, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx, s, tr, inbound) }()

	inbound <- Frame{Kind: FramePing, Payload: []byte("are you there")}
	require.Eventually(t, func() bool {
		_, _, _, pongs := tr.snapshot()
		return len(pongs) == 1
	}, 2*time.Second, 5*time.Millisecond)
	_, _, _, pongs := tr.snapshot()
	assert.Equal(t, []byte("are you there"), pongs[0])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, h.Len())
}

func TestServeHeartbeat(t *testing.T) {
	h := New(WithHeartbeat(5 * time.Millisecond))
	s := h.Subscribe()
	tr := newFakeTransport()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Serve(ctx, s, tr, make(chan Frame)) }()

	require.Eventually(t, func() bool {
		_, pings, _, _ := tr.snapshot()
		return pings >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHeartbeatSurvivesBacklog(t *testing.T) {
	h := New(WithHeartbeat(2*time.Millisecond), WithQueueSize(64))
	s := h.Subscribe()
	tr := newFakeTransport()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Serve(ctx, s, tr, make(chan Frame)) }()

	stop := make(chan struct{})
	go func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				h.Publish(strconv.Itoa(i))
			}
		}
	}()
	defer close(stop)

	require.Eventually(t, func() bool {
		_, pings, _, _ := tr.snapshot()
		return pings >= 3
	}, 2*time.Second, time.Millisecond)
}

func TestWriteErrorIsLocalToSession(t *testing.T) {
	h := New(WithHeartbeat(time.Hour))
	bad, good := h.Subscribe(), h.Subscribe()
	badTr, goodTr := newFakeTransport(), newFakeTransport()
	badTr.failOn = "boom"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	badDone := make(chan error, 1)
	go func() { badDone <- h.Serve(ctx, bad, badTr, make(chan Frame)) }()
	go func() { _ = h.Serve(ctx, good, goodTr, make(chan Frame)) }()

	h.Publish("boom")
	select {
	case err := <-badDone:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("failing session did not end")
	}
	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 5*time.Millisecond)

	h.Publish("after")
	require.Eventually(t, func() bool {
		texts, _, _, _ := goodTr.snapshot()
		return len(texts) == 2 && texts[1] == "after"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestServeEndsWhenReaderStops(t *testing.T) {
	h := New(WithHeartbeat(time.Hour))
	s := h.Subscribe()
	inbound := make(chan Frame)
	close(inbound)

	err := h.Serve(context.Background(), s, newFakeTransport(), inbound)
	assert.ErrorIs(t, err, ErrPeerGone)
	assert.Equal(t, 0, h.Len())
}

func TestCloseEndsSessions(t *testing.T) {
	h := New(WithHeartbeat(time.Hour))
	s := h.Subscribe()
	tr := newFakeTransport()

	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background(), s, tr, make(chan Frame)) }()

	h.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not observe hub close")
	}

	late := h.Subscribe()
	select {
	case <-late.Done():
	default:
		t.Fatal("subscribe after close should return a closed session")
	}
	assert.Equal(t, 0, h.Len())
}
