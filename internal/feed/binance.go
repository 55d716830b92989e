package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
	maxBackoff   = 30 * time.Second
)

// BinanceConfig describes the combined-stream subscription.
type BinanceConfig struct {
	URL          string
	Symbols      []string
	DepthLevels  int
	DepthSpeedMs int
	DisableDepth bool
}

// BinanceFeed reads aggTrade and depth streams for every configured symbol over
// one combined-stream connection, reconnecting with backoff.
type BinanceFeed struct {
	cfg    BinanceConfig
	dialer *websocket.Dialer
	log    *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	evCh  chan Event
	errCh chan error

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewBinanceFeed(cfg BinanceConfig, logger *slog.Logger) *BinanceFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &BinanceFeed{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    logger.With("component", "binance_feed"),
		evCh:   make(chan Event, 1024),
		errCh:  make(chan error, 16),
	}
}

// URL is the combined-stream endpoint the feed dials.
func (f *BinanceFeed) URL() string {
	streams := StreamNames(f.cfg.Symbols, f.cfg.DepthLevels, f.cfg.DepthSpeedMs, f.cfg.DisableDepth)
	return CombinedURL(f.cfg.URL, streams)
}

// Connected reports whether a socket is currently open.
func (f *BinanceFeed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn != nil
}

func (f *BinanceFeed) Events() <-chan Event { return f.evCh }
func (f *BinanceFeed) Errors() <-chan error { return f.errCh }

// Close stops Run and closes the output channels. Call it only after Run returns.
func (f *BinanceFeed) Close() {
	f.closeOnce.Do(func() {
		if f.cancel != nil {
			f.cancel()
		}
		close(f.errCh)
		close(f.evCh)
	})
}

func (f *BinanceFeed) Run(ctx context.Context, onStatus func(connected bool)) {
	if f.cancel != nil {
		return
	}
	f.ctx, f.cancel = context.WithCancel(ctx)

	backoff := time.Second
	for {
		if f.ctx.Err() != nil {
			return
		}

		ws, _, err := f.dialer.DialContext(f.ctx, f.URL(), nil)
		if err != nil {
			onStatus(false)
			f.emitErr(fmt.Errorf("ws open: %w", err))
			if !sleepCtx(f.ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		f.mu.Lock()
		f.conn = ws
		f.mu.Unlock()
		onStatus(true)
		f.log.Info("connected", "streams", len(StreamNames(f.cfg.Symbols, f.cfg.DepthLevels, f.cfg.DepthSpeedMs, f.cfg.DisableDepth)))
		backoff = time.Second

		err = f.readLoop(ws)
		onStatus(false)
		if err != nil && f.ctx.Err() == nil {
			f.emitErr(err)
		}
	}
}

func (f *BinanceFeed) readLoop(ws *websocket.Conn) error {
	defer func() {
		_ = ws.Close()
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(f.ctx, func() {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"), time.Now().Add(time.Second))
		_ = ws.Close()
	})
	defer stop()

	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				_ = ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if f.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ws read: %w", err)
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		ev, ok := Decode(data)
		if !ok {
			// subscription acks and unknown events
			continue
		}
		select {
		case f.evCh <- ev:
		case <-f.ctx.Done():
			return nil
		}
	}
}

func (f *BinanceFeed) emitErr(err error) {
	select {
	case f.errCh <- err:
	default:
		// drop if buffer full
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
