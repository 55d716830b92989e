package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"pressure-feeder/internal/hub"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// wsTransport is the write half of one subscriber connection. Only the hub's
// Serve loop writes to it.
type wsTransport struct {
	conn *websocket.Conn
}

func (t wsTransport) WriteText(msg string) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (t wsTransport) WritePing() error {
	return t.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait))
}

func (t wsTransport) WritePong(payload []byte) error {
	return t.conn.WriteControl(websocket.PongMessage, payload, time.Now().Add(writeWait))
}

func (t wsTransport) WriteClose() error {
	return t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (s *HTTPServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("ws upgrade", slog.String("err", err.Error()))
		return
	}
	defer conn.Close()

	sess := s.hub.Subscribe()
	log := s.log.With(slog.String("session", sess.ID()), slog.String("remote", r.RemoteAddr))
	log.Info("subscriber connected", slog.Int("subscribers", s.hub.Len()))

	inbound := make(chan hub.Frame, 8)
	go readPump(conn, sess.Done(), inbound, 3*s.hub.Heartbeat())

	err = s.hub.Serve(r.Context(), sess, wsTransport{conn: conn}, inbound)
	switch {
	case err == nil, errors.Is(err, hub.ErrPeerGone), errors.Is(err, hub.ErrSessionClosed):
		log.Info("subscriber disconnected", slog.Uint64("dropped", sess.Dropped()))
	default:
		log.Warn("subscriber ended", slog.String("err", err.Error()), slog.Uint64("dropped", sess.Dropped()))
	}
}

// readPump forwards control frames to the Serve loop and never writes. It
// closes inbound when the read side fails.
func readPump(conn *websocket.Conn, done <-chan struct{}, inbound chan<- hub.Frame, idle time.Duration) {
	defer close(inbound)

	forward := func(f hub.Frame) {
		select {
		case inbound <- f:
		case <-done:
		}
	}
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(idle)) }

	conn.SetReadLimit(4096)
	extend()
	conn.SetPingHandler(func(data string) error {
		extend()
		forward(hub.Frame{Kind: hub.FramePing, Payload: []byte(data)})
		return nil
	})
	conn.SetPongHandler(func(string) error {
		extend()
		forward(hub.Frame{Kind: hub.FramePong})
		return nil
	})
	conn.SetCloseHandler(func(code int, text string) error {
		forward(hub.Frame{Kind: hub.FrameClose})
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		extend()
		forward(hub.Frame{Kind: hub.FrameText, Payload: data})
	}
}
