package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressure-feeder/internal/config"
	"pressure-feeder/internal/hub"
	"pressure-feeder/internal/instrumentation"
	"pressure-feeder/internal/state"
)

type fixture struct {
	srv *httptest.Server
	hub *hub.Hub
	st  *state.State
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg, err := config.LoadWithEnv("", map[string]string{})
	require.NoError(t, err)

	m := instrumentation.NewMetrics()
	h := hub.New(hub.WithQueueSize(8), hub.WithHeartbeat(time.Minute), hub.WithMetrics(m))
	st := state.NewState(0)
	srv := httptest.NewServer(NewHTTPServer(cfg, st, h, m, nil).Router())
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return fixture{srv: srv, hub: h, st: st}
}

func (f fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestSubscriberReceivesPublishedLines(t *testing.T) {
	for _, path := range []string{"/aggTrade", "/ws"} {
		t.Run(path, func(t *testing.T) {
			f := newFixture(t)
			conn := f.dial(t, path)

			f.hub.Publish("[DEPTH] one")
			f.hub.Publish("[BIGMOVE] two")

			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			for _, want := range []string{"[DEPTH] one", "[BIGMOVE] two"} {
				kind, data, err := conn.ReadMessage()
				require.NoError(t, err)
				assert.Equal(t, websocket.TextMessage, kind)
				assert.Equal(t, want, string(data))
			}
		})
	}
}

func TestSubscriberPingGetsPong(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/aggTrade")

	pongs := make(chan string, 1)
	conn.SetPongHandler(func(data string) error {
		pongs <- data
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, conn.WriteControl(websocket.PingMessage, []byte("hello"), time.Now().Add(time.Second)))
	select {
	case got := <-pongs:
		assert.Equal(t, "hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("no pong")
	}
}

func TestSubscriberCloseUnregisters(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/ws")

	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second)))
	require.Eventually(t, func() bool { return f.hub.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubCloseDisconnectsSubscribers(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/ws")

	f.hub.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
}

func TestAPIHealth(t *testing.T) {
	f := newFixture(t)
	f.st.SetConnected(true)

	resp, err := http.Get(f.srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		OK          bool  `json:"ok"`
		Connected   bool  `json:"connected"`
		Subscribers int   `json:"subscribers"`
		LastEventMs int64 `json:"lastEventMs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.OK)
	assert.True(t, body.Connected)
	assert.Zero(t, body.Subscribers)
	assert.Zero(t, body.LastEventMs)
}

func TestAPIHealthListsSessions(t *testing.T) {
	f := newFixture(t)
	f.dial(t, "/aggTrade")
	f.hub.Publish("[DEPTH] x")

	resp, err := http.Get(f.srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Subscribers int        `json:"subscribers"`
		Sessions    []hub.Info `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Subscribers)
	require.Len(t, body.Sessions, 1)
	assert.NotEmpty(t, body.Sessions[0].ID)
	assert.False(t, body.Sessions[0].Created.IsZero())
	assert.False(t, body.Sessions[0].LastActivity.Before(body.Sessions[0].Created))
}

func TestAPIConfig(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/api/config")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Source            string                `json:"source"`
		BroadcastCapacity int                   `json:"broadcastCapacity"`
		Symbols           []config.SymbolConfig `json:"symbols"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "binance", body.Source)
	assert.Equal(t, 8, body.BroadcastCapacity)
	require.Len(t, body.Symbols, 1)
	assert.Equal(t, "BTCUSDT", body.Symbols[0].Symbol)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.hub.Publish("x")

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "feeder_hub_published_total 1")
}
