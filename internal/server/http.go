package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pressure-feeder/internal/config"
	"pressure-feeder/internal/hub"
	"pressure-feeder/internal/instrumentation"
	"pressure-feeder/internal/state"
)

type HTTPServer struct {
	cfg     config.Config
	st      *state.State
	hub     *hub.Hub
	metrics *instrumentation.Metrics
	log     *slog.Logger
	router  chi.Router
}

func NewHTTPServer(cfg config.Config, st *state.State, h *hub.Hub, m *instrumentation.Metrics, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HTTPServer{
		cfg:     cfg,
		st:      st,
		hub:     h,
		metrics: m,
		log:     logger.With(slog.String("component", "http")),
		router:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *HTTPServer) Router() http.Handler { return s.router }

func (s *HTTPServer) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.logRequests)

	// subscriber surface
	s.router.Get("/aggTrade", s.serveWS)
	s.router.Get("/ws", s.serveWS)

	s.router.Get("/api/health", s.apiHealth)
	s.router.Get("/api/config", s.apiConfig)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
}

// logRequests uses chi's wrapped writer, which still supports Hijack for the
// websocket upgrade.
func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *HTTPServer) apiHealth(w http.ResponseWriter, r *http.Request) {
	var lastEvent int64
	if t := s.st.LastEvent(); !t.IsZero() {
		lastEvent = t.UnixMilli()
	}
	writeJSON(w, map[string]any{
		"ok":            true,
		"connected":     s.st.Connected(),
		"subscribers":   s.hub.Len(),
		"sessions":      s.hub.Sessions(),
		"uptimeSeconds": int64(s.st.Uptime().Seconds()),
		"lastEventMs":   lastEvent,
	})
}

func (s *HTTPServer) apiConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"source":               s.cfg.Source,
		"depthLevels":          s.cfg.DepthLevels,
		"depthSpeedMs":         s.cfg.DepthSpeedMs,
		"disableDepthStream":   s.cfg.DisableDepthStream,
		"broadcastCapacity":    s.hub.QueueSize(),
		"heartbeatSeconds":     int(s.hub.Heartbeat().Seconds()),
		"alertCooldownSeconds": s.cfg.AlertCooldownSeconds,
		"symbols":              s.cfg.Resolved,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
