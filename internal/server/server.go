// Package server exposes the deck over HTTP: status and queue queries, the
// manual transition trigger, a telemetry websocket and the audio outputs.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satindergrewal/hdj/internal/stream"
	"github.com/satindergrewal/hdj/internal/transition"
)

// TelemetryInterval is how often snapshots are pushed to websocket clients.
const TelemetryInterval = 100 * time.Millisecond

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	// the deck is a local tool, any page may watch it
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Deck is the part of the transition controller the server drives.
type Deck interface {
	Snapshot() transition.Snapshot
	UpNext() []string
	Trigger()
	CancelTrigger() bool
	Pending() bool
}

// Options wires the optional audio outputs.
type Options struct {
	// Frames counts HTTP listeners for /api/status.
	Frames *stream.Broadcaster[[]int16]
	Stream http.Handler
	WebRTC *stream.WebRTCHandler
	Log    *zap.Logger
}

// Server serves the deck's HTTP API and its live telemetry.
type Server struct {
	ctx       context.Context
	deck      Deck
	snapshots *stream.Broadcaster[transition.Snapshot]
	opts      Options
	log       *zap.Logger
}

// New creates a server. ctx bounds every websocket session.
func New(ctx context.Context, deck Deck, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		ctx:       ctx,
		deck:      deck,
		snapshots: stream.NewBroadcaster[transition.Snapshot](16),
		opts:      opts,
		log:       log.Named("server"),
	}
}

// Router builds the chi router with all routes.
func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}
	r.Use(cors)

	r.Get("/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/queue", s.handleQueue)
	r.Post("/api/next", s.handleTrigger)
	r.Delete("/api/next", s.handleCancel)
	r.Get("/ws", s.handleWS)

	if s.opts.Stream != nil {
		r.Get("/stream", s.opts.Stream.ServeHTTP)
	}
	if s.opts.WebRTC != nil {
		r.Post("/offer", s.opts.WebRTC.ServeHTTP)
		r.Options("/offer", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}
	return r
}

// RunTelemetry publishes a snapshot every interval until ctx is done.
func (s *Server) RunTelemetry(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = TelemetryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.snapshots.ListenerCount() > 0 {
				s.snapshots.Publish(s.deck.Snapshot())
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "hdj",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	// every PCM sink counts, WebRTC peers and the speaker included
	frameListeners, webrtcListeners := 0, 0
	if s.opts.Frames != nil {
		frameListeners = s.opts.Frames.ListenerCount()
	}
	if s.opts.WebRTC != nil {
		webrtcListeners = s.opts.WebRTC.PeerCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deck":              s.deck.Snapshot(),
		"frame_listeners":   frameListeners,
		"webrtc_listeners":  webrtcListeners,
		"telemetry_clients": s.snapshots.ListenerCount(),
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	upNext := s.deck.UpNext()
	if upNext == nil {
		upNext = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"up_next": upNext})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	s.deck.Trigger()
	s.log.Debug("manual trigger requested", zap.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "pending": s.deck.Pending()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	cancelled := s.deck.CancelTrigger()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "cancelled": cancelled})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	l := s.snapshots.Subscribe()
	defer s.snapshots.Unsubscribe(l)
	s.log.Info("telemetry client connected", zap.Int("clients", s.snapshots.ListenerCount()))

	// the client never sends anything we use, read only to notice it leaving
	go func() {
		defer s.snapshots.Unsubscribe(l)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.send(conn, s.deck.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		case <-l.Done():
			return
		case snap := <-l.C:
			if err := s.send(conn, snap); err != nil {
				s.log.Debug("telemetry client gone", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) send(conn *websocket.Conn, snap transition.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snap)
}

// RequestLogger logs each request through log.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
