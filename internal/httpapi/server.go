package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/dyadchat/internal/config"
	"github.com/antoniostano/dyadchat/internal/observability"
	"github.com/antoniostano/dyadchat/internal/protocol"
	"github.com/antoniostano/dyadchat/internal/session"
)

// DefaultIdentity is used when a client connects without a pid.
const DefaultIdentity = "DEBUG_LOCAL"

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers unless explicitly relaxed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/api/config", s.handleConfig)
	r.Get("/ws", s.handleWS)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.sessions.Closed() {
		respondError(w, http.StatusServiceUnavailable, "shutting_down", "session manager closed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.sessions.Serving() {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "not accepting participants")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
		"waiting":         s.sessions.QueueLen(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"question_type": s.cfg.QuestionType,
		"max_turns":     s.cfg.MaxTurns,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimSpace(r.URL.Query().Get("pid"))
	if identity == "" {
		identity = DefaultIdentity
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := newWSConn(ws, s.metrics)
	log := s.logger.With("identity", identity, "conn_id", conn.ID())
	s.metrics.SessionEvent("ws_connected")

	go conn.writeLoop()

	// Panics become manager faults; serve exits on the first one.
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("connection handler panic", "panic", rec, "stack", string(debug.Stack()))
			s.sessions.Fault(rec)
			conn.Close()
			<-conn.done
		}
	}()

	s.sessions.Connect(conn, identity)

	ws.SetReadLimit(2 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(readWait))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			log.Debug("invalid client message", "error", err)
			conn.Send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		s.sessions.Handle(conn, parsed)
	}

	s.sessions.Disconnect(conn)
	conn.Close()
	<-conn.done
	s.metrics.SessionEvent("ws_disconnected")
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
