package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hugomdz/consultavirtual/internal/backend"
	"github.com/hugomdz/consultavirtual/internal/config"
	"github.com/hugomdz/consultavirtual/internal/observability"
	"github.com/hugomdz/consultavirtual/internal/report"
	"github.com/hugomdz/consultavirtual/internal/session"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	querier  backend.Querier
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	storeMu sync.Mutex
	stores  map[string]*report.Store
}

func New(cfg config.Config, sessions *session.Manager, querier backend.Querier, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		querier:  querier,
		metrics:  metrics,
		stores:   make(map[string]*report.Store),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the same
				// origin. Other websites must not be able to drive a consultation
				// session if the service is ever exposed beyond localhost.
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

	r.Post("/v1/consulta/session", s.handleCreateSession)
	r.Post("/v1/consulta/session/{id}/end", s.handleEndSession)
	r.Get("/v1/consulta/session/ws", s.handleSessionWS)
	r.Get("/v1/consulta/session/{id}/report/export", s.handleExportReport)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"backend_mode": s.cfg.BackendMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"backend_mode": s.cfg.BackendMode,
	})
}

type createSessionResponse struct {
	SessionID       string    `json:"session_id"`
	Status          string    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	SpeechLang      string    `json:"speech_lang"`
	AvatarOrigin    string    `json:"avatar_origin"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.sessions.Create()

	s.storeMu.Lock()
	s.stores[sess.ID] = report.NewStore()
	s.storeMu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}

	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:       sess.ID,
		Status:          string(sess.Status),
		StartedAt:       sess.StartedAt,
		SpeechLang:      s.cfg.SpeechLang,
		AvatarOrigin:    s.cfg.AvatarProviderOrigin,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	store := s.storeFor(id)
	if store == nil {
		respondError(w, http.StatusNotFound, "session_not_found", "unknown session")
		return
	}

	current, ok := store.Current()
	if !ok {
		respondError(w, http.StatusNotFound, "no_report", "no hay reporte disponible para descargar")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.Filename(time.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(report.Format(current)))
}

// storeFor returns the per-session report store, or nil when the session was
// never created here.
func (s *Server) storeFor(sessionID string) *report.Store {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	return s.stores[sessionID]
}

// ReleaseStore drops the report state of an expired session.
func (s *Server) ReleaseStore(sessionID string) {
	s.storeMu.Lock()
	delete(s.stores, sessionID)
	s.storeMu.Unlock()
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
