package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	json "github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/MahmoudSaeedNST/learnhub/internal/config"
	"github.com/MahmoudSaeedNST/learnhub/internal/hub"
)

// Server is the HTTP surface of the hub: the websocket upgrade endpoint
// plus health and metrics. Authentication happens in-band on the socket,
// so none of these routes carry an auth middleware.
type Server struct {
	log            zerolog.Logger
	hub            *hub.Hub
	mux            *http.Server
	allowedOrigins []string
}

func NewServer(log zerolog.Logger, h *hub.Hub, cfg *config.Config) *Server {
	s := &Server{
		log:            log.With().Str("component", "api").Logger(),
		hub:            h,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	handler = s.errorHandler(handler)

	s.mux = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.mux.Addr).Msg("listening")
	return s.mux.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Handler exposes the assembled handler chain for tests.
func (s *Server) Handler() http.Handler {
	return s.mux.Handler
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	s.hub.ServeConn(conn)
}

type healthResponse struct {
	Status string       `json:"status"`
	Hub    hub.Snapshot `json:"hub"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, healthResponse{
		Status: "ok",
		Hub:    s.hub.Snapshot(),
	})
}

func (s *Server) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to write response")
	}
}
