// Package api serves a local HTTP control and diagnostics API for a running
// overlay.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowPeek/internal/capture"
	"github.com/bryanchriswhite/WindowPeek/internal/config"
	"github.com/bryanchriswhite/WindowPeek/internal/logger"
	"github.com/bryanchriswhite/WindowPeek/internal/overlay"
	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

const shutdownTimeout = 2 * time.Second

// Overlay is the part of the overlay controller the API drives.
type Overlay interface {
	Snapshot(ctx context.Context) (overlay.Snapshot, error)
	SelectSource(ctx context.Context, ref window.Ref) error
	ResetCrop(ctx context.Context) error
	Subscribe() chan overlay.Snapshot
	Unsubscribe(ch chan overlay.Snapshot)
	Done() <-chan struct{}
}

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	overlay   Overlay
	lister    window.Lister
	configMgr *config.Manager
	upgrader  websocket.Upgrader
	log       *zerolog.Logger
}

// NewServer creates a new API server. configMgr may be nil.
func NewServer(ov Overlay, lister window.Lister, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		overlay:   ov,
		lister:    lister,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: isLocalOrigin,
		},
		log: logger.WithComponent("api"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes. Routes live on the root router so a
// method mismatch answers 405 instead of 404.
func (s *Server) setupRoutes() {
	r := s.router
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed)
	})

	r.HandleFunc("/api/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/windows", s.handleGetWindows).Methods("GET")
	r.HandleFunc("/api/config", s.handleGetConfig).Methods("GET")

	r.HandleFunc("/api/overlay", s.handleGetOverlay).Methods("GET")
	r.HandleFunc("/api/overlay/source", s.handleSelectSource).Methods("POST")
	r.HandleFunc("/api/overlay/reset-crop", s.handleResetCrop).Methods("POST")
	r.HandleFunc("/api/overlay/stream", s.handleOverlayStream)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on the loopback interface until ctx is cancelled.
func (s *Server) Run(ctx context.Context, port int) error {
	addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", "http://"+addr).Msg("Starting API server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("API server shutdown")
		}
		return nil
	}
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleGetWindows(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.lister.ListCandidates()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, candidates)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.Error(w, "configuration unavailable", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleGetOverlay(w http.ResponseWriter, r *http.Request) {
	snap, err := s.overlay.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSelectSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID uint32 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ID == 0 {
		http.Error(w, "missing window id", http.StatusBadRequest)
		return
	}

	ref, err := s.resolve(req.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if err := s.overlay.SelectSource(r.Context(), ref); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("window", ref.Label()).Msg("Source switched via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleResetCrop(w http.ResponseWriter, r *http.Request) {
	if err := s.overlay.ResetCrop(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleOverlayStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := s.overlay.Subscribe()
	defer s.overlay.Unsubscribe(updates)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reading is only needed to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if snap, err := s.overlay.Snapshot(ctx); err == nil {
		if err := conn.WriteJSON(snap); err != nil {
			s.log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.overlay.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "overlay closed"))
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) resolve(id uint32) (window.Ref, error) {
	candidates, err := s.lister.ListCandidates()
	if err != nil {
		return window.Ref{}, err
	}
	for _, c := range candidates {
		if c.Ref.ID == id {
			return c.Ref, nil
		}
	}
	return window.Ref{}, fmt.Errorf("window %d is not a selectable source", id)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, overlay.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, capture.ErrInvalidSource):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// isLocalOrigin accepts clients without an Origin header and pages served
// from the loopback interface.
func isLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
