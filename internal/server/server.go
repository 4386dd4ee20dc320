// Package server implements C7: the HTTP boundary — a single gorilla/mux
// router exposing the WebSocket upgrade endpoint alongside JSON
// status/debug endpoints, with manual CORS headers and a graceful
// shutdown sequence, the same router/http.Server shape the teacher's
// hydra.Server and runner.Server use (spec.md §4.7).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Mizuir0/live-reaction-system/internal/aggregator"
	"github.com/Mizuir0/live-reaction-system/internal/connection"
	"github.com/Mizuir0/live-reaction-system/internal/hub"
	"github.com/Mizuir0/live-reaction-system/internal/persistence"
	"github.com/Mizuir0/live-reaction-system/internal/system"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Server owns the HTTP listener and wires /ws to the connection
// Manager, alongside read-only JSON views over Hub/Store/Persistence.
type Server struct {
	port        int
	frontendURL string

	hub         *hub.Hub
	persistence *persistence.Store
	manager     *connection.Manager
	aggregator  *aggregator.Aggregator

	httpServer *http.Server
}

// NewServer builds the router and binds every handler, but does not
// start listening until ListenAndServe is called.
func NewServer(port int, frontendURL string, h *hub.Hub, p *persistence.Store, m *connection.Manager, a *aggregator.Aggregator) *Server {
	s := &Server{
		port:        port,
		frontendURL: frontendURL,
		hub:         h,
		persistence: p,
		manager:     m,
		aggregator:  a,
	}

	router := mux.NewRouter()
	router.Use(s.corsMiddleware)
	router.HandleFunc("/ws", s.manager.Accept)
	router.HandleFunc("/", s.handleRoot).Methods("GET", "OPTIONS")
	router.HandleFunc("/status", s.handleStatus).Methods("GET", "OPTIONS")
	router.HandleFunc("/debug/aggregation", s.handleDebugAggregation).Methods("GET", "OPTIONS")
	router.HandleFunc("/debug/database", s.handleDebugDatabase).Methods("GET", "OPTIONS")

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		// Long-lived WebSocket connections outlive any fixed idle
		// timeout by design; IdleTimeout governs keep-alive HTTP only.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// corsMiddleware mirrors the teacher's addCorsHeaders, parameterized by
// the configured frontend origin instead of a hardcoded "*".
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := s.frontendURL
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":     true,
		"connections": s.hub.Count(),
		"store_path":  s.persistence.Path(),
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connections":   s.hub.Count(),
		"user_ids":      s.hub.UserIDs(),
		"dropped_sends": s.hub.DropCount(),
	})
}

func (s *Server) handleDebugAggregation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"idle":          s.aggregator.Idle(),
		"tick_overruns": s.aggregator.OverrunCount(),
	})
}

func (s *Server) handleDebugDatabase(w http.ResponseWriter, r *http.Request) {
	counts, err := s.persistence.TableCounts()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	reactions, err := s.persistence.RecentReactions(20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	effects, err := s.persistence.RecentEffects(20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"table_counts":     counts,
		"recent_reactions": reactions,
		"recent_effects":   effects,
	})
}

// ListenAndServe serves until ctx is cancelled, then drains existing
// connections and shuts the HTTP server down with a bounded grace
// period (spec.md §4.7 "Shutdown sequence"). cm's hooks close the
// persistence handle after the listener stops accepting new work.
func (s *Server) ListenAndServe(ctx context.Context, cm *system.CleanupManager) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.port).Msg("reaction hub listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down reaction hub")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down HTTP server")
	}

	s.hub.CloseAll()
	cm.Cleanup(shutdownCtx)
	return nil
}
