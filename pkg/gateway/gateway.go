// Package gateway exposes the assistant over HTTP: a message endpoint, a
// per-session progress stream (SSE and websocket), health, and metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calbot/calbot/pkg/agent"
	"github.com/calbot/calbot/pkg/bus"
	"github.com/calbot/calbot/pkg/config"
	"github.com/calbot/calbot/pkg/logger"
	"github.com/calbot/calbot/pkg/ports"
	"github.com/calbot/calbot/pkg/session"
)

// MessageRequest is the inbound turn payload.
type MessageRequest struct {
	SessionID string             `json:"session_id"`
	Message   string             `json:"message"`
	Accounts  []ports.AccountRef `json:"accounts,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server is the HTTP front of the assistant.
type Server struct {
	cfg      config.GatewayConfig
	loop     *agent.Loop
	events   *bus.EventBus
	upgrader websocket.Upgrader
	http     *http.Server
}

func NewServer(cfg config.GatewayConfig, loop *agent.Loop, events *bus.EventBus) *Server {
	s := &Server{
		cfg:    cfg,
		loop:   loop,
		events: events,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/message", s.handleMessage).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/sessions/{id}/events", s.handleEvents).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Use(s.corsMiddleware)

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	logger.InfoCF("gateway", "HTTP gateway listening", map[string]interface{}{
		"addr": s.http.Addr,
	})
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "session_id is required"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}

	result, err := s.loop.ProcessMessage(r.Context(), req.SessionID, req.Message, req.Accounts)
	if errors.Is(err, session.ErrSessionBusy) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		logger.ErrorCF("gateway", "Turn failed", map[string]interface{}{
			"session": req.SessionID,
			"error":   err.Error(),
		})
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to process message"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleEvents streams a session's progress events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	events, cancel := s.events.Subscribe(sessionID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// handleWebSocket is the bidirectional variant: inbound frames are message
// requests, outbound frames are bus events.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "session_id query parameter is required"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("gateway", "WebSocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	defer conn.Close()

	events, cancel := s.events.Subscribe(sessionID)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range events {
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}()

	for {
		var req MessageRequest
		if err := conn.ReadJSON(&req); err != nil {
			break
		}
		if req.Message == "" {
			_ = conn.WriteJSON(bus.Event{Type: bus.EventError, Content: "message is required"})
			continue
		}

		_, err := s.loop.ProcessMessage(r.Context(), sessionID, req.Message, req.Accounts)
		if errors.Is(err, session.ErrSessionBusy) {
			_ = conn.WriteJSON(bus.Event{Type: bus.EventError, Content: err.Error()})
			continue
		}
		if err != nil {
			_ = conn.WriteJSON(bus.Event{Type: bus.EventError, Content: "failed to process message"})
		}
		// The response itself arrives through the event subscription.
	}

	cancel()
	<-done
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
