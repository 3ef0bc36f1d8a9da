// Package webui is the switchboard web panel: a small JSON API over a
// running router plus an embedded single-page chat client with a live log
// stream.
package webui

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	switchboard "github.com/nevindra/switchboard"
)

//go:embed index.html
var indexHTML []byte

const logHeartbeat = 30 * time.Second

// RouterAPI is the router surface the panel consumes. *switchboard.Router
// implements it; tests substitute a stub.
type RouterAPI interface {
	HandleTurn(ctx context.Context, sessionID, userText string) (string, error)
	CacheContents() []string
	HealthSnapshot() map[string]switchboard.HealthRecord
	RecentEvents(n int) []switchboard.UsageRecord
	UsageTotals() map[string]switchboard.HandleUsage
	Catalog() []switchboard.ServerEntry
}

// Server is the HTTP façade. It implements http.Handler.
type Server struct {
	router RouterAPI
	logs   *LogStream
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer wires the façade. logs may be nil when no live log panel is
// wanted; the /api/logs endpoint then reports 404.
func NewServer(router RouterAPI, logs *LogStream, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router: router,
		logs:   logs,
		logger: logger.With("component", "webui"),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/cache", s.handleCache)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/logs", s.handleLogs)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe runs the façade until ctx is cancelled, then drains
// connections for up to five seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("web panel listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	ReplyHTML string `json:"reply_html"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Recoverable bool   `json:"recoverable"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}
	if req.SessionID == "" {
		req.SessionID = switchboard.NewID()
	}

	reply, err := s.router.HandleTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.logger.Warn("chat turn failed", "session", req.SessionID, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:       err.Error(),
			Recoverable: switchboard.IsRecoverable(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: req.SessionID,
		Reply:     reply,
		ReplyHTML: renderHTML(reply),
	})
}

type cacheEntry struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
	Successes   int    `json:"successes"`
	Failures    int    `json:"failures"`
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	names := make(map[string]switchboard.ServerEntry)
	for _, e := range s.router.Catalog() {
		names[e.Handle] = e
	}
	totals := s.router.UsageTotals()

	cached := s.router.CacheContents()
	entries := make([]cacheEntry, 0, len(cached))
	for _, h := range cached {
		ce := cacheEntry{Handle: h, DisplayName: h}
		if e, ok := names[h]; ok {
			ce.DisplayName = e.DisplayName
			ce.Category = e.Category
		}
		if u, ok := totals[h]; ok {
			ce.Successes = u.Successes
			ce.Failures = u.Failures
		}
		entries = append(entries, ce)
	}
	writeJSON(w, http.StatusOK, map[string]any{"cached": entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"unhealthy": s.router.HealthSnapshot()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.router.RecentEvents(limit)})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		http.NotFound(w, r)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lines, cancel := s.logs.Subscribe()
	defer cancel()

	// Replay the retained tail so a client connecting mid-run has context.
	for _, line := range s.logs.Recent() {
		fmt.Fprintf(w, "event: log\ndata: %s\n\n", line)
	}
	flusher.Flush()

	ticker := time.NewTicker(logHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case line := <-lines:
			fmt.Fprintf(w, "event: log\ndata: %s\n\n", line)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
