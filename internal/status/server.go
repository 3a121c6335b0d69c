// Package status serves the sync journal over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	gitbox "github.com/schaermu/gitbox/internal/sync"
)

// Source provides the current journal snapshot.
type Source interface {
	Snapshot() gitbox.Snapshot
}

// Server exposes GET /status (the journal snapshot as JSON) and GET /healthz.
type Server struct {
	addr   string
	source Source
	logger *slog.Logger
}

// NewServer creates a status server listening on addr unless the process
// was socket activated.
func NewServer(addr string, source Source, logger *slog.Logger) *Server {
	return &Server{addr: addr, source: source, logger: logger}
}

// Handler returns the HTTP handler serving the status routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	listener, err := activatedListener()
	if err != nil {
		return err
	}
	if listener != nil {
		s.logger.Info("using systemd socket activation", "addr", listener.Addr().String())
	} else {
		listener, err = net.Listen("tcp", s.addr)
		if err != nil {
			return err
		}
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server starting", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down status server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.source.Snapshot()); err != nil {
		s.logger.Error("failed to write status", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
