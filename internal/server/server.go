// Package server wires the chat core's modules — credential store, message
// history, client registry, broadcast router, command dispatcher, and the
// per-connection session state machine — behind an HTTP server that
// upgrades /ws to a WebSocket transport.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"chat/internal/broadcast"
	"chat/internal/command"
	"chat/internal/config"
	"chat/internal/credentials"
	"chat/internal/history"
	"chat/internal/registry"
	"chat/internal/session"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server owns the shared, long-lived collaborators every session is built
// from and the HTTP listener that accepts new connections.
type Server struct {
	cfg *config.Config

	registry   *registry.Registry
	history    *history.Ring
	router     *broadcast.Router
	creds      *credentials.Store
	dispatcher *command.Dispatcher
	logger     *slog.Logger
	audit      *auditPool

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New builds a Server from cfg, seeding the credential store with the
// built-in roster.
func New(cfg *config.Config, logger *slog.Logger) *Server {
	reg := registry.New()
	router := broadcast.New(reg, logger)
	return &Server{
		cfg:        cfg,
		registry:   reg,
		history:    history.New(cfg.HistoryCapacity),
		router:     router,
		creds:      credentials.New(credentials.DefaultSeed()),
		dispatcher: command.New(reg, router),
		logger:     logger,
		audit:      newAuditPool(cfg.AuditWorkers, logger),
		shutdown:   make(chan struct{}),
	}
}

// Handler builds the HTTP router: /healthz for liveness, /ws for the chat
// WebSocket upgrade.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	r.HandleFunc("/ws", s.handleWS).Methods("GET")
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	id := s.nextConnID()
	s.logger.Info("connection accepted", "connection_id", id, "remote_addr", r.RemoteAddr)

	sess := session.New(id, conn, session.Deps{
		Registry:          s.registry,
		History:           s.history,
		Router:            s.router,
		Credentials:       s.creds,
		Dispatcher:        s.dispatcher,
		Logger:            s.logger,
		Shutdown:          s.shutdown,
		KeepAliveInterval: s.cfg.KeepAliveInterval,
		PongTimeout:       s.cfg.PongTimeout,
		MaxAuthFailures:   s.cfg.MaxAuthFailures,
		OutboundBuffer:    s.cfg.OutboundBuffer,
		OnChatBroadcast: func(username, content string) {
			s.audit.submit(auditEvent{Username: username, Length: len(content)})
		},
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.Run()
	}()
}

func (s *Server) nextConnID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing here means the system RNG is unusable; there is
		// nothing sensible left to do but surface a deterministic fallback.
		return "conn-unavailable"
	}
	return "conn-" + hex.EncodeToString(buf)
}

// ListenAndServe starts the HTTP server and blocks until ctx is canceled or
// the server fails. On cancellation it drains every live session before
// returning; a listener failure is returned at once, without draining.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
		close(s.shutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server forced to shutdown", "error", err)
		}

		s.wg.Wait()
		s.audit.stop()
		s.logger.Info("server stopped")
		return nil
	}
}
