// Package server serves language sessions over WebSocket, one JSON-RPC
// message per frame.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/cubelsp/internal/lsp"
	"github.com/leapstack-labs/cubelsp/pkg/semantic"
)

// DefaultPath is the WebSocket endpoint when Config.Path is empty.
const DefaultPath = "/lsp"

// Server is the WebSocket language server.
type Server struct {
	listen    string
	path      string
	model     *semantic.Model
	session   lsp.SessionOptions
	logger    *slog.Logger
	readLimit int64
	upgrader  websocket.Upgrader
}

// Config holds configuration for the WebSocket server.
type Config struct {
	Listen string
	Path   string
	// Model seeds every new session with its current snapshot.
	Model *semantic.Model
	// Session is applied to every session; its ID is ignored.
	Session lsp.SessionOptions
	Logger  *slog.Logger
	// ReadLimit bounds one incoming frame. Defaults to lsp.MaxContentLength.
	ReadLimit int64
}

// New creates a new WebSocket server instance.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	model := cfg.Model
	if model == nil {
		model = semantic.NewModel(nil)
	}
	opts := cfg.Session
	opts.ID = ""
	readLimit := cfg.ReadLimit
	if readLimit <= 0 {
		readLimit = lsp.MaxContentLength
	}

	return &Server{
		listen:    cfg.Listen,
		path:      path,
		model:     model,
		session:   opts,
		logger:    logger,
		readLimit: readLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Editor webviews connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.requestLogger,
		middleware.Recoverer,
	)

	r.Get("/healthz", s.handleHealth)
	r.Get(s.path, s.handleLSP)
	return r
}

// Serve listens on the configured address and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.listen, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled, then shuts down
// gracefully. Open sessions are closed with the request context.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting language server", "addr", "ws://"+ln.Addr().String()+s.path)

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down language server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"cubes":  s.model.Load().Len(),
	})
}

func (s *Server) handleLSP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(s.readLimit)

	session := lsp.NewSessionWithLogger(s.model.Load(), s.session, s.logger)
	logger := s.logger.With("session", session.ID(), "remote", r.RemoteAddr)
	logger.Info("session opened")

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(r.Context(), func() { _ = conn.Close() })
	defer stop()

	s.serveConn(r.Context(), conn, session, logger)
	logger.Info("session closed")
}

// serveConn handles frames sequentially until the peer goes away or the
// session receives exit.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn, session *lsp.Session, logger *slog.Logger) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
				logger.Debug("connection closed", "error", err)
			} else {
				logger.Warn("read failed", "error", err)
			}
			return
		}

		reply, err := session.HandleRaw(ctx, data)
		if err != nil {
			logger.Warn("message not handled", "error", err)
		}
		if reply != nil {
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				logger.Warn("write failed", "error", err)
				return
			}
		}

		if session.Exited() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "exit")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

// requestLogger logs each request through the server's slog logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		}()
		next.ServeHTTP(ww, r)
	})
}
