// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package web is the page-serving HTTP layer in front of the auth core.
// It owns no authentication decisions of its own: every request is mapped to
// Anonymous or Authenticated by resolving the session cookie through
// auth.Service, and the handlers only translate outcomes into views and
// redirects.
package web

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/observability"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Server serves the public pages and the register/login endpoints.
type Server struct {
	addr       string
	service    *auth.Service
	secret     []byte
	metrics    *observability.Metrics // nil when the metrics server is disabled
	logger     *slog.Logger
	engine     *gin.Engine
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates a web server bound to the given auth service.
// metrics may be nil.
func NewServer(addr string, service *auth.Service, sessionSecret string, metrics *observability.Metrics, logger *slog.Logger) (*Server, error) {
	if service == nil {
		return nil, oops.Code("WEB_CONFIG_INVALID").Errorf("auth service is required")
	}
	if sessionSecret == "" {
		return nil, oops.Code("WEB_CONFIG_INVALID").Errorf("session secret is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:    addr,
		service: service,
		secret:  []byte(sessionSecret),
		metrics: metrics,
		logger:  logger,
	}
	s.engine = s.buildEngine()
	return s, nil
}

// buildEngine wires the gin router: recovery, session resolution, routes.
func (s *Server) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.SetHTMLTemplate(template.Must(template.ParseFS(templatesFS, "templates/*.tmpl")))

	engine.Use(s.sessionMiddleware())

	engine.GET("/", s.handleHome)
	engine.GET("/login", s.handleLoginPage)
	engine.GET("/register", s.handleRegisterPage)
	engine.GET("/secrets", s.handleSecrets)
	engine.POST("/register", s.handleRegister)
	engine.POST("/login", s.handleLogin)

	return engine
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving. It returns an error channel that receives any error
// from the HTTP server after startup; the channel is closed on graceful stop.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("web server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("web server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("web server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the web server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_web_server").Wrap(err)
		}
	}

	s.logger.Info("web server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
