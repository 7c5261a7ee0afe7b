// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes sessions over websocket.
//
// Each accepted connection gets its own session.Session running on the
// handler goroutine. Sessions share only the adapters passed in Deps.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianRules/services/agent/datatypes"
	"github.com/AleutianAI/AleutianRules/services/agent/session"
)

// Defaults for Config fields left zero.
const (
	DefaultPath         = "/ws"
	DefaultPingInterval = time.Hour
	DefaultPingTimeout  = time.Hour
)

// DefaultReadLimit fits a question of datatypes.MaxQuestionLength runes at
// four bytes each.
const DefaultReadLimit = 4 * datatypes.MaxQuestionLength

// Config controls the websocket endpoint.
type Config struct {
	// Path is the websocket route.
	Path string

	// PingInterval is the time between server pings.
	PingInterval time.Duration

	// PingTimeout is how long past the ping interval an idle peer is kept.
	PingTimeout time.Duration

	// ReadLimit is the largest accepted inbound frame in bytes. Larger
	// frames close the connection.
	ReadLimit int64

	// Gatherer serves /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// ServiceName names the otelgin middleware. Empty disables tracing
	// middleware.
	ServiceName string
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = DefaultReadLimit
	}
}

// Server accepts websocket connections and runs one session per connection.
//
// # Description
//
// The Server owns the gin router. Its Handler is mounted into an
// http.Server by the caller. Shutdown cancels the context every live
// session runs under, which closes their sockets with a going-away frame.
//
// # Thread Safety
//
// Safe for concurrent use. ActiveSessions may be read at any time.
type Server struct {
	cfg      Config
	deps     session.Deps
	sessCfg  session.Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	router   *gin.Engine
	active   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Server and its routes.
func New(cfg Config, deps session.Deps, sessCfg session.Config) *Server {
	cfg.applyDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		sessCfg: sessCfg,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	s.initRouter()
	return s
}

func (s *Server) initRouter() {
	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	if s.cfg.ServiceName != "" {
		s.router.Use(otelgin.Middleware(s.cfg.ServiceName))
	}

	s.router.GET(s.cfg.Path, s.handleWebSocket)
	s.router.GET("/health", s.handleHealth)
	if s.cfg.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler { return s.router }

// ActiveSessions returns the number of open sessions.
func (s *Server) ActiveSessions() int64 { return s.active.Load() }

// Shutdown ends every live session. New connections are still upgraded but
// close immediately.
func (s *Server) Shutdown() { s.cancel() }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"active_sessions": s.active.Load(),
	})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade the websocket", "error", err)
		return
	}
	ws.SetReadLimit(s.cfg.ReadLimit)

	conn := newWSConn(ws, s.cfg.PingInterval+s.cfg.PingTimeout)
	stop := make(chan struct{})
	go conn.ping(s.cfg.PingInterval, stop)

	ctx, cancel := context.WithCancel(s.ctx)
	// A blocked read only returns once the socket closes.
	unwatch := context.AfterFunc(ctx, func() {
		conn.closeWith(websocket.CloseGoingAway, "server shutting down")
	})

	s.active.Add(1)
	defer func() {
		s.active.Add(-1)
		unwatch()
		cancel()
		close(stop)
		_ = ws.Close()
	}()

	sess := session.New(conn, s.deps, s.sessCfg)
	s.logger.Info("websocket client connected", "session_id", sess.ID(), "remote", c.Request.RemoteAddr)

	if err := s.runSession(ctx, sess); err != nil {
		s.logger.Warn("session ended with error", "session_id", sess.ID(), "error", err)
	}
	s.logger.Info("websocket client disconnected", "session_id", sess.ID())
}

// runSession runs sess and converts a panic into an error so that only this
// connection is affected.
func (s *Server) runSession(ctx context.Context, sess *session.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.deps.Metrics.RecordPanic()
			s.logger.Error("session panicked",
				"session_id", sess.ID(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("session panic: %v", r)
		}
	}()
	return sess.Run(ctx)
}
