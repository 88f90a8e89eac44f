// Package server exposes an agent over HTTP: the A2A endpoint, an optional
// registry API, health, metrics and a live event stream.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/directory"
	"github.com/zulandar/junction/internal/transport"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Receiver answers inbound A2A messages.
type Receiver interface {
	Receive(ctx context.Context, msg transport.Message) transport.Message
	AgentID() string
}

// StartOpts holds configuration for the agent server.
type StartOpts struct {
	Receiver Receiver
	// Registry, when set, mounts the registry API on the same server.
	Registry directory.Directory
	// Events, when set, is streamed on GET /events.
	Events *Events
	Config config.ServerConfig
	Logger zerolog.Logger
	Out    io.Writer
}

// NewHandler builds the gin engine for opts without starting a listener.
func NewHandler(opts StartOpts) (*gin.Engine, error) {
	if opts.Receiver == nil {
		return nil, fmt.Errorf("server: receiver is required")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestMetrics())
	router.Use(requestLogger(opts.Logger))

	registerRoutes(router, opts)
	return router, nil
}

// Start launches the agent server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	handler, err := NewHandler(opts)
	if err != nil {
		return err
	}
	addr := opts.Config.Listen
	if addr == "" {
		addr = ":6000"
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			opts.Logger.Warn().Err(err).Msg("server: shutdown")
		}
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Agent %s listening on %s\n", opts.Receiver.AgentID(), addr)
	}
	opts.Logger.Info().Str("addr", addr).Bool("registry", opts.Registry != nil).Msg("server: listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
