// Package server exposes the state manager's HTTP API: graph template
// upsert/fetch, state creation/trigger, node registration, the worker lease and
// executed/errored commit protocol, all under /v0/namespace/{ns}/... behind
// an x-api-key bearer check.
package server

import (
	"context"
	"log/slog"
	"net"

	"github.com/rakunlabs/ada"

	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/rakunlabs/statemanager/internal/config"
	"github.com/rakunlabs/statemanager/internal/engine"
)

type Server struct {
	config config.Server

	server *ada.Server

	engine     *engine.Engine
	dispatcher *engine.Dispatcher
	validator  *engine.Validator

	secret string
}

func New(ctx context.Context, cfg config.Server, e *engine.Engine, secret string) (*Server, error) {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{
		config:     cfg,
		server:     mux,
		engine:     e,
		dispatcher: engine.NewDispatcher(e.States, e.Graphs),
		validator:  engine.NewValidator(e.Nodes),
		secret:     secret,
	}

	if cfg.BasePath != "" {
		slog.Info("configuring server with base path", "base_path", cfg.BasePath)
	}

	baseGroup := mux.Group(cfg.BasePath)
	apiGroup := baseGroup.Group("/v0")
	apiGroup.Use(s.apiKeyMiddleware())

	// Every path below "/namespace/" carries the namespace as its first
	// segment followed by a variable number of further segments (graph
	// name, "states/create", "trigger", "nodes/register",
	// "nodes/{name}/lease", "states/{id}/executed", "states/{id}/errored").
	// Route registration only supports a trailing wildcard, so each verb
	// gets one route and dispatches on the captured remainder's shape.
	apiGroup.PUT("/namespace/*", s.namespacePUT)
	apiGroup.GET("/namespace/*", s.namespaceGET)
	apiGroup.POST("/namespace/*", s.namespacePOST)

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.config.Host, s.config.Port))
}
