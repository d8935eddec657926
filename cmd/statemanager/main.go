package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/statemanager/internal/cluster"
	"github.com/rakunlabs/statemanager/internal/config"
	"github.com/rakunlabs/statemanager/internal/crypto"
	"github.com/rakunlabs/statemanager/internal/engine"
	"github.com/rakunlabs/statemanager/internal/server"
	"github.com/rakunlabs/statemanager/internal/store"
)

var (
	name    = "statemanager"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

// ///////////////////////////////////////////////////////////////////

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	encKey, err := crypto.LoadKey(cfg.SecretsEncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to load secrets encryption key: %w", err)
	}

	st, err := store.New(ctx, cfg.Store, encKey)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	e := engine.New(st, st, st, st)

	graphValidityTimeout, err := cfg.Engine.ParsedGraphValidityTimeout()
	if err != nil {
		return fmt.Errorf("failed to parse engine.graph_validity_timeout: %w", err)
	}
	e.GraphValidityTimeout = graphValidityTimeout

	var cl *cluster.Cluster
	if cfg.Server.Alan != nil {
		cl, err = cluster.New(cfg.Server.Alan)
		if err != nil {
			return fmt.Errorf("failed to create cluster: %w", err)
		}

		go func() {
			if err := cl.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("cluster stopped", "error", err)
			}
		}()
		defer cl.Stop()
	}

	leaseTimeout, err := cfg.Engine.ParsedLeaseTimeout()
	if err != nil {
		return fmt.Errorf("failed to parse engine.lease_timeout: %w", err)
	}
	reaperInterval, err := cfg.Engine.ParsedReaperInterval()
	if err != nil {
		return fmt.Errorf("failed to parse engine.reaper_interval: %w", err)
	}

	reaper := engine.NewReaper(e, leaseTimeout, reaperInterval, cl)
	if err := reaper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reaper: %w", err)
	}

	srv, err := server.New(ctx, cfg.Server, e, cfg.StateManagerSecret)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	slog.Info("starting state manager", "host", cfg.Server.Host, "port", cfg.Server.Port)

	return srv.Start(ctx)
}
