// Package cluster provides distributed coordination for multiple state
// manager instances using the alan UDP peer discovery library. Its only
// consumer is the reaper (internal/engine/reaper.go), which elects a single
// leader to run the QUEUED-timeout/due-retry sweep in a multi-instance
// deployment.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/rakunlabs/alan"
)

// lockReaper is the distributed lock name the reaper contends for.
const lockReaper = "state-manager-reaper"

// Cluster wraps an alan instance for leader election.
type Cluster struct {
	alan *alan.Alan
}

// New creates a Cluster from the server's alan configuration.
// Returns nil, nil if cfg is nil (clustering disabled, every instance runs
// the reaper unconditionally).
func New(cfg *alan.Config) (*Cluster, error) {
	if cfg == nil {
		return nil, nil
	}

	a, err := alan.New(*cfg)
	if err != nil {
		return nil, fmt.Errorf("create alan instance: %w", err)
	}

	return &Cluster{alan: a}, nil
}

// Start begins the alan peer discovery system in the background. It blocks
// until the context is cancelled, so callers run it in a goroutine.
func (c *Cluster) Start(ctx context.Context) error {
	c.alan.OnPeerJoin(func(addr *net.UDPAddr) {
		slog.Info("cluster peer joined", "addr", addr.String())
	})

	c.alan.OnPeerLeave(func(addr *net.UDPAddr) {
		slog.Info("cluster peer left", "addr", addr.String())
	})

	noopHandler := func(_ context.Context, _ alan.Message) {}

	return c.alan.Start(ctx, noopHandler)
}

// Stop gracefully leaves the cluster.
func (c *Cluster) Stop() error {
	return c.alan.Stop()
}

// Lock acquires the distributed reaper leader lock, blocking until
// acquired or ctx is cancelled.
func (c *Cluster) Lock(ctx context.Context) error {
	return c.alan.Lock(ctx, lockReaper)
}

// Unlock releases the distributed reaper leader lock.
func (c *Cluster) Unlock() error {
	return c.alan.Unlock(lockReaper)
}

// Ready returns a channel that is closed when the cluster is ready.
func (c *Cluster) Ready() <-chan struct{} {
	return c.alan.Ready()
}
