package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rakunlabs/logi"
	"github.com/worldline-go/hardloop"

	"github.com/rakunlabs/statemanager/internal/cluster"
	"github.com/rakunlabs/statemanager/internal/service"
)

// Reaper periodically recovers QUEUED states whose worker never committed
// within the lease timeout, and promotes ERRORED states whose scheduled
// retry has come due. In a clustered deployment only the leader (elected via
// cluster.Cluster's named lock) runs the sweep.
type Reaper struct {
	Engine       *Engine
	LeaseTimeout time.Duration
	Interval     time.Duration
	Cluster      *cluster.Cluster

	cron   interface {
		Start(ctx context.Context) error
		Stop()
	}
}

// NewReaper builds a Reaper. cl may be nil (single-instance deployments run
// the sweep unconditionally).
func NewReaper(e *Engine, leaseTimeout, interval time.Duration, cl *cluster.Cluster) *Reaper {
	return &Reaper{Engine: e, LeaseTimeout: leaseTimeout, Interval: interval, Cluster: cl}
}

// Start begins the periodic sweep. If clustering is configured, it first
// acquires the reaper leader lock in the background and only starts the
// cron loop once acquired, mirroring the teacher's scheduler leader-election
// pattern.
func (r *Reaper) Start(ctx context.Context) error {
	if r.Cluster != nil {
		go r.runLockLoop(ctx)
		return nil
	}
	return r.startLocked(ctx)
}

func (r *Reaper) runLockLoop(ctx context.Context) {
	logger := logi.Ctx(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := r.Cluster.Lock(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("reaper: failed to acquire leader lock, retrying", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}

		logger.Info("reaper: acquired leader lock, starting sweep")
		if err := r.startLocked(ctx); err != nil {
			logger.Error("reaper: failed to start sweep", "error", err)
		}

		<-ctx.Done()

		if r.cron != nil {
			r.cron.Stop()
		}
		r.Cluster.Unlock() //nolint:errcheck
		return
	}
}

func (r *Reaper) startLocked(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cronJob, err := hardloop.NewCron(hardloop.Cron{
		Name:  "state-manager-reaper",
		Specs: []string{fmt.Sprintf("@every %s", interval)},
		Func:  r.sweep,
	})
	if err != nil {
		return fmt.Errorf("create reaper cron: %w", err)
	}

	r.cron = cronJob

	return cronJob.Start(ctx)
}

// Stop stops the sweep loop. Safe to call on an unclustered Reaper.
func (r *Reaper) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

func (r *Reaper) sweep(ctx context.Context) error {
	logger := logi.Ctx(ctx)

	cutoff := time.Now().UTC().Add(-r.LeaseTimeout).Format(time.RFC3339)
	timedOut, err := r.Engine.States.ListTimedOutQueued(ctx, cutoff, 100)
	if err != nil {
		logger.Error("reaper: list timed out states failed", "error", err)
		return nil // never stop the loop over a transient store error
	}

	for _, s := range timedOut {
		if err := r.Engine.CommitErrored(ctx, s.ID, "lease timed out: no commit received before lease_timeout"); err != nil {
			logger.Error("reaper: recover timed out state failed", "state_id", s.ID, "error", err)
		}
	}
	if len(timedOut) > 0 {
		logger.Info("reaper: recovered timed out states", "count", len(timedOut))
	}

	promoted, err := r.Engine.PromoteDueRetries(ctx, 100)
	if err != nil {
		logger.Error("reaper: promote due retries failed", "error", err)
		return nil
	}
	if promoted > 0 {
		logger.Info("reaper: promoted due retries", "count", promoted)
	}

	return nil
}
