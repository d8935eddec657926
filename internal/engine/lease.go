package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/worldline-go/types"

	"github.com/rakunlabs/statemanager/internal/service"
)

// leaseScanMultiplier bounds how many CREATED candidates the Dispatcher
// scans per Lease call relative to the number of states it wants to return:
// candidates belonging to an unsatisfied unites join are skipped without
// counting toward n, so a pure 1:1 scan can starve a poller when a graph has
// many in-flight fan-ins.
const leaseScanMultiplier = 4

// Dispatcher implements the lease (enqueue) protocol: workers poll for
// CREATED states matching the node names they run. Each scanned candidate
// is either leased directly (ordinary next node) or, for a node that
// `unites`, checked for join satisfaction against its upstream branches —
// satisfied, it promotes the canonical sibling (lexicographically smallest
// ID sharing the fingerprint) to QUEUED with does_unites=true and coalesces
// every other CREATED sibling straight to SUCCESS; unsatisfied, it is left
// CREATED for a later poll.
type Dispatcher struct {
	States service.StateStorer
	Graphs service.GraphTemplateStorer
}

// NewDispatcher builds a Dispatcher backed by the given stores.
func NewDispatcher(states service.StateStorer, graphs service.GraphTemplateStorer) *Dispatcher {
	return &Dispatcher{States: states, Graphs: graphs}
}

// Lease claims up to n CREATED states in namespace matching one of names,
// moving each to QUEUED. The returned states are safe for a single worker
// to execute; a state leased here and never committed within the lease
// timeout is recovered by the reaper (see reaper.go).
func (d *Dispatcher) Lease(ctx context.Context, namespace string, names []string, n int) ([]service.State, error) {
	if n <= 0 {
		return nil, fmt.Errorf("lease: n must be positive, got %d", n)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("lease: at least one node name is required")
	}

	candidates, err := d.States.ListCreatedStates(ctx, namespace, names, n*leaseScanMultiplier)
	if err != nil {
		return nil, fmt.Errorf("lease: list created states: %w", err)
	}

	graphCache := make(map[string]*service.GraphTemplate)
	now := types.NewTimeNull(time.Now().UTC())

	var leased []service.State
	for _, candidate := range candidates {
		if len(leased) >= n {
			break
		}

		nt, err := d.nodeTemplate(ctx, graphCache, candidate)
		if err != nil {
			return leased, err
		}

		if nt == nil || nt.Unites == nil {
			ok, err := d.States.UpdateStatus(ctx, candidate.ID, service.StatusCreated, service.StateUpdate{
				Status:   service.StatusQueued,
				LeasedAt: now,
			})
			if err != nil {
				return leased, fmt.Errorf("lease %s: %w", candidate.ID, err)
			}
			if ok {
				candidate.Status = service.StatusQueued
				leased = append(leased, candidate)
			}
			continue
		}

		joined, err := d.tryLeaseUnitedCandidate(ctx, candidate, *nt, now)
		if err != nil {
			return leased, err
		}
		if joined != nil {
			leased = append(leased, *joined)
		}
	}

	return leased, nil
}

// tryLeaseUnitedCandidate evaluates one CREATED candidate for a `unites`
// node. If the join is satisfied and candidate is the canonical sibling, it
// leases candidate and coalesces its losing siblings to SUCCESS, returning
// the leased state. Otherwise it returns (nil, nil): either the join isn't
// satisfied yet, or candidate is a non-canonical sibling and is itself
// coalesced to SUCCESS.
func (d *Dispatcher) tryLeaseUnitedCandidate(ctx context.Context, candidate service.State, nt service.NodeTemplate, now types.Null[types.Time]) (*service.State, error) {
	ancestors, err := d.States.ListStatesByIdentifier(ctx, candidate.RunID, nt.Unites.Identifier)
	if err != nil {
		return nil, fmt.Errorf("lease: list unites ancestors for %q: %w", nt.Unites.Identifier, err)
	}

	var ancestorGroup []service.State
	for _, a := range ancestors {
		if fingerprint(a.Parents, "") == candidate.Fingerprint {
			ancestorGroup = append(ancestorGroup, a)
		}
	}

	if !unitesSatisfied(nt.Unites.Strategy, ancestorGroup) {
		return nil, nil
	}

	siblings, err := d.States.ListStatesByIdentifier(ctx, candidate.RunID, candidate.Identifier)
	if err != nil {
		return nil, fmt.Errorf("lease: list join siblings for %q: %w", candidate.Identifier, err)
	}

	var createdGroup []service.State
	for _, s := range siblings {
		if s.Status == service.StatusCreated && s.Fingerprint == candidate.Fingerprint {
			createdGroup = append(createdGroup, s)
		}
	}
	if len(createdGroup) == 0 {
		createdGroup = []service.State{candidate}
	}

	joiner := canonicalJoiner(createdGroup)
	if joiner.ID != candidate.ID {
		// candidate lost the tie-break; coalesce it to SUCCESS and let the
		// canonical sibling's own poll (or one already in progress) lease.
		if _, err := d.States.UpdateStatus(ctx, candidate.ID, service.StatusCreated, service.StateUpdate{
			Status: service.StatusSuccess,
		}); err != nil {
			return nil, fmt.Errorf("lease: coalesce non-canonical sibling %s: %w", candidate.ID, err)
		}
		return nil, nil
	}

	doesUnites := true
	ok, err := d.States.UpdateStatus(ctx, candidate.ID, service.StatusCreated, service.StateUpdate{
		Status:     service.StatusQueued,
		LeasedAt:   now,
		DoesUnites: &doesUnites,
	})
	if err != nil {
		return nil, fmt.Errorf("lease: claim canonical joiner %s: %w", candidate.ID, err)
	}
	if !ok {
		// Another dispatcher already claimed or coalesced this row.
		return nil, nil
	}

	for _, s := range createdGroup {
		if s.ID == candidate.ID {
			continue
		}
		if _, err := d.States.UpdateStatus(ctx, s.ID, service.StatusCreated, service.StateUpdate{
			Status: service.StatusSuccess,
		}); err != nil {
			return nil, fmt.Errorf("lease: coalesce sibling %s: %w", s.ID, err)
		}
	}

	candidate.Status = service.StatusQueued
	candidate.DoesUnites = true
	return &candidate, nil
}

// nodeTemplate resolves candidate's node template from its graph template,
// caching graph lookups across a single Lease call's candidate scan.
func (d *Dispatcher) nodeTemplate(ctx context.Context, cache map[string]*service.GraphTemplate, candidate service.State) (*service.NodeTemplate, error) {
	key := candidate.Namespace + "/" + candidate.GraphName
	graph, ok := cache[key]
	if !ok {
		fetched, err := d.Graphs.GetGraphTemplate(ctx, candidate.Namespace, candidate.GraphName)
		if err != nil {
			return nil, fmt.Errorf("lease: load graph template %s: %w", key, err)
		}
		graph = fetched
		cache[key] = graph
	}
	if graph == nil {
		return nil, nil
	}

	for i := range graph.Nodes {
		if graph.Nodes[i].Identifier == candidate.Identifier {
			return &graph.Nodes[i], nil
		}
	}
	return nil, nil
}
