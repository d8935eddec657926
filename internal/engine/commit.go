package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/worldline-go/types"

	"github.com/rakunlabs/statemanager/internal/service"
	"github.com/rakunlabs/statemanager/internal/service/depstring"
	"github.com/rakunlabs/statemanager/internal/service/retry"
)

// ErrStateNotFound is returned by CommitExecuted/CommitErrored when stateID
// does not exist, distinct from ErrIllegalTransition so the HTTP layer can
// answer 404 rather than 400.
var ErrStateNotFound = errors.New("state not found")

// ErrIllegalTransition is returned by CommitExecuted/CommitErrored when
// stateID exists but was not QUEUED, i.e. a lost CAS race or a commit
// replayed against an already-settled state.
var ErrIllegalTransition = errors.New("state is not in the expected status")

// CommitExecuted moves a QUEUED state to EXECUTED, persisting outputsList[0]
// as the state's recorded outputs, then fans out to create one successor
// chain per output map in outputsList — a node may emit multiple output
// maps in a single call, a fan-out by data — finally settling the
// originating state at SUCCESS. Any failure while creating a successor
// (graph never VALID, unresolved placeholder, store error) settles the
// originating state at NEXT_CREATED_ERROR instead.
func (e *Engine) CommitExecuted(ctx context.Context, stateID string, outputsList []map[string]string) error {
	if len(outputsList) == 0 {
		outputsList = []map[string]string{{}}
	}

	existing, err := e.States.GetState(ctx, stateID)
	if err != nil {
		return fmt.Errorf("load state %s: %w", stateID, err)
	}
	if existing == nil {
		return fmt.Errorf("commit executed %s: %w", stateID, ErrStateNotFound)
	}

	ok, err := e.States.UpdateStatus(ctx, stateID, service.StatusQueued, service.StateUpdate{
		Status:  service.StatusExecuted,
		Outputs: outputsList[0],
	})
	if err != nil {
		return fmt.Errorf("commit executed %s: %w", stateID, err)
	}
	if !ok {
		return fmt.Errorf("commit executed %s: %w", stateID, ErrIllegalTransition)
	}

	state, err := e.States.GetState(ctx, stateID)
	if err != nil {
		return fmt.Errorf("reload state %s: %w", stateID, err)
	}
	if state == nil {
		return fmt.Errorf("state %s vanished after commit", stateID)
	}

	for _, outputs := range outputsList {
		if err := e.createSuccessors(ctx, *state, outputs); err != nil {
			_, _ = e.States.UpdateStatus(ctx, stateID, service.StatusExecuted, service.StateUpdate{
				Status: service.StatusNextCreatedError,
				Error:  err.Error(),
			})
			return fmt.Errorf("create successors for %s: %w", stateID, err)
		}
	}

	if _, err := e.States.UpdateStatus(ctx, stateID, service.StatusExecuted, service.StateUpdate{
		Status: service.StatusSuccess,
	}); err != nil {
		return fmt.Errorf("settle %s to SUCCESS: %w", stateID, err)
	}

	return nil
}

// createSuccessors creates one State per next_node of state's node
// template, resolving "${{ <state.Identifier>.outputs.* }}" placeholders
// against outputs directly rather than state's persisted outputs — the
// caller may be processing one of several fan-out-by-data output maps, only
// the first of which is ever persisted on state itself. A next node with
// `unites` is treated like any other: every branch unconditionally creates
// its own sibling CREATED state for it. Join satisfaction — deciding which
// sibling is canonical and coalescing the rest to SUCCESS — happens at
// lease time, not here (see lease.go).
func (e *Engine) createSuccessors(ctx context.Context, state service.State, outputs map[string]string) error {
	timeout := e.GraphValidityTimeout
	if timeout <= 0 {
		timeout = defaultGraphValidityTimeout
	}

	graph, err := WaitForValid(ctx, e.Graphs, state.Namespace, state.GraphName, timeout)
	if err != nil {
		return fmt.Errorf("wait for graph template validity: %w", err)
	}

	byIdentifier := make(map[string]service.NodeTemplate, len(graph.Nodes))
	for _, nt := range graph.Nodes {
		byIdentifier[nt.Identifier] = nt
	}

	current, ok := byIdentifier[state.Identifier]
	if !ok {
		return fmt.Errorf("node template %q no longer exists in graph", state.Identifier)
	}

	stateWithOutputs := state
	stateWithOutputs.Outputs = outputs

	ancestorCache := make(map[string]*service.State)
	ancestorCache[state.ID] = &stateWithOutputs

	parents := make(map[string]string, len(state.Parents)+1)
	for k, v := range state.Parents {
		parents[k] = v
	}
	parents[state.Identifier] = state.ID

	for _, nextIdentifier := range current.NextNodes {
		nextNode, ok := byIdentifier[nextIdentifier]
		if !ok {
			return fmt.Errorf("next node %q not found in graph", nextIdentifier)
		}

		inputs, err := e.resolveInputs(ctx, state.RunID, *graph, nextNode, parents, ancestorCache)
		if err != nil {
			return fmt.Errorf("resolve inputs for %q: %w", nextIdentifier, err)
		}

		successor := newState(state, nextNode, parents, inputs)
		if nextNode.Unites != nil {
			successor.Fingerprint = fingerprint(parents, nextNode.Unites.Identifier)
		}

		if _, err := e.States.CreateStates(ctx, []service.State{successor}); err != nil {
			return fmt.Errorf("create successor %q: %w", nextIdentifier, err)
		}
	}

	return nil
}

// resolveInputs renders a node template's input dependency strings against
// the run's store and ancestor state outputs, caching fetched ancestor
// states across fields so a successor with several placeholders referencing
// the same upstream node fetches it only once.
func (e *Engine) resolveInputs(ctx context.Context, runID string, graph service.GraphTemplate, node service.NodeTemplate, parents map[string]string, ancestorCache map[string]*service.State) (map[string]string, error) {
	rendered := make(map[string]string, len(node.Inputs))

	for field, syntax := range node.Inputs {
		ds, err := depstring.Parse(syntax)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", field, err)
		}

		for _, ref := range ds.IdentifierFields() {
			if ref.Identifier == "store" {
				entry, err := e.StoreEntry.GetStoreEntry(ctx, runID, graph.Namespace, graph.Name, ref.Field)
				if err != nil {
					return nil, fmt.Errorf("input %q: fetch store key %q: %w", field, ref.Field, err)
				}
				if entry == nil {
					return nil, fmt.Errorf("input %q: store key %q not set", field, ref.Field)
				}
				ds.SetValue("store", ref.Field, entry.Value)
				continue
			}

			ancestorID, ok := parents[ref.Identifier]
			if !ok {
				return nil, fmt.Errorf("input %q: no ancestor state for identifier %q", field, ref.Identifier)
			}

			ancestor, ok := ancestorCache[ancestorID]
			if !ok {
				fetched, err := e.States.GetState(ctx, ancestorID)
				if err != nil {
					return nil, fmt.Errorf("input %q: fetch ancestor %q: %w", field, ref.Identifier, err)
				}
				if fetched == nil {
					return nil, fmt.Errorf("input %q: ancestor state %q vanished", field, ancestorID)
				}
				ancestor = fetched
				ancestorCache[ancestorID] = ancestor
			}

			value, ok := ancestor.Outputs[ref.Field]
			if !ok {
				return nil, fmt.Errorf("input %q: node %q has no output %q", field, ref.Identifier, ref.Field)
			}
			ds.SetValue(ref.Identifier, ref.Field, value)
		}

		out, err := ds.Render()
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", field, err)
		}
		rendered[field] = out
	}

	return rendered, nil
}

// newState builds the successor State for nextNode, inheriting run
// identity from the originating state.
func newState(origin service.State, nextNode service.NodeTemplate, parents map[string]string, inputs map[string]string) service.State {
	return service.State{
		RunID:      origin.RunID,
		Namespace:  origin.Namespace,
		GraphName:  origin.GraphName,
		Identifier: nextNode.Identifier,
		NodeName:   nextNode.Name,
		Status:     service.StatusCreated,
		Inputs:     inputs,
		Parents:    parents,
	}
}

// CommitErrored moves a QUEUED state to ERRORED. If the registered node's
// retry policy still has budget (retry_count < max_retries), it schedules
// a retry by setting next_retry_at per retry.ComputeDelay; the reaper's
// due-retry sweep later promotes the state back to CREATED. Once the
// budget is exhausted the state settles permanently at ERRORED and no
// successors are created.
func (e *Engine) CommitErrored(ctx context.Context, stateID, errMsg string) error {
	state, err := e.States.GetState(ctx, stateID)
	if err != nil {
		return fmt.Errorf("load state %s: %w", stateID, err)
	}
	if state == nil {
		return fmt.Errorf("commit errored %s: %w", stateID, ErrStateNotFound)
	}

	rn, err := e.Nodes.GetRegisteredNode(ctx, state.Namespace, state.NodeName)
	if err != nil {
		return fmt.Errorf("load registered node for %s: %w", stateID, err)
	}

	nextRetry := state.RetryCount + 1
	update := service.StateUpdate{
		Status: service.StatusErrored,
		Error:  errMsg,
	}
	update.RetryCount = &nextRetry

	if rn != nil && nextRetry <= rn.RetryPolicy.MaxRetries {
		delayMS, err := retry.ComputeDelay(rn.RetryPolicy, nextRetry)
		if err != nil {
			return fmt.Errorf("compute retry delay for %s: %w", stateID, err)
		}
		next := time.Now().UTC().Add(time.Duration(delayMS) * time.Millisecond)
		update.NextRetryAt = types.NewTimeNull(next)
	}

	ok, err := e.States.UpdateStatus(ctx, stateID, service.StatusQueued, update)
	if err != nil {
		return fmt.Errorf("commit errored %s: %w", stateID, err)
	}
	if !ok {
		return fmt.Errorf("commit errored %s: %w", stateID, ErrIllegalTransition)
	}

	return nil
}

// PromoteDueRetries moves every ERRORED state whose next_retry_at has
// elapsed back to CREATED, so dispatchers pick it up again on their next
// lease poll.
func (e *Engine) PromoteDueRetries(ctx context.Context, limit int) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	due, err := e.States.ListDueRetries(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list due retries: %w", err)
	}

	promoted := 0
	for _, s := range due {
		ok, err := e.States.UpdateStatus(ctx, s.ID, service.StatusErrored, service.StateUpdate{
			Status: service.StatusCreated,
		})
		if err != nil {
			return promoted, fmt.Errorf("promote retry %s: %w", s.ID, err)
		}
		if ok {
			promoted++
		}
	}

	return promoted, nil
}
