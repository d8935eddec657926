package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/statemanager/internal/service"
)

// CreateStateRequest is one root state to materialize: an identifier naming
// a node-template slot in the graph, plus its concrete, already-resolved
// input values.
type CreateStateRequest struct {
	Identifier string            `json:"identifier"`
	Inputs     map[string]string `json:"inputs"`
}

// CreateStates materializes one CREATED state per request against an
// existing run. Each state's parents map is self-inclusive — it maps its
// own identifier to its own id — exactly the chain that successor creation
// (commit.go) extends one step at a time.
func (e *Engine) CreateStates(ctx context.Context, namespace, graphName, runID string, requests []CreateStateRequest) ([]service.State, error) {
	graph, err := e.Graphs.GetGraphTemplate(ctx, namespace, graphName)
	if err != nil {
		return nil, fmt.Errorf("load graph template: %w", err)
	}
	if graph == nil {
		return nil, fmt.Errorf("graph template %s/%s not found", namespace, graphName)
	}

	byIdentifier := make(map[string]service.NodeTemplate, len(graph.Nodes))
	for _, nt := range graph.Nodes {
		byIdentifier[nt.Identifier] = nt
	}

	states := make([]service.State, 0, len(requests))
	for _, req := range requests {
		nt, ok := byIdentifier[req.Identifier]
		if !ok {
			return nil, fmt.Errorf("identifier %q does not match any node in graph %s/%s", req.Identifier, namespace, graphName)
		}

		id := ulid.Make().String()
		states = append(states, service.State{
			ID:         id,
			RunID:      runID,
			Namespace:  namespace,
			GraphName:  graphName,
			Identifier: req.Identifier,
			NodeName:   nt.Name,
			Status:     service.StatusCreated,
			Inputs:     req.Inputs,
			Parents:    map[string]string{req.Identifier: id},
		})
	}

	return e.States.CreateStates(ctx, states)
}

// Trigger allocates a fresh run_id (a UUID, per the run_id field's documented
// type), seeds the per-run store from the graph's store_config.default_values,
// then delegates to CreateStates.
func (e *Engine) Trigger(ctx context.Context, namespace, graphName string, requests []CreateStateRequest) (string, []service.State, error) {
	graph, err := e.Graphs.GetGraphTemplate(ctx, namespace, graphName)
	if err != nil {
		return "", nil, fmt.Errorf("load graph template: %w", err)
	}
	if graph == nil {
		return "", nil, fmt.Errorf("graph template %s/%s not found", namespace, graphName)
	}

	runID := uuid.NewString()

	for key, value := range graph.StoreConfig.DefaultValues {
		if _, err := e.StoreEntry.PutStoreEntry(ctx, service.StoreEntry{
			RunID:     runID,
			Namespace: namespace,
			GraphName: graphName,
			Key:       key,
			Value:     value,
		}); err != nil {
			return "", nil, fmt.Errorf("seed store key %q: %w", key, err)
		}
	}

	states, err := e.CreateStates(ctx, namespace, graphName, runID, requests)
	if err != nil {
		return "", nil, err
	}

	return runID, states, nil
}
