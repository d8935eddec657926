package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rakunlabs/statemanager/internal/service"
)

func newTestEngine() (*Engine, *memStates, *memGraphs, *memNodes) {
	states := newMemStates()
	graphs := newMemGraphs()
	nodes := newMemNodes()
	entries := newMemStoreEntries()
	return New(graphs, nodes, states, entries), states, graphs, nodes
}

func TestCommitExecutedCreatesSuccessorAndSettlesSuccess(t *testing.T) {
	ctx := context.Background()
	e, states, graphs, nodes := newTestEngine()

	graphs.put(service.GraphTemplate{
		Namespace: "ns", Name: "g", ValidationStatus: service.ValidationValid,
		Nodes: []service.NodeTemplate{
			{Identifier: "root", Namespace: "ns", Name: "root_node", NextNodes: []string{"child"}},
			{Identifier: "child", Namespace: "ns", Name: "child_node", Inputs: map[string]string{
				"greeting": "hello ${{ root.outputs.name }}",
			}},
		},
	})
	nodes.put(service.RegisteredNode{Namespace: "ns", Name: "root_node"})
	nodes.put(service.RegisteredNode{Namespace: "ns", Name: "child_node"})

	root := service.State{
		ID: "root-1", RunID: "run-1", Namespace: "ns", GraphName: "g",
		Identifier: "root", NodeName: "root_node", Status: service.StatusQueued,
		Parents: map[string]string{"root": "root-1"},
	}
	if _, err := states.CreateStates(ctx, []service.State{root}); err != nil {
		t.Fatalf("seed root: %v", err)
	}

	if err := e.CommitExecuted(ctx, "root-1", []map[string]string{{"name": "world"}}); err != nil {
		t.Fatalf("CommitExecuted: %v", err)
	}

	got, err := states.GetState(ctx, "root-1")
	if err != nil {
		t.Fatalf("GetState root: %v", err)
	}
	if got.Status != service.StatusSuccess {
		t.Fatalf("root status = %q, want SUCCESS", got.Status)
	}
	if got.Outputs["name"] != "world" {
		t.Fatalf("root outputs = %+v", got.Outputs)
	}

	children, err := states.ListStatesByIdentifier(ctx, "run-1", "child")
	if err != nil {
		t.Fatalf("ListStatesByIdentifier: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("len(children) = %d, want 1", len(children))
	}
	if children[0].Inputs["greeting"] != "hello world" {
		t.Fatalf("child input = %q, want %q", children[0].Inputs["greeting"], "hello world")
	}
	if children[0].Status != service.StatusCreated {
		t.Fatalf("child status = %q, want CREATED", children[0].Status)
	}
}

func TestCommitExecutedStateNotFound(t *testing.T) {
	e, _, _, _ := newTestEngine()

	err := e.CommitExecuted(context.Background(), "missing", nil)
	if !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("err = %v, want ErrStateNotFound", err)
	}
}

func TestCommitExecutedIllegalTransition(t *testing.T) {
	ctx := context.Background()
	e, states, _, _ := newTestEngine()

	// CREATED, not QUEUED: committing executed against it must fail the CAS.
	if _, err := states.CreateStates(ctx, []service.State{{
		ID: "s1", RunID: "run-1", Namespace: "ns", GraphName: "g",
		Identifier: "root", NodeName: "root_node", Status: service.StatusCreated,
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := e.CommitExecuted(ctx, "s1", nil)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}
}

func TestCommitErroredSchedulesRetryWithinBudget(t *testing.T) {
	ctx := context.Background()
	e, states, _, nodes := newTestEngine()

	nodes.put(service.RegisteredNode{
		Namespace: "ns", Name: "flaky_node",
		RetryPolicy: service.RetryPolicy{MaxRetries: 3, Strategy: service.RetryFixed, BackoffFactor: 10},
	})
	if _, err := states.CreateStates(ctx, []service.State{{
		ID: "s1", RunID: "run-1", Namespace: "ns", GraphName: "g",
		Identifier: "flaky", NodeName: "flaky_node", Status: service.StatusQueued,
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := e.CommitErrored(ctx, "s1", "boom"); err != nil {
		t.Fatalf("CommitErrored: %v", err)
	}

	got, _ := states.GetState(ctx, "s1")
	if got.Status != service.StatusErrored {
		t.Fatalf("status = %q, want ERRORED", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry_count = %d, want 1", got.RetryCount)
	}
	if !got.NextRetryAt.Valid {
		t.Fatal("expected next_retry_at to be set while retry budget remains")
	}
	if got.Error != "boom" {
		t.Fatalf("error = %q, want %q", got.Error, "boom")
	}
}

func TestCommitErroredExhaustsRetryBudget(t *testing.T) {
	ctx := context.Background()
	e, states, _, nodes := newTestEngine()

	nodes.put(service.RegisteredNode{
		Namespace: "ns", Name: "flaky_node",
		RetryPolicy: service.RetryPolicy{MaxRetries: 1, Strategy: service.RetryFixed, BackoffFactor: 10},
	})
	if _, err := states.CreateStates(ctx, []service.State{{
		ID: "s1", RunID: "run-1", Namespace: "ns", GraphName: "g",
		Identifier: "flaky", NodeName: "flaky_node", Status: service.StatusQueued, RetryCount: 1,
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := e.CommitErrored(ctx, "s1", "boom again"); err != nil {
		t.Fatalf("CommitErrored: %v", err)
	}

	got, _ := states.GetState(ctx, "s1")
	if got.RetryCount != 2 {
		t.Fatalf("retry_count = %d, want 2", got.RetryCount)
	}
	if got.NextRetryAt.Valid {
		t.Fatal("next_retry_at must stay unset once the retry budget is exhausted")
	}
}

func TestCommitErroredStateNotFound(t *testing.T) {
	e, _, _, _ := newTestEngine()

	err := e.CommitErrored(context.Background(), "missing", "boom")
	if !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("err = %v, want ErrStateNotFound", err)
	}
}

func TestCommitErroredIllegalTransition(t *testing.T) {
	ctx := context.Background()
	e, states, _, _ := newTestEngine()

	if _, err := states.CreateStates(ctx, []service.State{{
		ID: "s1", RunID: "run-1", Namespace: "ns", GraphName: "g",
		Identifier: "root", NodeName: "root_node", Status: service.StatusSuccess,
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := e.CommitErrored(ctx, "s1", "too late")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}
}
