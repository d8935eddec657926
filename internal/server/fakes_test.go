package server

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/statemanager/internal/service"
)

// memStates is a minimal in-process StateStorer, enough to drive the commit
// handlers end to end without a database.
type memStates struct {
	mu   sync.Mutex
	rows map[string]service.State
}

func newMemStates() *memStates {
	return &memStates{rows: make(map[string]service.State)}
}

func (m *memStates) CreateStates(ctx context.Context, states []service.State) ([]service.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]service.State, 0, len(states))
	for _, s := range states {
		if s.ID == "" {
			s.ID = ulid.Make().String()
		}
		m.rows[s.ID] = s
		out = append(out, s)
	}
	return out, nil
}

func (m *memStates) GetState(ctx context.Context, id string) (*service.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStates) ListStatesByRun(ctx context.Context, runID string) ([]service.State, error) {
	return nil, nil
}

func (m *memStates) ListStatesByParent(ctx context.Context, runID, parentIdentifier, parentStateID string) ([]service.State, error) {
	return nil, nil
}

func (m *memStates) ListStatesByIdentifier(ctx context.Context, runID, identifier string) ([]service.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []service.State
	for _, s := range m.rows {
		if s.RunID == runID && s.Identifier == identifier {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStates) ListCreatedStates(ctx context.Context, namespace string, names []string, limit int) ([]service.State, error) {
	return nil, nil
}

func (m *memStates) UpdateStatus(ctx context.Context, id string, expectedStatus string, fields service.StateUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	if s.Status != expectedStatus {
		return false, nil
	}

	s.Status = fields.Status
	if fields.Outputs != nil {
		s.Outputs = fields.Outputs
	}
	if fields.Error != "" {
		s.Error = fields.Error
	}
	if fields.RetryCount != nil {
		s.RetryCount = *fields.RetryCount
	}
	if fields.NextRetryAt.Valid {
		s.NextRetryAt = fields.NextRetryAt
	}
	if fields.DoesUnites != nil {
		s.DoesUnites = *fields.DoesUnites
	}

	m.rows[id] = s
	return true, nil
}

func (m *memStates) ListTimedOutQueued(ctx context.Context, olderThan string, limit int) ([]service.State, error) {
	return nil, nil
}

func (m *memStates) ListDueRetries(ctx context.Context, now string, limit int) ([]service.State, error) {
	return nil, nil
}

// memGraphs is a fixed-content GraphTemplateStorer: tests seed it directly.
type memGraphs struct {
	byKey map[string]service.GraphTemplate
}

func newMemGraphs() *memGraphs {
	return &memGraphs{byKey: make(map[string]service.GraphTemplate)}
}

func (g *memGraphs) key(namespace, name string) string { return namespace + "/" + name }

func (g *memGraphs) put(graph service.GraphTemplate) {
	g.byKey[g.key(graph.Namespace, graph.Name)] = graph
}

func (g *memGraphs) PutGraphTemplate(ctx context.Context, graph service.GraphTemplate) (*service.GraphTemplate, error) {
	g.put(graph)
	return &graph, nil
}

func (g *memGraphs) GetGraphTemplate(ctx context.Context, namespace, name string) (*service.GraphTemplate, error) {
	graph, ok := g.byKey[g.key(namespace, name)]
	if !ok {
		return nil, nil
	}
	return &graph, nil
}

func (g *memGraphs) ListGraphTemplates(ctx context.Context, namespace string) ([]service.GraphTemplate, error) {
	var out []service.GraphTemplate
	for _, graph := range g.byKey {
		if graph.Namespace == namespace {
			out = append(out, graph)
		}
	}
	return out, nil
}

// memNodes is a fixed-content RegisteredNodeStorer.
type memNodes struct {
	byKey map[string]service.RegisteredNode
}

func newMemNodes() *memNodes {
	return &memNodes{byKey: make(map[string]service.RegisteredNode)}
}

func (n *memNodes) key(namespace, name string) string { return namespace + "/" + name }

func (n *memNodes) put(node service.RegisteredNode) {
	n.byKey[n.key(node.Namespace, node.Name)] = node
}

func (n *memNodes) RegisterNode(ctx context.Context, node service.RegisteredNode) (*service.RegisteredNode, error) {
	n.put(node)
	return &node, nil
}

func (n *memNodes) GetRegisteredNode(ctx context.Context, namespace, name string) (*service.RegisteredNode, error) {
	node, ok := n.byKey[n.key(namespace, name)]
	if !ok {
		return nil, nil
	}
	return &node, nil
}

func (n *memNodes) ListRegisteredNodes(ctx context.Context, namespace string) ([]service.RegisteredNode, error) {
	var out []service.RegisteredNode
	for _, node := range n.byKey {
		if node.Namespace == namespace {
			out = append(out, node)
		}
	}
	return out, nil
}

// memStoreEntries is a no-op StoreEntryStorer — the commit handlers under
// test here don't reach the store.
type memStoreEntries struct{}

func (e *memStoreEntries) PutStoreEntry(ctx context.Context, entry service.StoreEntry) (*service.StoreEntry, error) {
	return &entry, nil
}

func (e *memStoreEntries) GetStoreEntry(ctx context.Context, runID, namespace, graphName, key string) (*service.StoreEntry, error) {
	return nil, nil
}

func (e *memStoreEntries) ListStoreEntries(ctx context.Context, runID, namespace, graphName string) ([]service.StoreEntry, error) {
	return nil, nil
}
