package engine

import (
	"time"

	"github.com/rakunlabs/statemanager/internal/service"
)

// defaultGraphValidityTimeout is the hard ceiling successor creation waits
// for a graph template to reach VALID before failing the dependent state.
const defaultGraphValidityTimeout = 5 * time.Minute

// Engine bundles the stores needed to drive a state through its full
// lifecycle: committing EXECUTED/ERRORED outcomes, creating successor
// states, evaluating unites joins, and scheduling retries.
type Engine struct {
	Graphs     service.GraphTemplateStorer
	Nodes      service.RegisteredNodeStorer
	States     service.StateStorer
	StoreEntry service.StoreEntryStorer

	// GraphValidityTimeout bounds how long successor creation waits for a
	// graph template to become VALID (see graphwait.go).
	GraphValidityTimeout time.Duration
}

// New builds an Engine from its backing stores.
func New(graphs service.GraphTemplateStorer, nodes service.RegisteredNodeStorer, states service.StateStorer, entries service.StoreEntryStorer) *Engine {
	return &Engine{
		Graphs:               graphs,
		Nodes:                nodes,
		States:               states,
		StoreEntry:           entries,
		GraphValidityTimeout: defaultGraphValidityTimeout,
	}
}
