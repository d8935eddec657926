// Package service holds the domain model for the workflow state manager:
// registered nodes, graph templates, states and their lifecycle, and the
// per-run key/value store. Persistence is provided by implementations of
// the Storer interfaces in internal/store/{postgres,sqlite3}.
package service

import (
	"context"

	"github.com/worldline-go/types"
)

// State status values. A state moves CREATED -> QUEUED, then either
// QUEUED -> EXECUTED -> (SUCCESS | NEXT_CREATED_ERROR) on an executed
// commit, or QUEUED -> ERRORED on an errored commit. ERRORED is retried back
// to CREATED until retry_policy.max_retries is exhausted, after which the
// state stays ERRORED.
const (
	StatusCreated          = "CREATED"
	StatusQueued           = "QUEUED"
	StatusExecuted         = "EXECUTED"
	StatusSuccess          = "SUCCESS"
	StatusErrored          = "ERRORED"
	StatusRetryCreated     = "RETRY_CREATED"
	StatusTimedOut         = "TIMED_OUT"
	StatusNextCreatedError = "NEXT_CREATED_ERROR"
)

// Graph template validation status, set by the validator (see internal/engine/validate.go).
const (
	ValidationPending = "PENDING"
	ValidationValid   = "VALID"
	ValidationInvalid = "INVALID"
)

// Retry strategies, resolved exactly from the original retry_policy_model:
// three backoff shapes (EXPONENTIAL, LINEAR, FIXED) each with a plain,
// FULL_JITTER, or EQUAL_JITTER variant.
const (
	RetryExponential            = "EXPONENTIAL"
	RetryExponentialFullJitter  = "EXPONENTIAL_FULL_JITTER"
	RetryExponentialEqualJitter = "EXPONENTIAL_EQUAL_JITTER"
	RetryLinear                 = "LINEAR"
	RetryLinearFullJitter       = "LINEAR_FULL_JITTER"
	RetryLinearEqualJitter      = "LINEAR_EQUAL_JITTER"
	RetryFixed                  = "FIXED"
	RetryFixedFullJitter        = "FIXED_FULL_JITTER"
	RetryFixedEqualJitter       = "FIXED_EQUAL_JITTER"
)

// Unites join strategies (fan-in completion rules).
const (
	UnitesAllSuccess = "ALL_SUCCESS"
	UnitesAllDone    = "ALL_DONE"
)

// RetryPolicy configures backoff for a registered node's executions.
type RetryPolicy struct {
	MaxRetries    int     `json:"max_retries"`
	Strategy      string  `json:"strategy"`
	BackoffFactor float64 `json:"backoff_factor"`
	ExponentBase  float64 `json:"exponent,omitempty"`
	MaxDelayMS    *int64  `json:"max_delay_ms,omitempty"`
}

// RegisteredNode is a node implementation registered by a worker fleet: a
// namespace-scoped name with JSON-schema input/output contracts, the secret
// keys it requires, and its retry policy.
type RegisteredNode struct {
	ID            string         `json:"id"`
	Namespace     string         `json:"namespace"`
	Name          string         `json:"name"`
	InputsSchema  map[string]any `json:"inputs_schema"`
	OutputsSchema map[string]any `json:"outputs_schema"`
	Secrets       []string       `json:"secrets"`
	RetryPolicy   RetryPolicy    `json:"retry_policy"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

// Unites describes a fan-in join: this node does not run until all
// upstream branches produced by identifier reach a terminal status
// satisfying strategy.
type Unites struct {
	Identifier string `json:"identifier"`
	Strategy   string `json:"strategy"`
}

// NodeTemplate is one node inside a graph template.
type NodeTemplate struct {
	Identifier string            `json:"identifier"`
	Namespace  string            `json:"namespace"`
	Name       string            `json:"name"`
	Inputs     map[string]string `json:"inputs"`
	NextNodes  []string          `json:"next_nodes"`
	Unites     *Unites           `json:"unites,omitempty"`
}

// StoreConfig declares the keys of a graph template's run-scoped store:
// a "${{ store.key }}" placeholder validates only if its key is listed in
// required_keys or default_values, and default_values seed the store when a
// run is triggered. Trigger does not check that required_keys are present.
type StoreConfig struct {
	RequiredKeys  []string          `json:"required_keys"`
	DefaultValues map[string]string `json:"default_values"`
}

// GraphTemplate is a named DAG of NodeTemplates plus the store
// configuration for runs created against it.
type GraphTemplate struct {
	Namespace        string              `json:"namespace"`
	Name             string              `json:"name"`
	Nodes            []NodeTemplate      `json:"nodes"`
	StoreConfig      StoreConfig         `json:"store_config"`
	Secrets          map[string]string   `json:"secrets,omitempty"`
	ValidationStatus string              `json:"validation_status"`
	ValidationErrors types.Slice[string] `json:"validation_errors,omitempty"`
	CreatedAt        string              `json:"created_at"`
	UpdatedAt        string              `json:"updated_at"`
}

// State is one node execution within one run of a graph template.
//
// DoesUnites and Fingerprint are the join-coordination fields: every
// successor state created for a node that declares unites carries
// Fingerprint (the hash of its parents map with its unites ancestor
// excluded; other states leave it empty), but only the sibling that wins the
// fan-in join — the lexicographically smallest ID among siblings sharing a
// fingerprint once the join is satisfied — is ever promoted with
// DoesUnites=true and allowed to lease and run. The partial unique index on
// (run_id, fingerprint) WHERE does_unites enforces that at most one sibling
// per fingerprint ever reaches that state.
type State struct {
	ID          string                 `json:"id"`
	RunID       string                 `json:"run_id"`
	Namespace   string                 `json:"namespace"`
	GraphName   string                 `json:"graph_name"`
	Identifier  string                 `json:"identifier"`
	NodeName    string                 `json:"node_name"`
	Status      string                 `json:"status"`
	Inputs      map[string]string      `json:"inputs"`
	Outputs     map[string]string      `json:"outputs,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Parents     map[string]string      `json:"parents"`
	RetryCount  int                    `json:"retry_count"`
	LeasedAt    types.Null[types.Time] `json:"leased_at,omitempty"`
	NextRetryAt types.Null[types.Time] `json:"next_retry_at,omitempty"`
	Fingerprint string                 `json:"fingerprint,omitempty"`
	DoesUnites  bool                   `json:"does_unites"`
	CreatedAt   string                 `json:"created_at"`
	UpdatedAt   string                 `json:"updated_at"`
}

// StoreEntry is one key/value pair in a run's scratch store, addressed in
// the dependency-string grammar as ${{ store.key }}.
type StoreEntry struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	Namespace string `json:"namespace"`
	GraphName string `json:"graph_name"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ─── Storer interfaces ───

// RegisteredNodeStorer persists node registrations, upserted by
// (namespace, name) as in the original register() endpoint.
type RegisteredNodeStorer interface {
	RegisterNode(ctx context.Context, node RegisteredNode) (*RegisteredNode, error)
	GetRegisteredNode(ctx context.Context, namespace, name string) (*RegisteredNode, error)
	ListRegisteredNodes(ctx context.Context, namespace string) ([]RegisteredNode, error)
}

// GraphTemplateStorer persists graph templates.
type GraphTemplateStorer interface {
	PutGraphTemplate(ctx context.Context, g GraphTemplate) (*GraphTemplate, error)
	GetGraphTemplate(ctx context.Context, namespace, name string) (*GraphTemplate, error)
	ListGraphTemplates(ctx context.Context, namespace string) ([]GraphTemplate, error)
}

// StateStorer persists states and implements the lease compare-and-set.
type StateStorer interface {
	CreateStates(ctx context.Context, states []State) ([]State, error)
	GetState(ctx context.Context, id string) (*State, error)
	ListStatesByRun(ctx context.Context, runID string) ([]State, error)
	ListStatesByParent(ctx context.Context, runID, parentIdentifier, parentStateID string) ([]State, error)

	// ListStatesByIdentifier returns every state in a run produced for a
	// given node identifier, regardless of status. Used both to gather a
	// unites candidate's upstream ancestor rows (to check join
	// satisfaction) and to gather its sibling CREATED rows sharing the same
	// fingerprint (to coalesce the losers to SUCCESS).
	ListStatesByIdentifier(ctx context.Context, runID, identifier string) ([]State, error)

	// ListCreatedStates returns up to limit CREATED states for
	// namespace/names, ordered oldest first. Read-only: the Dispatcher
	// evaluates each candidate (including, for unites nodes, a join
	// satisfaction check) and performs the actual claim with an individual
	// UpdateStatus CAS, so no locking is needed here.
	ListCreatedStates(ctx context.Context, namespace string, names []string, limit int) ([]State, error)

	// UpdateStatus performs a CAS transition, succeeding only if the row's
	// current status matches expectedStatus. Returns (false, nil) on a
	// lost race, not an error.
	UpdateStatus(ctx context.Context, id string, expectedStatus string, fields StateUpdate) (bool, error)

	// ListTimedOutQueued returns QUEUED states whose updated_at is older
	// than the lease timeout, for the reaper to recover.
	ListTimedOutQueued(ctx context.Context, olderThan string, limit int) ([]State, error)

	// ListDueRetries returns states awaiting a scheduled retry whose
	// next_retry_at has elapsed.
	ListDueRetries(ctx context.Context, now string, limit int) ([]State, error)
}

// StateUpdate carries the optional fields changed by a status transition.
type StateUpdate struct {
	Status      string
	Outputs     map[string]string
	Error       string
	RetryCount  *int
	LeasedAt    types.Null[types.Time]
	NextRetryAt types.Null[types.Time]
	Fingerprint string
	DoesUnites  *bool
}

// StoreEntryStorer persists the per-run key/value store.
type StoreEntryStorer interface {
	PutStoreEntry(ctx context.Context, e StoreEntry) (*StoreEntry, error)
	GetStoreEntry(ctx context.Context, runID, namespace, graphName, key string) (*StoreEntry, error)
	ListStoreEntries(ctx context.Context, runID, namespace, graphName string) ([]StoreEntry, error)
}
