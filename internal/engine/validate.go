// Package engine implements the state-manager's core control flow: graph
// validation, the lease/dispatch protocol, executed/errored state commits
// with successor creation, fan-in "unites" joins, retry scheduling, and the
// QUEUED-timeout reaper. It sits between the HTTP surface (internal/server)
// and the persistence layer (internal/store).
package engine

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/rakunlabs/statemanager/internal/service"
	"github.com/rakunlabs/statemanager/internal/service/depstring"
)

// Validator checks a graph template for internal consistency against the
// currently registered nodes before it is marked VALID, the status
// successor creation waits for (see graphwait.go).
type Validator struct {
	Nodes service.RegisteredNodeStorer
}

// NewValidator builds a Validator backed by the given registered-node store.
func NewValidator(nodes service.RegisteredNodeStorer) *Validator {
	return &Validator{Nodes: nodes}
}

// Validate runs the three independent checks concurrently — node existence,
// secret coverage, and input/placeholder resolution — and aggregates their
// errors in a fixed order so results are deterministic across runs.
func (v *Validator) Validate(ctx context.Context, g service.GraphTemplate) []string {
	var nodeErrs, secretErrs, inputErrs []string

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		errs, _, lookupErr := v.verifyNodeExists(gctx, g)
		nodeErrs = errs
		return lookupErr
	})

	group.Go(func() error {
		errs, lookupErr := v.verifySecrets(gctx, g)
		secretErrs = errs
		return lookupErr
	})

	// verifyInputs performs its own registered-node lookups independently —
	// the three checks are independent by design, matching the original's
	// asyncio.gather(verify_node_exists, verify_secrets, verify_inputs).
	group.Go(func() error {
		errs, lookupErr := v.verifyInputs(gctx, g)
		inputErrs = errs
		return lookupErr
	})

	if err := group.Wait(); err != nil {
		return append(append(append([]string{}, nodeErrs...), secretErrs...), fmt.Sprintf("validation aborted: %v", err))
	}

	var all []string
	all = append(all, nodeErrs...)
	all = append(all, secretErrs...)
	all = append(all, inputErrs...)
	all = append(all, service.ValidateStoreConfig(g.StoreConfig)...)
	return all
}

// verifyNodeExists checks that every (namespace, name) pair referenced by a
// node template is actually registered.
func (v *Validator) verifyNodeExists(ctx context.Context, g service.GraphTemplate) ([]string, map[string]*service.RegisteredNode, error) {
	var errs []string
	byIdentifier := make(map[string]*service.RegisteredNode)

	for _, nt := range g.Nodes {
		rn, err := v.Nodes.GetRegisteredNode(ctx, nt.Namespace, nt.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("lookup registered node %s/%s: %w", nt.Namespace, nt.Name, err)
		}
		if rn == nil {
			errs = append(errs, fmt.Sprintf("node %q references unregistered node %s/%s", nt.Identifier, nt.Namespace, nt.Name))
			continue
		}
		byIdentifier[nt.Identifier] = rn
	}

	sort.Strings(errs)
	return errs, byIdentifier, nil
}

// verifySecrets checks that every secret required by a node registered in
// the graph is declared in the graph template's secrets map.
func (v *Validator) verifySecrets(ctx context.Context, g service.GraphTemplate) ([]string, error) {
	required := make(map[string]bool)

	for _, nt := range g.Nodes {
		rn, err := v.Nodes.GetRegisteredNode(ctx, nt.Namespace, nt.Name)
		if err != nil {
			return nil, fmt.Errorf("lookup registered node %s/%s: %w", nt.Namespace, nt.Name, err)
		}
		if rn == nil {
			continue // reported by verifyNodeExists
		}
		for _, secret := range rn.Secrets {
			required[secret] = true
		}
	}

	var errs []string
	for secret := range required {
		if _, ok := g.Secrets[secret]; !ok {
			errs = append(errs, fmt.Sprintf("missing required secret %q", secret))
		}
	}

	sort.Strings(errs)
	return errs, nil
}

// verifyInputs checks, for every node template: (1) its declared inputs are
// a superset of its registered node's input schema — every property the
// schema declares must be present in nt.Inputs and be string-typed; (2) any
// "${{ store.key }}" placeholder among its inputs references a key declared
// in store_config; and (3) any "${{ identifier.outputs.field }}"
// placeholder references a node identifier present in the graph whose
// registered output schema declares `field` as a string property.
func (v *Validator) verifyInputs(ctx context.Context, g service.GraphTemplate) ([]string, error) {
	byIdentifier := make(map[string]service.NodeTemplate, len(g.Nodes))
	for _, nt := range g.Nodes {
		byIdentifier[nt.Identifier] = nt
	}

	storeKeys := make(map[string]bool)
	for _, k := range g.StoreConfig.RequiredKeys {
		storeKeys[k] = true
	}
	for k := range g.StoreConfig.DefaultValues {
		storeKeys[k] = true
	}

	var errs []string

	for _, nt := range g.Nodes {
		rn, err := v.Nodes.GetRegisteredNode(ctx, nt.Namespace, nt.Name)
		if err != nil {
			return nil, fmt.Errorf("lookup registered node %s/%s: %w", nt.Namespace, nt.Name, err)
		}
		if rn != nil {
			errs = append(errs, verifyRequiredInputs(nt, rn)...)
		}

		for field, syntax := range nt.Inputs {
			ds, err := depstring.Parse(syntax)
			if err != nil {
				errs = append(errs, fmt.Sprintf("node %q input %q: %v", nt.Identifier, field, err))
				continue
			}

			for _, ref := range ds.IdentifierFields() {
				if ref.Identifier == "store" {
					if !storeKeys[ref.Field] {
						errs = append(errs, fmt.Sprintf("node %q input %q: store key %q not declared in store_config", nt.Identifier, field, ref.Field))
					}
					continue
				}

				upstream, ok := byIdentifier[ref.Identifier]
				if !ok {
					errs = append(errs, fmt.Sprintf("node %q input %q: references unknown node identifier %q", nt.Identifier, field, ref.Identifier))
					continue
				}

				rn, err := v.Nodes.GetRegisteredNode(ctx, upstream.Namespace, upstream.Name)
				if err != nil {
					return nil, fmt.Errorf("lookup registered node %s/%s: %w", upstream.Namespace, upstream.Name, err)
				}
				if rn == nil {
					continue // reported by verifyNodeExists
				}

				if !schemaHasStringProperty(rn.OutputsSchema, ref.Field) {
					errs = append(errs, fmt.Sprintf("node %q input %q: node %q has no string output %q", nt.Identifier, field, ref.Identifier, ref.Field))
				}
			}
		}
	}

	sort.Strings(errs)
	return errs, nil
}

// verifyRequiredInputs checks that nt.Inputs is a superset of rn's declared
// input schema: every property rn.InputsSchema lists must be present in
// nt.Inputs and must itself be typed string, matching the original
// verify_inputs's iteration over the registered node's input model fields.
func verifyRequiredInputs(nt service.NodeTemplate, rn *service.RegisteredNode) []string {
	props, ok := rn.InputsSchema["properties"].(map[string]any)
	if !ok {
		return nil
	}

	var errs []string
	for field, prop := range props {
		propSchema, ok := prop.(map[string]any)
		if !ok {
			continue
		}
		typ, _ := propSchema["type"].(string)
		if typ != "string" {
			errs = append(errs, fmt.Sprintf("node %q: registered node input %q is not string-typed", nt.Identifier, field))
			continue
		}
		if _, ok := nt.Inputs[field]; !ok {
			errs = append(errs, fmt.Sprintf("node %q: missing required input %q", nt.Identifier, field))
		}
	}
	return errs
}

// schemaHasStringProperty reports whether the JSON schema declares
// properties.<field>.type == "string".
func schemaHasStringProperty(schema map[string]any, field string) bool {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return false
	}
	prop, ok := props[field].(map[string]any)
	if !ok {
		return false
	}
	typ, _ := prop["type"].(string)
	return typ == "string"
}
