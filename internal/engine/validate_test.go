package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/rakunlabs/statemanager/internal/service"
)

func containsSubstring(errs []string, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func TestValidateDetectsUnregisteredNode(t *testing.T) {
	nodes := newMemNodes()
	v := NewValidator(nodes)

	g := service.GraphTemplate{
		Namespace: "ns", Name: "g",
		Nodes: []service.NodeTemplate{{Identifier: "a", Namespace: "ns", Name: "missing_node"}},
	}

	errs := v.Validate(context.Background(), g)
	if !containsSubstring(errs, "unregistered node") {
		t.Fatalf("errs = %v, want an unregistered-node complaint", errs)
	}
}

func TestValidateDetectsMissingSecret(t *testing.T) {
	nodes := newMemNodes()
	nodes.put(service.RegisteredNode{Namespace: "ns", Name: "needs_secret", Secrets: []string{"api_key"}})
	v := NewValidator(nodes)

	g := service.GraphTemplate{
		Namespace: "ns", Name: "g",
		Nodes:   []service.NodeTemplate{{Identifier: "a", Namespace: "ns", Name: "needs_secret"}},
		Secrets: map[string]string{},
	}

	errs := v.Validate(context.Background(), g)
	if !containsSubstring(errs, `missing required secret "api_key"`) {
		t.Fatalf("errs = %v, want a missing-secret complaint", errs)
	}
}

func TestValidateRequiresStringTypedInputSuperset(t *testing.T) {
	nodes := newMemNodes()
	nodes.put(service.RegisteredNode{
		Namespace: "ns", Name: "greeter",
		InputsSchema: map[string]any{
			"properties": map[string]any{
				"name":  map[string]any{"type": "string"},
				"count": map[string]any{"type": "integer"},
			},
		},
	})
	v := NewValidator(nodes)

	g := service.GraphTemplate{
		Namespace: "ns", Name: "g",
		Nodes: []service.NodeTemplate{{
			Identifier: "a", Namespace: "ns", Name: "greeter",
			Inputs: map[string]string{"count": "5"},
		}},
	}

	errs := v.Validate(context.Background(), g)
	if !containsSubstring(errs, `missing required input "name"`) {
		t.Fatalf("errs = %v, want a missing-required-input complaint for %q", errs, "name")
	}
	if !containsSubstring(errs, `"count" is not string-typed`) {
		t.Fatalf("errs = %v, want a not-string-typed complaint for %q", errs, "count")
	}
}

func TestValidatePassesWhenInputsSatisfySchema(t *testing.T) {
	nodes := newMemNodes()
	nodes.put(service.RegisteredNode{
		Namespace: "ns", Name: "greeter",
		InputsSchema: map[string]any{
			"properties": map[string]any{"name": map[string]any{"type": "string"}},
		},
	})
	v := NewValidator(nodes)

	g := service.GraphTemplate{
		Namespace: "ns", Name: "g",
		Nodes: []service.NodeTemplate{{
			Identifier: "a", Namespace: "ns", Name: "greeter",
			Inputs: map[string]string{"name": "literal"},
		}},
	}

	errs := v.Validate(context.Background(), g)
	if len(errs) != 0 {
		t.Fatalf("errs = %v, want none", errs)
	}
}

func TestValidateDetectsUnknownStoreReference(t *testing.T) {
	nodes := newMemNodes()
	nodes.put(service.RegisteredNode{Namespace: "ns", Name: "n"})
	v := NewValidator(nodes)

	g := service.GraphTemplate{
		Namespace: "ns", Name: "g",
		Nodes: []service.NodeTemplate{{
			Identifier: "a", Namespace: "ns", Name: "n",
			Inputs: map[string]string{"x": "${{ store.missing_key }}"},
		}},
		StoreConfig: service.StoreConfig{RequiredKeys: []string{"present_key"}},
	}

	errs := v.Validate(context.Background(), g)
	if !containsSubstring(errs, `store key "missing_key" not declared`) {
		t.Fatalf("errs = %v, want an undeclared store key complaint", errs)
	}
}

func TestValidateDetectsNonStringUpstreamOutput(t *testing.T) {
	nodes := newMemNodes()
	nodes.put(service.RegisteredNode{Namespace: "ns", Name: "producer", OutputsSchema: map[string]any{
		"properties": map[string]any{"count": map[string]any{"type": "integer"}},
	}})
	nodes.put(service.RegisteredNode{Namespace: "ns", Name: "consumer"})
	v := NewValidator(nodes)

	g := service.GraphTemplate{
		Namespace: "ns", Name: "g",
		Nodes: []service.NodeTemplate{
			{Identifier: "p", Namespace: "ns", Name: "producer"},
			{Identifier: "c", Namespace: "ns", Name: "consumer", Inputs: map[string]string{
				"x": "${{ p.outputs.count }}",
			}},
		},
	}

	errs := v.Validate(context.Background(), g)
	if !containsSubstring(errs, `has no string output "count"`) {
		t.Fatalf("errs = %v, want a non-string-output complaint", errs)
	}
}
