// Package depstring parses the dependency-string placeholder grammar used in
// a node template's inputs: "...${{ identifier.outputs.field }}..." and
// "...${{ store.key }}...". A template string may mix literal text with any
// number of placeholders; Render substitutes each placeholder's resolved
// value once every Dependent has been filled via SetValue.
package depstring

import (
	"fmt"
	"strings"
)

// Dependent is one "${{ ... }}" placeholder occurrence inside a DependentString.
type Dependent struct {
	// Identifier is either a node template identifier (placeholder form
	// "${{ id.outputs.field }}") or the literal "store" (placeholder form
	// "${{ store.key }}").
	Identifier string
	// Field is the output field name for a node reference, or the store key
	// for a store reference.
	Field string
	// Tail is the literal text following this placeholder, up to the next
	// placeholder or the end of the string.
	Tail string
	// Value is filled in by SetValue once the referenced value is known.
	// Render fails if any Dependent's Value is still nil.
	Value *string
}

// DependentString is a parsed "${{ }}"-template: a literal head followed by
// zero or more Dependents, each carrying the literal text after it.
type DependentString struct {
	Head       string
	Dependents map[int]*Dependent

	mappingBuilt bool
	mapping      map[string][]*Dependent
}

// Parse splits syntax into a DependentString. A string with no placeholders
// parses to a DependentString with an empty Dependents map and the whole
// string as Head.
func Parse(syntax string) (*DependentString, error) {
	ds := &DependentString{Dependents: make(map[int]*Dependent)}

	rest := syntax
	idx := 0
	for {
		start := strings.Index(rest, "${{")
		if start == -1 {
			if idx == 0 {
				ds.Head = rest
			} else {
				ds.Dependents[idx-1].Tail = rest
			}
			break
		}

		literal := rest[:start]
		if idx == 0 {
			ds.Head = literal
		} else {
			ds.Dependents[idx-1].Tail = literal
		}

		rest = rest[start+len("${{"):]
		end := strings.Index(rest, "}}")
		if end == -1 {
			return nil, fmt.Errorf("depstring: unterminated %q placeholder in %q", "${{", syntax)
		}

		expr := strings.TrimSpace(rest[:end])
		rest = rest[end+len("}}"):]

		dep, err := parseExpr(expr)
		if err != nil {
			return nil, fmt.Errorf("depstring: %w in %q", err, syntax)
		}

		ds.Dependents[idx] = dep
		idx++
	}

	return ds, nil
}

// parseExpr parses the text inside "${{ ... }}". It must be either
// "identifier.outputs.field" (a node output reference) or "store.key"
// (a run-store reference).
func parseExpr(expr string) (*Dependent, error) {
	parts := strings.Split(expr, ".")

	if len(parts) == 2 && parts[0] == "store" {
		key := strings.TrimSpace(parts[1])
		if key == "" {
			return nil, fmt.Errorf("empty store key in placeholder %q", expr)
		}
		return &Dependent{Identifier: "store", Field: key}, nil
	}

	if len(parts) == 3 && parts[1] == "outputs" {
		identifier := strings.TrimSpace(parts[0])
		field := strings.TrimSpace(parts[2])
		if identifier == "" || field == "" {
			return nil, fmt.Errorf("malformed placeholder %q", expr)
		}
		return &Dependent{Identifier: identifier, Field: field}, nil
	}

	return nil, fmt.Errorf("malformed placeholder %q: expected \"id.outputs.field\" or \"store.key\"", expr)
}

// IdentifierFields returns the (identifier, field) pair referenced by every
// Dependent, in occurrence order. Duplicate identifiers/fields are returned
// once per occurrence, not deduplicated — a resolver that needs the unique
// set should dedupe the result itself.
func (ds *DependentString) IdentifierFields() []IdentifierField {
	out := make([]IdentifierField, 0, len(ds.Dependents))
	for i := 0; i < len(ds.Dependents); i++ {
		d := ds.Dependents[i]
		out = append(out, IdentifierField{Identifier: d.Identifier, Field: d.Field})
	}
	return out
}

// IdentifierField is one (identifier, field) pair extracted from a
// DependentString, e.g. {"fetch_page", "status_code"} or {"store", "retry_limit"}.
type IdentifierField struct {
	Identifier string
	Field      string
}

// SetValue fills every Dependent matching (identifier, field). A single
// value can be referenced by more than one placeholder in the same string.
func (ds *DependentString) SetValue(identifier, field, value string) {
	ds.buildMapping()
	key := mappingKey(identifier, field)
	for _, d := range ds.mapping[key] {
		v := value
		d.Value = &v
	}
}

// Render concatenates Head, each Dependent's resolved Value, and each
// Dependent's Tail. It fails if any Dependent's Value has not been set.
func (ds *DependentString) Render() (string, error) {
	var b strings.Builder
	b.WriteString(ds.Head)

	for i := 0; i < len(ds.Dependents); i++ {
		d := ds.Dependents[i]
		if d.Value == nil {
			return "", fmt.Errorf("dependent value is not set for: %s.%s", d.Identifier, d.Field)
		}
		b.WriteString(*d.Value)
		b.WriteString(d.Tail)
	}

	return b.String(), nil
}

func (ds *DependentString) buildMapping() {
	if ds.mappingBuilt {
		return
	}
	ds.mapping = make(map[string][]*Dependent)
	for i := 0; i < len(ds.Dependents); i++ {
		d := ds.Dependents[i]
		key := mappingKey(d.Identifier, d.Field)
		ds.mapping[key] = append(ds.mapping[key], d)
	}
	ds.mappingBuilt = true
}

func mappingKey(identifier, field string) string {
	return identifier + "\x00" + field
}
