// Package types provides shared types for the orchestrator service.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Graph is a node-graph workflow keyed by node id, in the render
// backend's API format. Node order is irrelevant; ids are unique.
type Graph map[string]*Node

// Node is a single typed unit within a Graph.
type Node struct {
	ClassType string                `json:"class_type"`
	Inputs    map[string]FieldValue `json:"inputs"`
	Meta      *NodeMeta             `json:"_meta,omitempty"`
}

// NodeMeta carries editor metadata the backend ignores.
type NodeMeta struct {
	Title string `json:"title,omitempty"`
}

// Reference points at another node's output slot.
type Reference struct {
	NodeID string
	Slot   int
}

// FieldValue is a node input: either a literal (string, number, bool)
// or a Reference to another node's output. Exactly one side is set.
type FieldValue struct {
	Literal any
	Ref     *Reference
}

// Lit wraps a literal input value.
func Lit(v any) FieldValue {
	return FieldValue{Literal: v}
}

// RefTo builds a reference input to the given node's output slot.
func RefTo(nodeID string, slot int) FieldValue {
	return FieldValue{Ref: &Reference{NodeID: nodeID, Slot: slot}}
}

// IsRef reports whether the value is a reference.
func (v FieldValue) IsRef() bool {
	return v.Ref != nil
}

// MarshalJSON encodes a reference as the backend's two-element array
// [nodeID, slot] and a literal as itself.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	if v.Ref != nil {
		return json.Marshal([2]any{v.Ref.NodeID, v.Ref.Slot})
	}
	return json.Marshal(v.Literal)
}

// UnmarshalJSON decodes two-element [string, number] arrays as
// references and everything else as a literal.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) == 2 {
		var nodeID string
		var slot int
		if json.Unmarshal(arr[0], &nodeID) == nil && json.Unmarshal(arr[1], &slot) == nil {
			v.Ref = &Reference{NodeID: nodeID, Slot: slot}
			v.Literal = nil
			return nil
		}
	}

	var lit any
	if err := json.Unmarshal(data, &lit); err != nil {
		return fmt.Errorf("invalid field value: %w", err)
	}
	v.Literal = lit
	v.Ref = nil
	return nil
}

// Clone returns a deep copy of the graph. Templates are never mutated
// in place; rewriting always operates on a clone.
func (g Graph) Clone() Graph {
	out := make(Graph, len(g))
	for id, node := range g {
		inputs := make(map[string]FieldValue, len(node.Inputs))
		for name, v := range node.Inputs {
			if v.Ref != nil {
				ref := *v.Ref
				v.Ref = &ref
			}
			inputs[name] = v
		}
		copied := &Node{ClassType: node.ClassType, Inputs: inputs}
		if node.Meta != nil {
			meta := *node.Meta
			copied.Meta = &meta
		}
		out[id] = copied
	}
	return out
}

// Validate checks that every reference resolves to a node present in
// the graph. Dangling references are a structural error.
func (g Graph) Validate() error {
	// Deterministic iteration keeps error messages stable.
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for name, v := range g[id].Inputs {
			if v.Ref == nil {
				continue
			}
			if _, ok := g[v.Ref.NodeID]; !ok {
				return fmt.Errorf("node %s input %q: dangling reference to node %s", id, name, v.Ref.NodeID)
			}
		}
	}
	return nil
}
