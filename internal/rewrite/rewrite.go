// Package rewrite applies generation parameters to a workflow graph
// template, including the conditional LoRA splice.
package rewrite

import (
	"errors"
	"fmt"

	"github.com/comfystudio/orchestrator/pkg/types"
)

// Structural errors. Both indicate a defective template rather than a
// transient condition; the orchestrator treats them as fatal for the job.
var (
	// ErrDanglingReference is returned when the rewritten graph holds a
	// reference to a node that is not present.
	ErrDanglingReference = errors.New("dangling reference")

	// ErrLoraUpstream is returned when a LoRA bypass cannot heal the
	// graph because the LoRA node lacks an upstream model or clip
	// reference for a slot that downstream nodes consume.
	ErrLoraUpstream = errors.New("lora node has no upstream reference")
)

// Apply rewrites the template's graph with the given parameters and
// returns the concrete graph to submit. The template is never mutated;
// every call operates on a fresh clone.
//
// Each injection step is independently optional: roles absent from the
// template's field map are skipped without error.
func Apply(tmpl *types.WorkflowTemplate, p *types.GenerationParams) (types.Graph, error) {
	g := tmpl.Data.Clone()
	m := tmpl.Map

	if id := m.Node(types.RoleSampler); id != "" {
		if err := setInputs(g, id, map[string]any{
			"seed":  p.Seed,
			"steps": p.Steps,
			"cfg":   p.CFG,
		}); err != nil {
			return nil, err
		}
	}

	if id := m.Node(types.RolePositivePrompt); id != "" {
		if err := setInputs(g, id, map[string]any{"text": p.Prompt}); err != nil {
			return nil, err
		}
	}
	if id := m.Node(types.RoleNegativePrompt); id != "" {
		if err := setInputs(g, id, map[string]any{"text": p.NegativePrompt}); err != nil {
			return nil, err
		}
	}

	// An empty model keeps the template's default checkpoint.
	if id := m.Node(types.RoleModel); id != "" && p.Model != "" {
		field := m.Node(types.RoleModelField)
		if field == "" {
			return nil, fmt.Errorf("field map binds %q without %q", types.RoleModel, types.RoleModelField)
		}
		if err := setInputs(g, id, map[string]any{field: p.Model}); err != nil {
			return nil, err
		}
	}

	if id := m.Node(types.RoleLatent); id != "" {
		if err := setInputs(g, id, map[string]any{
			"width":  p.Width,
			"height": p.Height,
		}); err != nil {
			return nil, err
		}
	}

	if id := m.Node(types.RoleLora); id != "" {
		if p.LoraBypass || p.Lora == "" {
			if err := spliceLora(g, id); err != nil {
				return nil, err
			}
		} else {
			field := m.Node(types.RoleLoraField)
			if field == "" {
				return nil, fmt.Errorf("field map binds %q without %q", types.RoleLora, types.RoleLoraField)
			}
			if err := setInputs(g, id, map[string]any{field: p.Lora}); err != nil {
				return nil, err
			}
		}
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDanglingReference, err)
	}
	return g, nil
}

// setInputs assigns literal input values on one node.
func setInputs(g types.Graph, nodeID string, values map[string]any) error {
	node, ok := g[nodeID]
	if !ok {
		return fmt.Errorf("%w: field map names node %s, not in graph", ErrDanglingReference, nodeID)
	}
	if node.Inputs == nil {
		node.Inputs = make(map[string]types.FieldValue, len(values))
	}
	for name, v := range values {
		node.Inputs[name] = types.Lit(v)
	}
	return nil
}

// spliceLora removes the LoRA node from the graph and heals it over:
// every field referencing the LoRA node's output slot 0 reconnects to
// the LoRA node's own upstream model reference, and slot 1 to its
// upstream clip reference. Downstream consumers end up wired directly
// to what the LoRA node used to wrap, so bypassing then re-enabling
// reproduces the template topology.
func spliceLora(g types.Graph, loraID string) error {
	lora, ok := g[loraID]
	if !ok {
		return fmt.Errorf("%w: field map names lora node %s, not in graph", ErrDanglingReference, loraID)
	}

	upstream := [2]*types.Reference{
		lora.Inputs["model"].Ref, // output slot 0
		lora.Inputs["clip"].Ref,  // output slot 1
	}

	for id, node := range g {
		if id == loraID {
			continue
		}
		for name, v := range node.Inputs {
			if v.Ref == nil || v.Ref.NodeID != loraID {
				continue
			}
			slot := v.Ref.Slot
			if slot < 0 || slot > 1 || upstream[slot] == nil {
				return fmt.Errorf("%w: node %s input %q consumes lora slot %d", ErrLoraUpstream, id, name, slot)
			}
			node.Inputs[name] = types.FieldValue{Ref: &types.Reference{
				NodeID: upstream[slot].NodeID,
				Slot:   upstream[slot].Slot,
			}}
		}
	}

	delete(g, loraID)
	return nil
}
