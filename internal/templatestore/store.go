// Package templatestore provides workflow template persistence.
package templatestore

import (
	"context"
	"errors"

	"github.com/comfystudio/orchestrator/pkg/types"
)

// Common errors returned by Store implementations.
var (
	ErrTemplateNotFound = errors.New("template not found")
)

// Store defines the interface for workflow template persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves a template by name. Returns ErrTemplateNotFound if
	// not found.
	Get(ctx context.Context, name string) (*types.WorkflowTemplate, error)

	// Put saves a template under its name, overwriting any existing one.
	Put(ctx context.Context, tmpl *types.WorkflowTemplate) error

	// List returns all templates, sorted by name.
	List(ctx context.Context) ([]*types.WorkflowTemplate, error)

	// Delete removes a template. Returns ErrTemplateNotFound if not found.
	Delete(ctx context.Context, name string) error

	// Close releases any resources.
	Close() error
}

// Validate checks that a template is structurally sound: a non-empty
// graph with no dangling references, and every field-map role bound to
// a node actually present in the graph.
func Validate(tmpl *types.WorkflowTemplate) error {
	if tmpl.Name == "" {
		return errors.New("template name is required")
	}
	if len(tmpl.Data) == 0 {
		return errors.New("template graph is required")
	}
	if err := tmpl.Data.Validate(); err != nil {
		return err
	}
	for _, role := range []string{
		types.RoleSampler, types.RolePositivePrompt, types.RoleNegativePrompt,
		types.RoleModel, types.RoleLatent, types.RoleSave, types.RoleLora,
	} {
		id := tmpl.Map.Node(role)
		if id == "" {
			continue
		}
		if _, ok := tmpl.Data[id]; !ok {
			return errors.New("field map role " + role + " names node " + id + ", not in graph")
		}
	}
	return nil
}
