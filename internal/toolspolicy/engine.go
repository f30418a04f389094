package toolspolicy

import (
	"encoding/json"

	"github.com/corvid-labs/qcore/internal/models"
)

// Engine is the C3 component surface: the resolved tool Registry plus the
// Policy that decides permission for each invocation.
type Engine struct {
	registry *Registry
	policy   *Policy
}

// New builds the effective tool registry from manifest and binds a Policy
// to it.
func New(manifest *models.AgentManifest, builtins, mcpTools []models.ToolSpec) (*Engine, error) {
	reg, err := Build(manifest, builtins, mcpTools)
	if err != nil {
		return nil, err
	}
	return &Engine{registry: reg, policy: NewPolicy(manifest)}, nil
}

// List returns every tool available in this session, in resolution order.
func (e *Engine) List() []models.ToolSpec { return e.registry.List() }

// Lookup resolves a post-alias tool name to its spec.
func (e *Engine) Lookup(name string) (models.ToolSpec, bool) { return e.registry.Lookup(name) }

// Decide computes the PermissionDecision for invoking name with input.
func (e *Engine) Decide(name string, input json.RawMessage) models.PermissionDecision {
	return e.policy.Decide(name, input)
}
