// Package toolspolicy implements the Tool Registry & Permission Policy (C3):
// it resolves an AgentManifest's declared tool set against the built-in and
// MCP-discovered tools, applies aliasing, and decides per-invocation
// permission.
//
// Grounded on internal/tools/policy/resolver.go's group/wildcard expansion
// and internal/agent/tool_registry.go's manifest-driven filtering, extended
// with the path/command-aware deny-wins rules of spec.md §3 step 2 that the
// teacher's resolver (tool-name patterns only) does not have.
package toolspolicy

import (
	"fmt"
	"strings"

	"github.com/corvid-labs/qcore/internal/errs"
	"github.com/corvid-labs/qcore/internal/models"
)

// Registry holds the effective, post-alias tool set for one session.
type Registry struct {
	// byName indexes the final, post-rename spec by its display name.
	byName map[string]models.ToolSpec
	order  []string
}

// Build resolves manifest.Tools/ToolAliases against the built-in and
// MCP-discovered tool specs and returns the effective Registry. Aliasing
// conflicts (two original names renamed to the same display name) are a
// fatal load error, per spec.md §4.3.
func Build(manifest *models.AgentManifest, builtins, mcpTools []models.ToolSpec) (*Registry, error) {
	available := make(map[string]models.ToolSpec, len(builtins)+len(mcpTools))
	var availableOrder []string
	for _, t := range builtins {
		available[t.Name] = t
		availableOrder = append(availableOrder, t.Name)
	}
	for _, t := range mcpTools {
		// MCP tools are addressed as "@server/tool" prior to alias resolution.
		fq := t.Name
		if t.OriginServer != "" && !strings.Contains(fq, "/") {
			fq = "@" + t.OriginServer + "/" + t.Name
		}
		t.Name = fq
		available[fq] = t
		availableOrder = append(availableOrder, fq)
	}

	selected := selectTools(manifest.Tools, available, availableOrder)

	r := &Registry{byName: make(map[string]models.ToolSpec, len(selected))}
	seenDisplay := make(map[string]string) // display name -> original name, for conflict detection
	for _, origName := range selected {
		spec := available[origName]
		display := origName
		if alias, ok := manifest.ToolAliases[origName]; ok && alias != "" {
			display = alias
		}
		if prevOrig, conflict := seenDisplay[display]; conflict && prevOrig != origName {
			return nil, errs.New(errs.Config,
				fmt.Sprintf("tool alias conflict: %q and %q both resolve to display name %q", prevOrig, origName, display), nil)
		}
		seenDisplay[display] = origName
		spec.Name = display
		if _, exists := r.byName[display]; !exists {
			r.order = append(r.order, display)
		}
		r.byName[display] = spec
	}

	return r, nil
}

// selectTools applies the manifest's tools entries (exact names, "*", or
// "@server" wildcards) against the available set, preserving declaration
// order of `available` and deduplicating.
func selectTools(wanted []string, available map[string]models.ToolSpec, availableOrder []string) []string {
	if len(wanted) == 0 {
		return nil
	}
	var hasStar bool
	serverWildcards := make(map[string]bool)
	exact := make(map[string]bool)
	for _, w := range wanted {
		switch {
		case w == "*":
			hasStar = true
		case strings.HasPrefix(w, "@") && strings.HasSuffix(w, "/*"):
			serverWildcards[strings.TrimSuffix(strings.TrimPrefix(w, "@"), "/*")] = true
		default:
			exact[w] = true
		}
	}

	var out []string
	for _, name := range availableOrder {
		spec := available[name]
		switch {
		case hasStar:
			out = append(out, name)
		case exact[name]:
			out = append(out, name)
		case spec.OriginServer != "" && serverWildcards[spec.OriginServer]:
			out = append(out, name)
		}
	}
	return out
}

// List returns all tool specs in the registry, in resolution order.
func (r *Registry) List() []models.ToolSpec {
	out := make([]models.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Lookup returns the spec for a (post-alias) display name.
func (r *Registry) Lookup(name string) (models.ToolSpec, bool) {
	spec, ok := r.byName[name]
	return spec, ok
}
