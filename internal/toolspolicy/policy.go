package toolspolicy

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/corvid-labs/qcore/internal/models"
)

// readOnlyCommands is the static allow-list of argv[0]s execute_bash treats
// as read-only, per spec.md §4.4. Kept here (rather than in the exec tool)
// so both the PromptUser/AutoAllow decision and the tool executor's own
// safety check agree on one classification.
var readOnlyCommands = map[string]bool{
	"ls": true, "cat": true, "grep": true, "rg": true, "ps": true,
	"find": true, "head": true, "tail": true, "wc": true, "pwd": true,
	"echo": true, "file": true, "stat": true, "which": true, "whoami": true,
	"diff": true, "env": true, "date": true,
}

// readOnlyGitSubcommands lists the `git <subcommand>` forms considered
// read-only; anything else under git (commit, push, reset, ...) is not.
var readOnlyGitSubcommands = map[string]bool{
	"status": true, "log": true, "diff": true, "show": true, "branch": true,
	"remote": true, "blame": true,
}

// ClassifyReadOnly reports whether every pipeline segment of command is a
// recognized read-only utility. A single unrecognized segment makes the
// whole command non-read-only.
func ClassifyReadOnly(command string) bool {
	segments := splitPipeline(command)
	if len(segments) == 0 {
		return false
	}
	for _, seg := range segments {
		fields := strings.Fields(seg)
		if len(fields) == 0 {
			return false
		}
		argv0 := fields[0]
		if argv0 == "git" {
			if len(fields) < 2 || !readOnlyGitSubcommands[fields[1]] {
				return false
			}
			continue
		}
		if !readOnlyCommands[argv0] {
			return false
		}
	}
	return true
}

func splitPipeline(command string) []string {
	raw := strings.FieldsFunc(command, func(r rune) bool {
		return r == '|'
	})
	var out []string
	for _, r := range raw {
		for _, piece := range strings.Split(r, "&&") {
			for _, p := range strings.Split(piece, ";") {
				p = strings.TrimSpace(p)
				if p != "" {
					out = append(out, p)
				}
			}
		}
	}
	return out
}

// Policy evaluates PermissionDecision for tool invocations against one
// AgentManifest's allowed_tools and tools_settings, per spec.md §3.
type Policy struct {
	manifest *models.AgentManifest
}

// NewPolicy constructs a Policy bound to manifest.
func NewPolicy(manifest *models.AgentManifest) *Policy {
	return &Policy{manifest: manifest}
}

// Decide computes the PermissionDecision for invoking tool name with input.
// Deny rules always win, even over an allowed_tools entry (spec.md §8's
// permission invariant), so path/command denial is checked before the
// allow-list.
func (p *Policy) Decide(name string, input json.RawMessage) models.PermissionDecision {
	if denied, ok := p.denyByToolSettings(name, input); ok && denied {
		return models.AutoDeny
	}

	if p.inAllowedTools(name) {
		return models.AutoAllow
	}

	if allowed, ok := p.allowByToolSettings(name, input); ok && allowed {
		return models.AutoAllow
	}

	if name == "fs_read" || name == "report_issue" {
		return models.AutoAllow
	}
	return models.PromptUser
}

func (p *Policy) inAllowedTools(name string) bool {
	for _, a := range p.manifest.AllowedTools {
		if a == name {
			return true
		}
		if strings.HasPrefix(a, "@") && strings.HasSuffix(a, "/*") {
			server := strings.TrimSuffix(strings.TrimPrefix(a, "@"), "/*")
			if strings.HasPrefix(name, "@"+server+"/") {
				return true
			}
		}
	}
	return false
}

// denyByToolSettings returns (denied, applicable). applicable is false when
// the tool has no path/command policy configured, so the caller falls
// through to the allow-list/default steps.
func (p *Policy) denyByToolSettings(name string, input json.RawMessage) (bool, bool) {
	switch name {
	case "fs_read", "fs_write":
		var pol models.ToolPathPolicy
		if ok, _ := p.manifest.ToolsSettingFor(name, &pol); !ok || len(pol.DeniedPaths) == 0 {
			return false, false
		}
		paths := extractPaths(input)
		if len(paths) == 0 {
			return false, false
		}
		allDenied := true
		for _, path := range paths {
			if !matchesAnyGlob(pol.DeniedPaths, path) {
				allDenied = false
				break
			}
		}
		return allDenied, true

	case "execute_bash":
		var pol models.ToolCommandPolicy
		if ok, _ := p.manifest.ToolsSettingFor(name, &pol); !ok || len(pol.DeniedCommands) == 0 {
			return false, false
		}
		cmd := extractCommand(input)
		if cmd == "" {
			return false, false
		}
		for _, pattern := range pol.DeniedCommands {
			if re, err := regexp.Compile(pattern); err == nil && re.MatchString(cmd) {
				return true, true
			}
		}
		return false, true
	}
	return false, false
}

func (p *Policy) allowByToolSettings(name string, input json.RawMessage) (bool, bool) {
	switch name {
	case "fs_read", "fs_write":
		var pol models.ToolPathPolicy
		if ok, _ := p.manifest.ToolsSettingFor(name, &pol); !ok || len(pol.AllowedPaths) == 0 {
			return false, false
		}
		paths := extractPaths(input)
		if len(paths) == 0 {
			return false, false
		}
		for _, path := range paths {
			if !matchesAnyGlob(pol.AllowedPaths, path) {
				return false, true
			}
		}
		return true, true

	case "execute_bash":
		var pol models.ToolCommandPolicy
		if ok, _ := p.manifest.ToolsSettingFor(name, &pol); !ok {
			return false, false
		}
		cmd := extractCommand(input)
		if cmd == "" {
			return false, false
		}
		for _, pattern := range pol.AllowedCommands {
			if re, err := regexp.Compile(pattern); err == nil && re.MatchString(cmd) {
				return true, true
			}
		}
		if pol.AllowReadOnly && ClassifyReadOnly(cmd) {
			return true, true
		}
		return false, len(pol.AllowedCommands) > 0 || pol.AllowReadOnly
	}
	return false, false
}

func matchesAnyGlob(globs []string, path string) bool {
	for _, g := range globs {
		if ok, err := filepath.Match(g, path); err == nil && ok {
			return true
		}
		// doublestar-style "/**" prefix match, since filepath.Match has no
		// recursive-directory wildcard.
		if strings.HasSuffix(g, "/**") && strings.HasPrefix(path, strings.TrimSuffix(g, "**")) {
			return true
		}
	}
	return false
}

type fsOperation struct {
	Path string `json:"path"`
}

type fsInput struct {
	Path       string        `json:"path"`
	Operations []fsOperation `json:"operations"`
}

func extractPaths(input json.RawMessage) []string {
	var in fsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil
	}
	var paths []string
	if in.Path != "" {
		paths = append(paths, in.Path)
	}
	for _, op := range in.Operations {
		if op.Path != "" {
			paths = append(paths, op.Path)
		}
	}
	return paths
}

func extractCommand(input json.RawMessage) string {
	var in struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return ""
	}
	return in.Command
}
