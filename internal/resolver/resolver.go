// Package resolver implements the Reference Resolver stage (§4.3): it
// takes a workflow whose instances may still reference node types by
// either their display Name or their FunctionName, normalises every
// reference to the canonical NodeType.Key(), infers startPorts/exitPorts
// that the source annotations left implicit, and computes the
// Scopes index used by the planner's per-scope sub-plans.
//
// Resolve never rejects a workflow outright; a reference it cannot
// normalise is left as-is and surfaces later as an UNKNOWN_NODE_TYPE
// validator diagnostic. This mirrors the source resolver's style of
// resolving what it can and reporting failure through the caller's
// error channel rather than panicking mid-pass.
package resolver

import (
	"fmt"
	"sort"

	"github.com/flowweaver/compiler/internal/ast"
)

// Resolve returns a new Workflow with node-type references normalised,
// inferred start/exit ports filled in, and Scopes populated. w is never
// mutated.
func Resolve(w *ast.Workflow) *ast.Workflow {
	result := w.Clone()

	result.Instances = normalizeInstanceTypes(w)
	result.StartPorts = inferStartPorts(w)
	result.ExitPorts = inferExitPorts(w)
	result.Scopes = computeScopes(w)

	return result
}

// normalizeInstanceTypes rewrites each instance's NodeType reference to
// the canonical key (FunctionName, falling back to Name) of whichever
// declared NodeType it matches. Unmatched references pass through
// unchanged.
func normalizeInstanceTypes(w *ast.Workflow) []ast.NodeInstance {
	out := make([]ast.NodeInstance, len(w.Instances))
	copy(out, w.Instances)
	for i, inst := range out {
		if nt, ok := w.ResolveNodeType(inst.NodeType); ok {
			out[i].NodeType = nt.Key()
		}
	}
	return out
}

// inferStartPorts ensures a "execute: STEP" control-flow port always
// exists, then adds one entry for every Start-originating connection's
// port that the source annotations did not declare with @param, copying
// the target instance's input port definition and falling back to ANY
// when that port cannot be resolved. Declared ports are left untouched.
func inferStartPorts(w *ast.Workflow) map[string]ast.PortDef {
	out := map[string]ast.PortDef{}
	for k, v := range w.StartPorts {
		out[k] = v
	}
	if _, ok := out["execute"]; !ok {
		out["execute"] = ast.PortDef{DataType: ast.Step, IsControlFlow: true}
	}
	for _, c := range w.Connections {
		if c.From.Node != ast.Start {
			continue
		}
		if _, ok := out[c.From.Port]; ok {
			continue
		}
		def := inputPortDef(w, c.To)
		if def.DataType == "" {
			def.DataType = ast.Any
		}
		out[c.From.Port] = def
	}
	return out
}

// inferExitPorts mirrors inferStartPorts for Exit-terminating
// connections, copying the source instance's output port definition;
// there is no mandatory control-flow entry on the exit side.
func inferExitPorts(w *ast.Workflow) map[string]ast.PortDef {
	out := map[string]ast.PortDef{}
	for k, v := range w.ExitPorts {
		out[k] = v
	}
	for _, c := range w.Connections {
		if c.To.Node != ast.Exit {
			continue
		}
		if _, ok := out[c.To.Port]; ok {
			continue
		}
		def := outputPortDef(w, c.From)
		if def.DataType == "" {
			def.DataType = ast.Any
		}
		out[c.To.Port] = def
	}
	return out
}

func inputPortDef(w *ast.Workflow, ref ast.PortRef) ast.PortDef {
	inst, ok := w.GetNode(ref.Node)
	if !ok {
		return ast.PortDef{}
	}
	nt, ok := w.ResolveNodeType(inst.NodeType)
	if !ok {
		return ast.PortDef{}
	}
	return nt.Inputs[ref.Port]
}

func outputPortDef(w *ast.Workflow, ref ast.PortRef) ast.PortDef {
	inst, ok := w.GetNode(ref.Node)
	if !ok {
		return ast.PortDef{}
	}
	nt, ok := w.ResolveNodeType(inst.NodeType)
	if !ok {
		return ast.PortDef{}
	}
	return nt.Outputs[ref.Port]
}

// computeScopes groups scoped-child instance ids under the qualified
// scope key "<parentID>.<scope>" their NodeType's @scope declaration and
// NodeParent.Scope agree on. A child whose parent's NodeType carries no
// matching scope is omitted; the validator's SCOPE_WITHOUT_CONTEXT rule
// reports that case.
func computeScopes(w *ast.Workflow) map[string][]string {
	scopes := map[string][]string{}
	for _, inst := range w.Instances {
		if inst.Parent == nil {
			continue
		}
		parent, ok := w.GetNode(inst.Parent.ID)
		if !ok {
			continue
		}
		parentType, ok := w.ResolveNodeType(parent.NodeType)
		if !ok || parentType.Scope != inst.Parent.Scope {
			continue
		}
		key := fmt.Sprintf("%s.%s", inst.Parent.ID, inst.Parent.Scope)
		scopes[key] = append(scopes[key], inst.ID)
	}
	for key := range scopes {
		sort.Strings(scopes[key])
	}
	return scopes
}
