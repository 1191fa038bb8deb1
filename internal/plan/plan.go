// Package plan implements the Planner stage (§4.6): it derives a
// deterministic execution order for a validated workflow's main flow,
// plus a recursive sub-plan for each declared scope (e.g. a forEach
// body), so a caller can schedule scoped work once per iteration
// without re-running topological sort at execution time.
package plan

import (
	"fmt"
	"sort"

	"github.com/flowweaver/compiler/internal/ast"
)

// Plan is the scheduling output for one workflow or scope body.
type Plan struct {
	// Order is a deterministic topological order of this level's
	// instance ids (ascending-id tie-broken, per §4.6).
	Order []string `json:"order"`
	// Groups partitions Order into layers that may run concurrently:
	// every instance in groups[i] depends only on instances in
	// groups[0..i-1].
	Groups [][]string `json:"groups"`
	// Scopes maps each qualified scope key ("<parentID>.<scope>") this
	// level declares to its own recursively-planned sub-plan.
	Scopes map[string]*Plan `json:"scopes,omitempty"`
}

// Build computes the execution plan for w, recursing into every entry of
// w.Scopes (as produced by the resolver). Returns an error naming the
// first cycle found, at whatever nesting level it occurs.
func Build(w *ast.Workflow) (*Plan, error) {
	order, err := w.GetTopologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	groups, err := w.GetExecutionGroups()
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}

	p := &Plan{Order: order, Groups: groups}

	if len(w.Scopes) == 0 {
		return p, nil
	}
	p.Scopes = map[string]*Plan{}

	keys := make([]string, 0, len(w.Scopes))
	for k := range w.Scopes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		sub, err := buildScopePlan(w, key, w.Scopes[key])
		if err != nil {
			return nil, fmt.Errorf("plan: scope %q: %w", key, err)
		}
		p.Scopes[key] = sub
	}
	return p, nil
}

// buildScopePlan plans the body of one scope: the instances the
// resolver assigned to it, and the connections among them whose
// endpoints both fall inside the body (a scope-qualified connection, or
// one between two children of the same parent).
func buildScopePlan(w *ast.Workflow, scopeKey string, memberIDs []string) (*Plan, error) {
	members := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = true
	}

	var scopedInstances []*ast.NodeInstance
	for _, id := range memberIDs {
		inst, ok := w.GetNode(id)
		if !ok {
			continue
		}
		scopedInstances = append(scopedInstances, inst)
	}

	var scopedConns []ast.Connection
	for _, c := range w.Connections {
		if members[c.From.Node] && members[c.To.Node] {
			scopedConns = append(scopedConns, c)
		}
	}

	sub := &ast.Workflow{
		NodeTypes:   w.NodeTypes,
		Instances:   derefInstances(scopedInstances),
		Connections: scopedConns,
		Scopes:      childScopes(w, members),
	}

	return Build(sub)
}

func derefInstances(ptrs []*ast.NodeInstance) []ast.NodeInstance {
	out := make([]ast.NodeInstance, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out
}

// childScopes returns the subset of w.Scopes whose parent instance is a
// member of the current scope body, for scopes nested within scopes
// (e.g. a forEach inside a forEach).
func childScopes(w *ast.Workflow, members map[string]bool) map[string][]string {
	out := map[string][]string{}
	for key, ids := range w.Scopes {
		parentID := parentIDOf(key)
		if members[parentID] {
			out[key] = ids
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parentIDOf(scopeKey string) string {
	for i := len(scopeKey) - 1; i >= 0; i-- {
		if scopeKey[i] == '.' {
			return scopeKey[:i]
		}
	}
	return scopeKey
}
