// Package transform implements the Transformer Pipeline stage (§4.5): a
// small sugar optimizer that runs after macro expansion and reference
// resolution. It keeps a workflow's Macros list honest (dropping sugar
// whose literal connections were edited out from under it) and adds
// path-macro sugar for literal linear control-flow runs an authoring
// tool produced directly, so re-serialized source reads the way a human
// author would have written it.
//
// Stages compose over github.com/zoobzio/pipz's Chain, the same
// sequential-processor abstraction used elsewhere in this codebase's
// lineage for composing independent, order-sensitive steps over one
// value type.
package transform

import (
	"sort"

	"github.com/zoobzio/pipz"

	"github.com/flowweaver/compiler/internal/ast"
	"github.com/flowweaver/compiler/internal/macro"
)

// Stage is one transformer: a pure function from a workflow to its
// transformed replacement.
type Stage func(*ast.Workflow) (*ast.Workflow, error)

// stageAdapter makes a Stage satisfy pipz.Chainable[*ast.Workflow].
type stageAdapter struct{ fn Stage }

func (s stageAdapter) Process(w *ast.Workflow) (*ast.Workflow, error) { return s.fn(w) }

// composeTransformers builds a pipz.Chain running stages in order,
// each one's output feeding the next's input.
func composeTransformers(stages ...Stage) *pipz.Chain[*ast.Workflow] {
	chain := pipz.NewChain[*ast.Workflow]()
	for _, s := range stages {
		chain.Add(stageAdapter{fn: s})
	}
	return chain
}

// Transform runs the default sugar-optimizer pipeline over w and
// returns the result. w is never mutated.
func Transform(w *ast.Workflow) (*ast.Workflow, error) {
	return applyTransformations(w, filterStaleMacros, detectLinearPathSugar)
}

// applyTransformations runs an explicit stage list, so code in this
// package (tests included) can exercise a subset of the default pipeline.
func applyTransformations(w *ast.Workflow, stages ...Stage) (*ast.Workflow, error) {
	return composeTransformers(stages...).Process(w)
}

// isConnectionCoveredBySugar reports whether c is implied by at least
// one of w's recorded macros, so callers can tell a "real" literal
// connection from one that only exists because a macro says it should.
func isConnectionCoveredBySugar(w *ast.Workflow, c ast.Connection) bool {
	for _, m := range w.Macros {
		for _, implied := range macro.ImpliedConnections(m) {
			if implied.Key() == c.Key() {
				return true
			}
		}
	}
	return false
}

// filterStaleMacros drops any path/fanOut/fanIn/map macro whose implied
// connections are no longer all present in w.Connections — typically
// because a WithoutValidation edit removed one directly. Coerce macros
// are never considered stale here: their implied connections reference a
// macro-owned synthetic instance, and a missing synthetic instance is
// the validator's concern (COERCION_NODETYPE_MISSING / UNKNOWN_NODE_TYPE),
// not the sugar optimizer's.
func filterStaleMacros(w *ast.Workflow) (*ast.Workflow, error) {
	if len(w.Macros) == 0 {
		return w, nil
	}
	existing := make(map[string]bool, len(w.Connections))
	for _, c := range w.Connections {
		existing[c.Key()] = true
	}

	kept := make([]ast.Macro, 0, len(w.Macros))
	for _, m := range w.Macros {
		if m.Kind == ast.MacroCoerce {
			kept = append(kept, m)
			continue
		}
		implied := macro.ImpliedConnections(m)
		stale := false
		for _, c := range implied {
			if !existing[c.Key()] {
				stale = true
				break
			}
		}
		if !stale {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(w.Macros) {
		return w, nil
	}
	result := w.Clone()
	result.Macros = kept
	return result, nil
}

// detectLinearPathSugar finds maximal runs of instances chained
// one-control-flow-output-to-one-execute-input, with every interior
// node having exactly one control-flow predecessor and successor, and
// records each run of three or more nodes as a path macro — purely
// additive sugar for round-tripping; the literal connections are left
// untouched. Start and Exit are eligible run endpoints, not excluded
// from consideration: a maximal chain "Start -> n1 -> ... -> Exit" (or
// a shorter run whose ends fall short of Start/Exit) both qualify, per
// §4.5 and the worked linear-pipeline example in §8. Runs already
// fully covered by an existing macro are skipped.
func detectLinearPathSugar(w *ast.Workflow) (*ast.Workflow, error) {
	isKnownNode := func(id string) bool {
		if id == ast.Start || id == ast.Exit {
			return true
		}
		_, ok := w.GetNode(id)
		return ok
	}

	succ := map[string]string{}     // node -> sole control-flow successor
	succRoute := map[string]ast.Route{} // node -> route its sole successor edge took
	pred := map[string]int{}        // node -> count of control-flow predecessors
	outDeg := map[string]int{}      // node -> count of control-flow successors
	for _, c := range w.Connections {
		if !w.IsControlFlow(c) || c.From.Scope != "" || c.To.Scope != "" {
			continue
		}
		if !isKnownNode(c.From.Node) || !isKnownNode(c.To.Node) {
			continue
		}
		succ[c.From.Node] = c.To.Node
		succRoute[c.From.Node] = routeOf(c.From.Port)
		outDeg[c.From.Node]++
		pred[c.To.Node]++
	}

	var starts []string
	if outDeg[ast.Start] == 1 {
		starts = append(starts, ast.Start)
	}
	for _, inst := range w.Instances {
		if outDeg[inst.ID] == 1 && pred[inst.ID] != 1 {
			starts = append(starts, inst.ID)
		}
	}
	sort.Strings(starts)

	inRun := map[string]bool{}
	var newMacros []ast.Macro
	for _, start := range starts {
		if inRun[start] {
			continue
		}
		run := []string{start}
		cur := start
		for outDeg[cur] == 1 {
			next := succ[cur]
			if next != ast.Exit && pred[next] != 1 {
				break
			}
			cur = next
			run = append(run, cur)
		}
		if len(run) < 3 {
			continue
		}
		steps := make([]ast.PathStep, len(run))
		for i, id := range run {
			steps[i] = ast.PathStep{Node: id, Route: succRoute[id]}
		}
		candidate := ast.Macro{Kind: ast.MacroPath, Path: steps}
		if alreadyRecorded(w, candidate) {
			for _, id := range run {
				inRun[id] = true
			}
			continue
		}
		newMacros = append(newMacros, candidate)
		for _, id := range run {
			inRun[id] = true
		}
	}

	if len(newMacros) == 0 {
		return w, nil
	}
	result := w.Clone()
	result.Macros = append(append([]ast.Macro{}, w.Macros...), newMacros...)
	return result, nil
}

// routeOf maps a literal control-flow port name to the Route a path
// macro step departing it should record. Anything other than the
// failure port is treated as the ok route, including Start's "execute"
// port, which has no route of its own.
func routeOf(port string) ast.Route {
	if port == "failure" {
		return ast.RouteFail
	}
	return ast.RouteOK
}

func alreadyRecorded(w *ast.Workflow, candidate ast.Macro) bool {
	for _, m := range w.Macros {
		if m.Kind != ast.MacroPath || len(m.Path) != len(candidate.Path) {
			continue
		}
		match := true
		for i := range m.Path {
			if m.Path[i] != candidate.Path[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
