package validate

import (
	"fmt"

	"github.com/flowweaver/compiler/internal/ast"
	"github.com/flowweaver/compiler/internal/macro"
	"github.com/flowweaver/compiler/internal/parser"
)

func newDiag(sev Severity, code, nodeID, port, format string, args ...any) Diagnostic {
	return Diagnostic{
		Code: code, Severity: sev, NodeID: nodeID, Port: port,
		Message: fmt.Sprintf(format, args...),
	}
}

// Options tunes validator leniency for situations the core spec leaves
// as a deployment choice rather than a fixed rule.
type Options struct {
	// ScopeLeniency suppresses SCOPE_WITHOUT_CONTEXT for an instance whose
	// parent scope is not the @scope its parent's node type declares. The
	// resolver leaves such an instance out of Workflow.Scopes either way.
	ScopeLeniency bool
}

// coreRules runs every fixed structural and type rule against w and
// appends their diagnostics to rep.
func coreRules(w *ast.Workflow, opts Options, rep *Report) {
	checkNodeTypes(w, rep)
	checkDuplicateInstanceIDs(w, rep)
	checkUnknownNodeType(w, rep)
	checkPortReferences(w, rep)
	checkCycles(w, rep)
	checkDeadEnds(w, rep)
	checkIsolated(w, rep)
	checkDisconnectedOutputs(w, rep)
	checkTypeCompatibility(w, rep)
	checkCoerceMacros(w, rep)
	checkScopes(w, opts, rep)
}

func checkNodeTypes(w *ast.Workflow, rep *Report) {
	for _, nt := range w.NodeTypes {
		if nt.Key() == "" {
			rep.add(errDiag("INVALID_NODE_TYPE", "", "", "node type declares neither a name nor a functionName"))
			continue
		}
		if nt.Scope != "" && !parser.IsIdentifier(nt.Scope) {
			rep.add(errDiag("SCOPE_NOT_IDENTIFIER", "", "", "node type %q declares non-identifier scope %q", nt.Key(), nt.Scope))
		}
	}
}

func checkDuplicateInstanceIDs(w *ast.Workflow, rep *Report) {
	seen := map[string]bool{}
	for _, inst := range w.Instances {
		if seen[inst.ID] {
			rep.add(errDiag("DUPLICATE_INSTANCE_ID", inst.ID, "", "instance id %q is declared more than once", inst.ID))
			continue
		}
		seen[inst.ID] = true
	}
}

func checkUnknownNodeType(w *ast.Workflow, rep *Report) {
	for _, inst := range w.Instances {
		if _, ok := w.ResolveNodeType(inst.NodeType); !ok {
			rep.add(errDiag("UNKNOWN_NODE_TYPE", inst.ID, "", "instance %q references unknown node type %q", inst.ID, inst.NodeType))
		}
	}
}

// resolvePortDef resolves the PortDef behind ref, looking at a node
// type's Outputs for a source endpoint and Inputs for a target one,
// with Start/Exit falling back to the workflow's inferred port maps.
func resolvePortDef(w *ast.Workflow, ref ast.PortRef, isInput bool) (ast.PortDef, bool) {
	if ref.Node == ast.Start {
		pd, ok := w.StartPorts[ref.Port]
		return pd, ok
	}
	if ref.Node == ast.Exit {
		pd, ok := w.ExitPorts[ref.Port]
		return pd, ok
	}
	inst, ok := w.GetNode(ref.Node)
	if !ok {
		return ast.PortDef{}, false
	}
	nt, ok := w.ResolveNodeType(inst.NodeType)
	if !ok {
		return ast.PortDef{}, false
	}
	if isInput {
		pd, ok := nt.Inputs[ref.Port]
		return pd, ok
	}
	pd, ok := nt.Outputs[ref.Port]
	return pd, ok
}

func checkPortReferences(w *ast.Workflow, rep *Report) {
	for _, c := range w.Connections {
		if c.From.Node == "" || c.From.Port == "" || c.To.Node == "" || c.To.Port == "" {
			rep.add(errDiag("INVALID_PORT_REFERENCE_FORMAT", c.From.Node, c.From.Port,
				"connection %q -> %q is missing a node or port segment", c.From.Qualified(), c.To.Qualified()))
			continue
		}
		if _, ok := w.GetNode(c.From.Node); ok {
			if _, ok := resolvePortDef(w, c.From, false); !ok {
				rep.add(errDiag("UNKNOWN_PORT", c.From.Node, c.From.Port, "output port %q not declared on instance %q", c.From.Port, c.From.Node))
			}
		}
		if _, ok := w.GetNode(c.To.Node); ok {
			if _, ok := resolvePortDef(w, c.To, true); !ok {
				rep.add(errDiag("UNKNOWN_PORT", c.To.Node, c.To.Port, "input port %q not declared on instance %q", c.To.Port, c.To.Node))
			}
		}
	}
}

func checkCycles(w *ast.Workflow, rep *Report) {
	if _, err := w.GetTopologicalOrder(); err != nil {
		rep.add(errDiag("CYCLE_IN_MAIN_FLOW", "", "", "%s", err.Error()))
	}
}

func checkDeadEnds(w *ast.Workflow, rep *Report) {
	for _, id := range w.FindDeadEnds() {
		rep.add(warnDiag("DEAD_END_NODE", id, "", "instance %q has no control-flow path to Exit", id))
	}
}

func checkIsolated(w *ast.Workflow, rep *Report) {
	for _, id := range w.FindIsolatedNodes() {
		rep.add(warnDiag("ISOLATED_NODE", id, "", "instance %q has no connections", id))
	}
}

func checkDisconnectedOutputs(w *ast.Workflow, rep *Report) {
	for _, qualified := range w.FindDisconnectedOutputPorts() {
		rep.add(warnDiag("DISCONNECTED_OUTPUT_PORT", "", "", "output port %q is never consumed", qualified))
	}
}

// classifyCoercion buckets an implicit from->to type pairing.
func classifyCoercion(from, to ast.DataType) string {
	if from == to || from == ast.Any || to == ast.Any {
		return "exact"
	}
	if from == ast.Step || to == ast.Step || from == ast.Function || to == ast.Function {
		return "incompatible"
	}
	switch {
	case from == ast.Object && to == ast.Array, from == ast.Array && to == ast.Object:
		return "incompatible"
	case (from == ast.Object || from == ast.Array) && to == ast.String:
		return "lossy"
	case to == ast.String && (from == ast.Number || from == ast.Boolean):
		return "unusual"
	case from == ast.String && (to == ast.Number || to == ast.Boolean):
		return "unusual"
	case from == ast.Number && to == ast.Boolean, from == ast.Boolean && to == ast.Number:
		return "lossy"
	default:
		return "incompatible"
	}
}

func checkTypeCompatibility(w *ast.Workflow, rep *Report) {
	for _, c := range w.Connections {
		if c.Coerce != "" {
			continue // explicit coercion hint: not type-checked here or by checkCoerceMacros, which reads coerce macros only
		}
		fromDef, fromOK := resolvePortDef(w, c.From, false)
		toDef, toOK := resolvePortDef(w, c.To, true)
		if !fromOK || !toOK {
			continue
		}
		switch classifyCoercion(fromDef.DataType, toDef.DataType) {
		case "incompatible":
			rep.add(errDiag("TYPE_INCOMPATIBLE", c.To.Node, c.To.Port,
				"%s (%s) cannot connect to %s (%s) without a coercion", c.From.Qualified(), fromDef.DataType, c.To.Qualified(), toDef.DataType))
		case "lossy":
			code := "TYPE_MISMATCH"
			if w.StrictTypes {
				rep.add(errDiag(code, c.To.Node, c.To.Port,
					"%s (%s) to %s (%s) loses information with no explicit coercion", c.From.Qualified(), fromDef.DataType, c.To.Qualified(), toDef.DataType))
			} else {
				rep.add(warnDiag("LOSSY_TYPE_COERCION", c.To.Node, c.To.Port,
					"%s (%s) to %s (%s) loses information with no explicit coercion", c.From.Qualified(), fromDef.DataType, c.To.Qualified(), toDef.DataType))
			}
		case "unusual":
			if w.StrictTypes {
				rep.add(errDiag("TYPE_MISMATCH", c.To.Node, c.To.Port,
					"%s (%s) to %s (%s) requires an explicit coercion under strict types", c.From.Qualified(), fromDef.DataType, c.To.Qualified(), toDef.DataType))
			} else {
				rep.add(warnDiag("UNUSUAL_TYPE_COERCION", c.To.Node, c.To.Port,
					"%s (%s) to %s (%s) is an implicit coercion", c.From.Qualified(), fromDef.DataType, c.To.Qualified(), toDef.DataType))
			}
		}
	}
}

func checkCoerceMacros(w *ast.Workflow, rep *Report) {
	for _, m := range w.Macros {
		if m.Kind != ast.MacroCoerce {
			continue
		}
		nt, ok := macro.CoercionNodeType(m.As)
		if !ok {
			rep.add(errDiag("COERCION_NODETYPE_MISSING", m.ID, "", "coerce macro %q names unrecognised kind %q", m.ID, m.As))
			continue
		}
		fromDef, fromOK := resolvePortDef(w, m.Source, false)
		toDef, toOK := resolvePortDef(w, m.Target, true)

		if fromOK && (fromDef.DataType == ast.Step || fromDef.DataType == ast.Function) {
			rep.add(errDiag("COERCE_ON_FUNCTION_PORT", m.Source.Node, m.Source.Port, "coerce macro %q sources a %s port", m.ID, fromDef.DataType))
		}
		if toOK && (toDef.DataType == ast.Step || toDef.DataType == ast.Function) {
			rep.add(errDiag("COERCE_ON_FUNCTION_PORT", m.Target.Node, m.Target.Port, "coerce macro %q targets a %s port", m.ID, toDef.DataType))
		}

		produced := nt.Outputs["value"].DataType
		if toOK && toDef.DataType != ast.Any && toDef.DataType != produced {
			rep.add(warnDiag("COERCE_TYPE_MISMATCH", m.Target.Node, m.Target.Port,
				"coerce macro %q produces %s but target port %q expects %s", m.ID, produced, m.Target.Qualified(), toDef.DataType))
		}
		if fromOK && toOK && fromDef.DataType == toDef.DataType {
			rep.add(warnDiag("REDUNDANT_COERCE", m.ID, "", "coerce macro %q converts %s to itself", m.ID, fromDef.DataType))
		}
	}
}

func checkScopes(w *ast.Workflow, opts Options, rep *Report) {
	for _, inst := range w.Instances {
		if inst.Parent == nil {
			continue
		}
		parent, ok := w.GetNode(inst.Parent.ID)
		if !ok {
			continue
		}
		parentType, ok := w.ResolveNodeType(parent.NodeType)
		if !ok {
			continue
		}
		if parentType.Scope != inst.Parent.Scope {
			if opts.ScopeLeniency {
				continue
			}
			rep.add(warnDiag("SCOPE_WITHOUT_CONTEXT", inst.ID, "", "instance %q declares parent scope %q but %q has no matching @scope", inst.ID, inst.Parent.Scope, parent.ID))
		}
	}
}
