// Package macro expands the sugar macros a workflow's annotations may
// record (coerce, path, fanOut, fanIn, map) into their literal
// connections (§4.2). Expansion is additive and idempotent: running it
// twice over an already-expanded workflow produces the same connection
// set, because synthetic coercion node types and instances are only
// added once per macro, and the final de-duplication pass collapses any
// connection that two different macros happened to imply identically.
package macro

import (
	"fmt"

	"github.com/flowweaver/compiler/internal/ast"
)

// Control-flow port names every node type is assumed to expose. The
// annotation grammar does not let a node type customise these, so path
// expansion can hard-code them.
const (
	portExecute = "execute"
	portSuccess = "success"
	portFailure = "failure"
)

// coercionNodeTypes is the canonical, fixed set of synthetic node types
// a coerce macro may instantiate. Each takes a single "value" input
// (ANY-typed, except __fw_parseJSON, whose input is STRING) and produces
// a single typed "value" output.
var coercionNodeTypes = map[ast.CoerceKind]ast.NodeType{
	ast.CoerceString: {
		Name: "__fw_toString", FunctionName: "__fw_toString", Variant: ast.VariantCoercion,
		Inputs:  map[string]ast.PortDef{"value": {DataType: ast.Any}},
		Outputs: map[string]ast.PortDef{"value": {DataType: ast.String}},
	},
	ast.CoerceNumber: {
		Name: "__fw_toNumber", FunctionName: "__fw_toNumber", Variant: ast.VariantCoercion,
		Inputs:  map[string]ast.PortDef{"value": {DataType: ast.Any}},
		Outputs: map[string]ast.PortDef{"value": {DataType: ast.Number}},
	},
	ast.CoerceBoolean: {
		Name: "__fw_toBoolean", FunctionName: "__fw_toBoolean", Variant: ast.VariantCoercion,
		Inputs:  map[string]ast.PortDef{"value": {DataType: ast.Any}},
		Outputs: map[string]ast.PortDef{"value": {DataType: ast.Boolean}},
	},
	ast.CoerceJSON: {
		Name: "__fw_toJSON", FunctionName: "__fw_toJSON", Variant: ast.VariantCoercion,
		Inputs:  map[string]ast.PortDef{"value": {DataType: ast.Any}},
		Outputs: map[string]ast.PortDef{"value": {DataType: ast.String}},
	},
	ast.CoerceObject: {
		Name: "__fw_parseJSON", FunctionName: "__fw_parseJSON", Variant: ast.VariantCoercion,
		Inputs:  map[string]ast.PortDef{"value": {DataType: ast.String}},
		Outputs: map[string]ast.PortDef{"value": {DataType: ast.Object}},
	},
}

// CoercionNodeType returns the canonical synthetic node type for kind,
// if one exists.
func CoercionNodeType(kind ast.CoerceKind) (ast.NodeType, bool) {
	nt, ok := coercionNodeTypes[kind]
	return nt, ok
}

// Expand rewrites w's macros into literal connections, returning a new
// Workflow. w itself is never mutated. Returns an error when a coerce
// macro names an unrecognised CoerceKind, when a coerce macro's instance
// id collides with an unrelated instance or with a coercion of another
// kind, or when the queued edits fail to commit; path/fanOut/fanIn/map
// macros degrade silently on missing fields since they are already
// parser-validated shapes.
func Expand(w *ast.Workflow) (*ast.Workflow, error) {
	draft := ast.NewDraft(w)
	synthesized := map[string]ast.CoerceKind{}

	for i, m := range w.Macros {
		switch m.Kind {
		case ast.MacroCoerce:
			if err := expandCoerce(w, draft, m, i, synthesized); err != nil {
				return nil, err
			}
		case ast.MacroPath:
			expandPath(draft, m)
		case ast.MacroFanOut:
			expandFanOut(draft, m)
		case ast.MacroFanIn:
			expandFanIn(draft, m)
		case ast.MacroMap:
			expandMap(draft, m)
		}
	}

	result, err := ast.Commit(w, draft)
	if err != nil {
		return nil, fmt.Errorf("macro: %w", err)
	}
	return dedupe(result), nil
}

// expandCoerce instantiates the synthetic coercion node a coerce macro
// names and wires its value ports, or fails if the macro's ID collides
// with an unrelated instance (§4.2). Two cases look alike in the
// instance set but must be told apart: re-running Expand over a
// workflow it already expanded is idempotent (the same-kind coercion
// instance is already there from the prior pass), while a macro ID
// that names some other, pre-existing instance is a genuine collision.
func expandCoerce(w *ast.Workflow, draft *ast.Draft, m ast.Macro, idx int, synthesized map[string]ast.CoerceKind) error {
	nt, ok := coercionNodeTypes[m.As]
	if !ok {
		return fmt.Errorf("macro: coerce %q: unrecognised coercion kind %q", m.ID, m.As)
	}
	draft.AddNodeType(nt)

	instID := m.ID
	if instID == "" {
		instID = fmt.Sprintf("__coerce_%d", idx)
	}

	switch kind, seenThisRun := synthesized[instID]; {
	case seenThisRun:
		if kind != m.As {
			return fmt.Errorf("macro: coerce %q: instance id %q already used by a %s coercion", m.ID, instID, kind)
		}
	default:
		if existing, ok := w.GetNode(instID); ok {
			if existing.NodeType != nt.Key() {
				return fmt.Errorf("macro: coerce %q: instance id %q collides with existing instance of type %q", m.ID, instID, existing.NodeType)
			}
		} else {
			draft.AddInstance(ast.NodeInstance{ID: instID, NodeType: nt.Key()})
		}
	}
	synthesized[instID] = m.As

	draft.AddConnection(ast.Connection{From: m.Source, To: ast.PortRef{Node: instID, Port: "value"}})
	draft.AddConnection(ast.Connection{From: ast.PortRef{Node: instID, Port: "value"}, To: m.Target})
	return nil
}

func expandPath(draft *ast.Draft, m ast.Macro) {
	for _, c := range pathConnections(m) {
		draft.AddConnection(c)
	}
}

func expandFanOut(draft *ast.Draft, m ast.Macro) {
	for _, c := range fanOutConnections(m) {
		draft.AddConnection(c)
	}
}

func expandFanIn(draft *ast.Draft, m ast.Macro) {
	for _, c := range fanInConnections(m) {
		draft.AddConnection(c)
	}
}

func expandMap(draft *ast.Draft, m ast.Macro) {
	for _, c := range mapConnections(m) {
		draft.AddConnection(c)
	}
}

// pathConnections expands a path macro's hops into literal connections.
// Start and Exit are valid hop endpoints (§4.5): a hop departing Start
// always leaves via its control-flow "execute" port rather than a
// success/failure route, and a hop arriving at Exit lands on the exit
// port of the same name as the port it departed from ("success",
// "failure", or "execute" for a direct Start -> Exit hop), mirroring how the
// resolver infers exit ports from whatever port name an authored
// connection used.
func pathConnections(m ast.Macro) []ast.Connection {
	var out []ast.Connection
	for i := 0; i+1 < len(m.Path); i++ {
		from := m.Path[i]
		to := m.Path[i+1]

		fromPort := portSuccess
		if from.Route == ast.RouteFail {
			fromPort = portFailure
		}
		if from.Node == ast.Start {
			fromPort = portExecute
		}

		toPort := portExecute
		if to.Node == ast.Exit {
			toPort = fromPort
		}

		out = append(out, ast.Connection{
			From: ast.PortRef{Node: from.Node, Port: fromPort},
			To:   ast.PortRef{Node: to.Node, Port: toPort},
		})
	}
	return out
}

func fanOutConnections(m ast.Macro) []ast.Connection {
	hub := ast.PortRef{Node: m.Hub, Port: m.HubPort}
	out := make([]ast.Connection, 0, len(m.Targets))
	for _, t := range m.Targets {
		out = append(out, ast.Connection{From: hub, To: t})
	}
	return out
}

func fanInConnections(m ast.Macro) []ast.Connection {
	hub := ast.PortRef{Node: m.Hub, Port: m.HubPort}
	out := make([]ast.Connection, 0, len(m.Targets))
	for _, s := range m.Targets {
		out = append(out, ast.Connection{From: s, To: hub})
	}
	return out
}

func mapConnections(m ast.Macro) []ast.Connection {
	out := make([]ast.Connection, 0, len(m.Pairs))
	for _, p := range m.Pairs {
		out = append(out, ast.Connection{From: p.From, To: p.To})
	}
	return out
}

// ImpliedConnections returns the literal connections a non-coerce macro
// expands to, without needing a Draft or an enclosing Workflow. Used by
// the transformer pipeline to check whether a macro's sugar is still
// backed by real connections. Coerce macros are not supported here since
// their expansion also synthesizes a node instance; callers should treat
// them as always current.
func ImpliedConnections(m ast.Macro) []ast.Connection {
	switch m.Kind {
	case ast.MacroPath:
		return pathConnections(m)
	case ast.MacroFanOut:
		return fanOutConnections(m)
	case ast.MacroFanIn:
		return fanInConnections(m)
	case ast.MacroMap:
		return mapConnections(m)
	default:
		return nil
	}
}

// dedupe drops connections that repeat an earlier (from,to,coerce)
// tuple, keeping the first occurrence's metadata.
func dedupe(w *ast.Workflow) *ast.Workflow {
	seen := make(map[string]bool, len(w.Connections))
	out := make([]ast.Connection, 0, len(w.Connections))
	for _, c := range w.Connections {
		k := c.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	result := w.Clone()
	result.Connections = out
	return result
}
