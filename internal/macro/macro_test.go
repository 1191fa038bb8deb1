package macro

import (
	"testing"

	"github.com/flowweaver/compiler/internal/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandCoerceInjectsInstanceAndConnections(t *testing.T) {
	w := &ast.Workflow{
		Name: "wf",
		Macros: []ast.Macro{
			{
				Kind:   ast.MacroCoerce,
				ID:     "c1",
				Source: ast.PortRef{Node: "a", Port: "out"},
				Target: ast.PortRef{Node: "b", Port: "in"},
				As:     ast.CoerceNumber,
			},
		},
	}

	result, err := Expand(w)
	require.NoError(t, err)

	require.Len(t, result.NodeTypes, 1)
	assert.Equal(t, "__fw_toNumber", result.NodeTypes[0].Key())

	require.Len(t, result.Instances, 1)
	assert.Equal(t, "c1", result.Instances[0].ID)
	assert.Equal(t, "__fw_toNumber", result.Instances[0].NodeType)

	require.Len(t, result.Connections, 2)
	assert.Equal(t, "a", result.Connections[0].From.Node)
	assert.Equal(t, "c1", result.Connections[0].To.Node)
	assert.Equal(t, "c1", result.Connections[1].From.Node)
	assert.Equal(t, "b", result.Connections[1].To.Node)

	assert.Empty(t, w.NodeTypes, "original workflow must not be mutated")
}

func TestExpandCoerceUnknownKindErrors(t *testing.T) {
	w := &ast.Workflow{
		Macros: []ast.Macro{{Kind: ast.MacroCoerce, As: ast.CoerceKind("not-a-kind")}},
	}
	_, err := Expand(w)
	assert.Error(t, err)
}

func TestExpandCoerceIsIdempotentAcrossReRuns(t *testing.T) {
	w := &ast.Workflow{
		Macros: []ast.Macro{
			{Kind: ast.MacroCoerce, ID: "c1",
				Source: ast.PortRef{Node: "a", Port: "out"}, Target: ast.PortRef{Node: "b", Port: "in"},
				As: ast.CoerceNumber},
		},
	}
	first, err := Expand(w)
	require.NoError(t, err)

	second, err := Expand(first)
	require.NoError(t, err)
	assert.Len(t, second.Instances, 1, "re-expanding must not duplicate the coercion instance")
	assert.Len(t, second.Connections, 2)
}

func TestExpandCoerceErrorsOnIDCollisionWithUnrelatedInstance(t *testing.T) {
	w := &ast.Workflow{
		NodeTypes: []ast.NodeType{{Name: "other", FunctionName: "other"}},
		Instances: []ast.NodeInstance{{ID: "c1", NodeType: "other"}},
		Macros: []ast.Macro{
			{Kind: ast.MacroCoerce, ID: "c1",
				Source: ast.PortRef{Node: "a", Port: "out"}, Target: ast.PortRef{Node: "b", Port: "in"},
				As: ast.CoerceNumber},
		},
	}
	_, err := Expand(w)
	assert.Error(t, err)
}

func TestExpandPathChainsControlFlow(t *testing.T) {
	w := &ast.Workflow{
		Macros: []ast.Macro{
			{Kind: ast.MacroPath, Path: []ast.PathStep{
				{Node: "a"}, {Node: "b", Route: ast.RouteFail}, {Node: "c"},
			}},
		},
	}
	result, err := Expand(w)
	require.NoError(t, err)
	require.Len(t, result.Connections, 2)
	assert.Equal(t, "success", result.Connections[0].From.Port)
	assert.Equal(t, "failure", result.Connections[1].From.Port)
	assert.Equal(t, "execute", result.Connections[1].To.Port)
}

func TestExpandFanOutAndFanIn(t *testing.T) {
	w := &ast.Workflow{
		Macros: []ast.Macro{
			{Kind: ast.MacroFanOut, Hub: "h", HubPort: "out", Targets: []ast.PortRef{
				{Node: "x", Port: "in"}, {Node: "y", Port: "in"},
			}},
			{Kind: ast.MacroFanIn, Hub: "h2", HubPort: "in", Targets: []ast.PortRef{
				{Node: "p", Port: "out"}, {Node: "q", Port: "out"},
			}},
		},
	}
	result, err := Expand(w)
	require.NoError(t, err)
	require.Len(t, result.Connections, 4)
}

func TestExpandDeduplicatesIdenticalConnections(t *testing.T) {
	w := &ast.Workflow{
		Connections: []ast.Connection{
			{From: ast.PortRef{Node: "a", Port: "out"}, To: ast.PortRef{Node: "b", Port: "in"}},
		},
		Macros: []ast.Macro{
			{Kind: ast.MacroMap, Pairs: []ast.MapPair{
				{From: ast.PortRef{Node: "a", Port: "out"}, To: ast.PortRef{Node: "b", Port: "in"}},
			}},
		},
	}
	result, err := Expand(w)
	require.NoError(t, err)
	assert.Len(t, result.Connections, 1)
}

func TestExpandIsIdempotentOnAlreadyExpandedWorkflow(t *testing.T) {
	w := &ast.Workflow{
		Macros: []ast.Macro{
			{Kind: ast.MacroCoerce, ID: "c1",
				Source: ast.PortRef{Node: "a", Port: "out"},
				Target: ast.PortRef{Node: "b", Port: "in"},
				As:     ast.CoerceString,
			},
		},
	}
	once, err := Expand(w)
	require.NoError(t, err)
	twice, err := Expand(once)
	require.NoError(t, err)
	assert.Equal(t, len(once.Instances), len(twice.Instances))
	assert.Equal(t, len(once.Connections), len(twice.Connections))
}
