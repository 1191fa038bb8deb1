package resolver

import (
	"testing"

	"github.com/flowweaver/compiler/internal/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveNormalizesFunctionNameReference(t *testing.T) {
	w := &ast.Workflow{
		NodeTypes: []ast.NodeType{
			{Name: "Add Numbers", FunctionName: "addNumbers"},
		},
		Instances: []ast.NodeInstance{
			{ID: "n1", NodeType: "Add Numbers"},
		},
	}
	result := Resolve(w)
	require.Len(t, result.Instances, 1)
	assert.Equal(t, "addNumbers", result.Instances[0].NodeType)
	assert.Equal(t, "Add Numbers", w.Instances[0].NodeType, "original must not be mutated")
}

func TestResolveInfersStartPortsAlwaysIncludesExecute(t *testing.T) {
	w := &ast.Workflow{}
	result := Resolve(w)
	def, ok := result.StartPorts["execute"]
	require.True(t, ok)
	assert.Equal(t, ast.Step, def.DataType)
}

func TestResolveInfersStartAndExitPortsFromConnections(t *testing.T) {
	w := &ast.Workflow{
		NodeTypes: []ast.NodeType{
			{Name: "n", FunctionName: "n", Inputs: map[string]ast.PortDef{"in": {DataType: ast.Number}}},
		},
		Instances: []ast.NodeInstance{{ID: "a", NodeType: "n"}},
		Connections: []ast.Connection{
			{From: ast.PortRef{Node: ast.Start, Port: "seed"}, To: ast.PortRef{Node: "a", Port: "in"}},
			{From: ast.PortRef{Node: "a", Port: "in"}, To: ast.PortRef{Node: ast.Exit, Port: "result"}},
		},
	}
	result := Resolve(w)
	assert.Equal(t, ast.Number, result.StartPorts["seed"].DataType)
	assert.Contains(t, result.ExitPorts, "result")
}

func TestResolveComputesScopesForMatchingParent(t *testing.T) {
	w := &ast.Workflow{
		NodeTypes: []ast.NodeType{
			{Name: "forEach", FunctionName: "forEach", Scope: "item"},
		},
		Instances: []ast.NodeInstance{
			{ID: "loop1", NodeType: "forEach"},
			{ID: "child1", NodeType: "forEach", Parent: &ast.NodeParent{ID: "loop1", Scope: "item"}},
		},
	}
	result := Resolve(w)
	assert.Equal(t, []string{"child1"}, result.Scopes["loop1.item"])
}

func TestResolveOmitsScopeWithoutMatchingDeclaration(t *testing.T) {
	w := &ast.Workflow{
		NodeTypes: []ast.NodeType{{Name: "plain", FunctionName: "plain"}},
		Instances: []ast.NodeInstance{
			{ID: "p1", NodeType: "plain"},
			{ID: "c1", NodeType: "plain", Parent: &ast.NodeParent{ID: "p1", Scope: "item"}},
		},
	}
	result := Resolve(w)
	assert.Empty(t, result.Scopes)
}
