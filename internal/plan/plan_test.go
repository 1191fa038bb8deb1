package plan

import (
	"testing"

	"github.com/flowweaver/compiler/internal/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOrdersLinearFlow(t *testing.T) {
	w := &ast.Workflow{
		NodeTypes: []ast.NodeType{{
			Name: "n", FunctionName: "n",
			Inputs:  map[string]ast.PortDef{"execute": {DataType: ast.Step}},
			Outputs: map[string]ast.PortDef{"success": {DataType: ast.Step}},
		}},
		Instances: []ast.NodeInstance{{ID: "b", NodeType: "n"}, {ID: "a", NodeType: "n"}},
		Connections: []ast.Connection{
			{From: ast.PortRef{Node: "a", Port: "success"}, To: ast.PortRef{Node: "b", Port: "execute"}},
		},
	}
	p, err := Build(w)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.Order)
	assert.Equal(t, [][]string{{"a"}, {"b"}}, p.Groups)
}

func TestBuildErrorsOnCycle(t *testing.T) {
	w := &ast.Workflow{
		NodeTypes: []ast.NodeType{{
			Name: "n", FunctionName: "n",
			Inputs:  map[string]ast.PortDef{"execute": {DataType: ast.Step}},
			Outputs: map[string]ast.PortDef{"success": {DataType: ast.Step}},
		}},
		Instances: []ast.NodeInstance{{ID: "a", NodeType: "n"}, {ID: "b", NodeType: "n"}},
		Connections: []ast.Connection{
			{From: ast.PortRef{Node: "a", Port: "success"}, To: ast.PortRef{Node: "b", Port: "execute"}},
			{From: ast.PortRef{Node: "b", Port: "success"}, To: ast.PortRef{Node: "a", Port: "execute"}},
		},
	}
	_, err := Build(w)
	assert.Error(t, err)
}

func TestBuildRecursesIntoScopes(t *testing.T) {
	nt := ast.NodeType{
		Name: "forEach", FunctionName: "forEach", Scope: "item",
		Inputs:  map[string]ast.PortDef{"execute": {DataType: ast.Step}},
		Outputs: map[string]ast.PortDef{"success": {DataType: ast.Step}},
	}
	w := &ast.Workflow{
		NodeTypes: []ast.NodeType{nt},
		Instances: []ast.NodeInstance{
			{ID: "loop1", NodeType: "forEach"},
			{ID: "body1", NodeType: "forEach", Parent: &ast.NodeParent{ID: "loop1", Scope: "item"}},
			{ID: "body2", NodeType: "forEach", Parent: &ast.NodeParent{ID: "loop1", Scope: "item"}},
		},
		Connections: []ast.Connection{
			{From: ast.PortRef{Node: "body1", Port: "success"}, To: ast.PortRef{Node: "body2", Port: "execute"}},
		},
		Scopes: map[string][]string{"loop1.item": {"body1", "body2"}},
	}
	p, err := Build(w)
	require.NoError(t, err)
	assert.Equal(t, []string{"loop1"}, p.Order)
	require.Contains(t, p.Scopes, "loop1.item")
	assert.Equal(t, []string{"body1", "body2"}, p.Scopes["loop1.item"].Order)
}
