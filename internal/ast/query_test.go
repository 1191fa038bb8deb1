package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepNodeType(key string) NodeType {
	return NodeType{
		Name: key, FunctionName: key,
		Inputs:  map[string]PortDef{"execute": {DataType: Step, IsControlFlow: true}},
		Outputs: map[string]PortDef{"success": {DataType: Step, IsControlFlow: true}, "result": {DataType: String}},
	}
}

func TestResolveNodeTypePrefersFunctionName(t *testing.T) {
	w := &Workflow{NodeTypes: []NodeType{{Name: "Adder", FunctionName: "add"}}}
	nt, ok := w.ResolveNodeType("add")
	require.True(t, ok)
	assert.Equal(t, "Adder", nt.Name)
}

func TestGetDependenciesExcludesControlFlowAndStart(t *testing.T) {
	sink := stepNodeType("sink")
	sink.Inputs["value"] = PortDef{DataType: String}
	w := &Workflow{
		NodeTypes: []NodeType{stepNodeType("n"), sink},
		Instances: []NodeInstance{{ID: "a", NodeType: "n"}, {ID: "b", NodeType: "sink"}},
		Connections: []Connection{
			{From: PortRef{Node: Start, Port: "execute"}, To: PortRef{Node: "a", Port: "execute"}},
			{From: PortRef{Node: "a", Port: "success"}, To: PortRef{Node: "b", Port: "execute"}},
			{From: PortRef{Node: "a", Port: "result"}, To: PortRef{Node: "b", Port: "value"}},
		},
	}
	deps := w.GetDependencies("b")
	assert.Equal(t, []string{"a"}, deps)
}

func TestGetTopologicalOrderTieBreaksByID(t *testing.T) {
	w := &Workflow{
		NodeTypes: []NodeType{stepNodeType("n")},
		Instances: []NodeInstance{{ID: "z", NodeType: "n"}, {ID: "a", NodeType: "n"}},
	}
	order, err := w.GetTopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z"}, order)
}

func TestGetTopologicalOrderDetectsCycle(t *testing.T) {
	w := &Workflow{
		NodeTypes: []NodeType{stepNodeType("n")},
		Instances: []NodeInstance{{ID: "a", NodeType: "n"}, {ID: "b", NodeType: "n"}},
		Connections: []Connection{
			{From: PortRef{Node: "a", Port: "success"}, To: PortRef{Node: "b", Port: "execute"}},
			{From: PortRef{Node: "b", Port: "success"}, To: PortRef{Node: "a", Port: "execute"}},
		},
	}
	_, err := w.GetTopologicalOrder()
	assert.Error(t, err)
}

func TestGetExecutionGroupsLayersIndependentNodes(t *testing.T) {
	w := &Workflow{
		NodeTypes: []NodeType{stepNodeType("n")},
		Instances: []NodeInstance{{ID: "a", NodeType: "n"}, {ID: "b", NodeType: "n"}, {ID: "c", NodeType: "n"}},
		Connections: []Connection{
			{From: PortRef{Node: "a", Port: "success"}, To: PortRef{Node: "c", Port: "execute"}},
			{From: PortRef{Node: "b", Port: "success"}, To: PortRef{Node: "c", Port: "execute"}},
		},
	}
	groups, err := w.GetExecutionGroups()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, groups)
}

func TestFindDeadEndsFlagsNodeThatNeverReachesExit(t *testing.T) {
	w := &Workflow{
		NodeTypes: []NodeType{stepNodeType("n")},
		Instances: []NodeInstance{{ID: "a", NodeType: "n"}, {ID: "b", NodeType: "n"}},
		Connections: []Connection{
			{From: PortRef{Node: "a", Port: "success"}, To: PortRef{Node: "b", Port: "execute"}},
			{From: PortRef{Node: "b", Port: "success"}, To: PortRef{Node: Exit, Port: "done"}},
		},
	}
	assert.Empty(t, w.FindDeadEnds())

	w.Connections = w.Connections[:1] // b no longer reaches Exit, so neither does a
	assert.Equal(t, []string{"a", "b"}, w.FindDeadEnds())
}

func TestFindIsolatedNodesFlagsNodeWithNoConnections(t *testing.T) {
	w := &Workflow{
		NodeTypes: []NodeType{stepNodeType("n")},
		Instances: []NodeInstance{{ID: "a", NodeType: "n"}, {ID: "lonely", NodeType: "n"}},
	}
	assert.Equal(t, []string{"a", "lonely"}, w.FindIsolatedNodes())
}

func TestFindDisconnectedOutputPortsIgnoresControlFlowPorts(t *testing.T) {
	w := &Workflow{
		NodeTypes: []NodeType{stepNodeType("n")},
		Instances: []NodeInstance{{ID: "a", NodeType: "n"}},
	}
	assert.Equal(t, []string{"a.result"}, w.FindDisconnectedOutputPorts())
}

func TestIsScopedChildExcludesInstanceFromMainFlow(t *testing.T) {
	parentType := NodeType{
		Name: "forEach", FunctionName: "forEach", Scope: "item",
		Inputs:  map[string]PortDef{"execute": {DataType: Step}},
		Outputs: map[string]PortDef{"success": {DataType: Step}},
	}
	w := &Workflow{
		NodeTypes: []NodeType{parentType, stepNodeType("n")},
		Instances: []NodeInstance{
			{ID: "loop", NodeType: "forEach"},
			{ID: "body", NodeType: "n", Parent: &NodeParent{ID: "loop", Scope: "item"}},
		},
	}
	order, err := w.GetTopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"loop"}, order)
}
