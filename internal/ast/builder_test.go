package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraftAddNodeTypeIsIdempotent(t *testing.T) {
	w := &Workflow{NodeTypes: []NodeType{{Name: "n", FunctionName: "n"}}}
	d := NewDraft(w)
	d.AddNodeType(NodeType{Name: "n", FunctionName: "n"})
	assert.True(t, d.HasNodeType("n"))

	result, err := Commit(w, d)
	require.NoError(t, err)
	assert.Same(t, w, result) // no ops queued, AddNodeType was a no-op
	assert.Len(t, result.NodeTypes, 1)
}

func TestCommitIsNoOpFastPathWhenDraftHasNoOps(t *testing.T) {
	w := &Workflow{Name: "Original"}
	d := NewDraft(w)
	result, err := Commit(w, d)
	require.NoError(t, err)
	assert.Same(t, w, result)
}

func TestCommitAppliesAddInstanceAndConnection(t *testing.T) {
	w := &Workflow{
		NodeTypes: []NodeType{{Name: "n", FunctionName: "n"}},
		Instances: []NodeInstance{{ID: "a", NodeType: "n"}},
	}
	d := NewDraft(w)
	d.AddInstance(NodeInstance{ID: "b", NodeType: "n"})
	d.AddConnection(Connection{From: PortRef{Node: "a", Port: "success"}, To: PortRef{Node: "b", Port: "execute"}})

	result, err := Commit(w, d)
	require.NoError(t, err)
	assert.NotSame(t, w, result)
	assert.Len(t, w.Instances, 1, "original workflow must not be mutated")
	require.Len(t, result.Instances, 2)
	assert.Equal(t, "b", result.Instances[1].ID)
	require.Len(t, result.Connections, 1)
	assert.Equal(t, "a", result.Connections[0].From.Node)
}

func TestCommitAppliesRemoveInstance(t *testing.T) {
	w := &Workflow{
		NodeTypes: []NodeType{{Name: "n", FunctionName: "n"}},
		Instances: []NodeInstance{{ID: "a", NodeType: "n"}, {ID: "b", NodeType: "n"}},
	}
	d := NewDraft(w)
	assert.True(t, d.RemoveInstance("a"))
	assert.False(t, d.RemoveInstance("missing"))

	result, err := Commit(w, d)
	require.NoError(t, err)
	require.Len(t, result.Instances, 1)
	assert.Equal(t, "b", result.Instances[0].ID)
}

func TestDraftRemoveConnectionsFiltersByPredicate(t *testing.T) {
	w := &Workflow{
		Connections: []Connection{
			{From: PortRef{Node: "a", Port: "x"}, To: PortRef{Node: "b", Port: "y"}},
			{From: PortRef{Node: "a", Port: "x"}, To: PortRef{Node: "c", Port: "y"}},
		},
	}
	d := NewDraft(w)
	removed := d.RemoveConnections(func(c Connection) bool { return c.To.Node == "c" })
	assert.Equal(t, 1, removed)

	result, err := Commit(w, d)
	require.NoError(t, err)
	require.Len(t, result.Connections, 1)
	assert.Equal(t, "b", result.Connections[0].To.Node)
}

func TestDraftSetStartPortAddsThenReplaces(t *testing.T) {
	w := &Workflow{}
	d := NewDraft(w)
	d.SetStartPort("trigger", PortDef{DataType: Step})
	result, err := Commit(w, d)
	require.NoError(t, err)
	assert.Equal(t, Step, result.StartPorts["trigger"].DataType)

	d2 := NewDraft(result)
	d2.SetStartPort("trigger", PortDef{DataType: Object})
	result2, err := Commit(result, d2)
	require.NoError(t, err)
	assert.Equal(t, Object, result2.StartPorts["trigger"].DataType)
}

func TestValidatePatchOpsRejectsMissingFields(t *testing.T) {
	assert.NoError(t, ValidatePatchOps([]map[string]any{{"op": "remove", "path": "/instances/0"}}))

	err := ValidatePatchOps([]map[string]any{{"op": "add", "path": "/instances/-"}})
	assert.ErrorContains(t, err, "'value' required")

	err = ValidatePatchOps([]map[string]any{{"path": "/instances/-", "value": 1}})
	assert.ErrorContains(t, err, "missing or invalid 'op'")

	err = ValidatePatchOps([]map[string]any{{"op": "move", "path": "/x"}})
	assert.ErrorContains(t, err, "unsupported operation type")
}

func TestWithoutValidationAllowsDanglingReference(t *testing.T) {
	w := &Workflow{NodeTypes: []NodeType{{Name: "n", FunctionName: "n"}}}
	result, err := WithoutValidation(w, func(d *Draft) {
		d.AddInstance(NodeInstance{ID: "a", NodeType: "missing-type"})
	})
	require.NoError(t, err)
	require.Len(t, result.Instances, 1)
}

func TestWithMinimalValidationCatchesUnresolvedNodeType(t *testing.T) {
	w := &Workflow{NodeTypes: []NodeType{{Name: "n", FunctionName: "n"}}}
	_, err := WithMinimalValidation(w, func(d *Draft) {
		d.AddInstance(NodeInstance{ID: "a", NodeType: "missing-type"})
	})
	assert.ErrorContains(t, err, "unresolved nodeType")
}

func TestWithMinimalValidationCatchesUnknownConnectionEndpoint(t *testing.T) {
	w := &Workflow{
		NodeTypes: []NodeType{{Name: "n", FunctionName: "n"}},
		Instances: []NodeInstance{{ID: "a", NodeType: "n"}},
	}
	_, err := WithMinimalValidation(w, func(d *Draft) {
		d.AddConnection(Connection{From: PortRef{Node: "a", Port: "out"}, To: PortRef{Node: "ghost", Port: "in"}})
	})
	assert.ErrorContains(t, err, "unknown target node")
}

func TestWithMinimalValidationAllowsStartAndExitEndpoints(t *testing.T) {
	w := &Workflow{
		NodeTypes: []NodeType{{Name: "n", FunctionName: "n"}},
		Instances: []NodeInstance{{ID: "a", NodeType: "n"}},
	}
	result, err := WithMinimalValidation(w, func(d *Draft) {
		d.AddConnection(Connection{From: PortRef{Node: Start, Port: "execute"}, To: PortRef{Node: "a", Port: "execute"}})
		d.AddConnection(Connection{From: PortRef{Node: "a", Port: "success"}, To: PortRef{Node: Exit, Port: "done"}})
	})
	require.NoError(t, err)
	assert.Len(t, result.Connections, 2)
}

func TestDraftOpsRoundTripsAsJSONPatch(t *testing.T) {
	w := &Workflow{}
	d := NewDraft(w)
	d.SetStrictTypes(true)
	raw, err := d.Ops()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"strictTypes"`)
}
