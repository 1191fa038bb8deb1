package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowweaver/compiler/internal/ast"
	"github.com/flowweaver/compiler/internal/logger"
	"github.com/flowweaver/compiler/internal/validate"
)

func newTestHandler() *Handler {
	return &Handler{
		log:          logger.New("error", "text"),
		registry:     validate.NewRuleRegistry(),
		validateOpts: validate.Options{},
	}
}

func doJSON(t *testing.T, h func(echo.Context) error, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h(c))
	return rec
}

func TestCompileReturnsWorkflowsFor200(t *testing.T) {
	h := newTestHandler()
	source := "// @workflow Greet [functionName:greet]\n// @param name - the name to greet\n// @returns {STRING} message - the greeting\n"
	rec := doJSON(t, h.Compile, "/compile", CompileRequest{Source: source})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp CompileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Workflows, 1)
	assert.Equal(t, "Greet", resp.Workflows[0].Name)
}

func TestCompileWithInstancesPopulatesPlans(t *testing.T) {
	h := newTestHandler()
	source := "// @nodeType add [functionName:add]\n" +
		"// @input execute [type:step] [isControlFlow]\n" +
		"// @output success [type:step]\n" +
		"// @workflow Calc\n" +
		"// @node a add\n" +
		"// @node b add\n" +
		"// @connect a.success -> b.execute\n"
	rec := doJSON(t, h.Compile, "/compile", CompileRequest{Source: source})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp CompileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Errors)
	require.Len(t, resp.Workflows, 1)
	require.Len(t, resp.Plans, 1)
	assert.NotEmpty(t, resp.Plans[0].Order, "the optimized workflow's execution order must reach the response")
}

func TestCompileMalformedSourceStillReturns200(t *testing.T) {
	h := newTestHandler()
	rec := doJSON(t, h.Compile, "/compile", CompileRequest{Source: "// @scope 123bad\n"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidateReturnsReport(t *testing.T) {
	h := newTestHandler()
	w := ast.Workflow{
		NodeTypes: []ast.NodeType{{Name: "n", FunctionName: "n"}},
		Instances: []ast.NodeInstance{{ID: "a", NodeType: "missing"}},
	}
	rec := doJSON(t, h.Validate, "/validate", w)
	assert.Equal(t, http.StatusOK, rec.Code)

	var report validate.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.False(t, report.Valid)
}

func TestPlanReturns422OnCycle(t *testing.T) {
	h := newTestHandler()
	nt := ast.NodeType{
		Name: "n", FunctionName: "n",
		Inputs:  map[string]ast.PortDef{"execute": {DataType: ast.Step}},
		Outputs: map[string]ast.PortDef{"success": {DataType: ast.Step}},
	}
	w := ast.Workflow{
		NodeTypes: []ast.NodeType{nt},
		Instances: []ast.NodeInstance{{ID: "a", NodeType: "n"}, {ID: "b", NodeType: "n"}},
		Connections: []ast.Connection{
			{From: ast.PortRef{Node: "a", Port: "success"}, To: ast.PortRef{Node: "b", Port: "execute"}},
			{From: ast.PortRef{Node: "b", Port: "success"}, To: ast.PortRef{Node: "a", Port: "execute"}},
		},
	}
	rec := doJSON(t, h.Plan, "/plan", w)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPlanReturnsPlanForAcyclicWorkflow(t *testing.T) {
	h := newTestHandler()
	nt := ast.NodeType{
		Name: "n", FunctionName: "n",
		Inputs:  map[string]ast.PortDef{"execute": {DataType: ast.Step}},
		Outputs: map[string]ast.PortDef{"success": {DataType: ast.Step}},
	}
	w := ast.Workflow{
		NodeTypes: []ast.NodeType{nt},
		Instances: []ast.NodeInstance{{ID: "a", NodeType: "n"}, {ID: "b", NodeType: "n"}},
		Connections: []ast.Connection{
			{From: ast.PortRef{Node: "a", Port: "success"}, To: ast.PortRef{Node: "b", Port: "execute"}},
		},
	}
	rec := doJSON(t, h.Plan, "/plan", w)
	assert.Equal(t, http.StatusOK, rec.Code)
}
