// Package parser implements the annotation parser (§4.1): it turns
// annotated source text into a raw AST of ast.Workflow values, one per
// "@workflow" block. It recognises a line-oriented mini-grammar of
// "@tag" directives living inside comments, accumulates warnings for
// unrecognised tags, and never halts on a single malformed line — it
// records a diagnostic and keeps scanning so sibling workflows in the
// same file still parse.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/flowweaver/compiler/internal/ast"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// IsIdentifier reports whether s is a valid scope/identifier token per
// invariant 7: letter or _/$ start, then alphanumerics or _/$.
func IsIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// Options configures parsing behaviour.
type Options struct {
	// ScopeLeniency is not consulted by the parser: a `scope:X` port
	// attribute is recorded as written whether or not it matches an
	// `@scope X` declaration, with or without this flag. Scope context
	// is checked by the validator (§9 Open Questions).
	ScopeLeniency bool
}

// Result is the output of Parse.
type Result struct {
	Workflows []*ast.Workflow
	Errors    []Diagnostic
	Warnings  []Diagnostic
}

type parseState struct {
	opts Options

	nodeTypes []ast.NodeType
	curType   *ast.NodeType

	workflows []*wfAccum
	curFlow   *wfAccum

	errors   []Diagnostic
	warnings []Diagnostic
}

// wfAccum accumulates one @workflow block's tags into a Workflow value.
type wfAccum struct {
	wf *ast.Workflow
}

func newWfAccum(name, functionName string) *wfAccum {
	return &wfAccum{wf: &ast.Workflow{
		Name:         name,
		FunctionName: functionName,
		StartPorts:   map[string]ast.PortDef{},
		ExitPorts:    map[string]ast.PortDef{},
	}}
}

// Parse runs the annotation parser over sourceText, attributing
// diagnostics to sourceFile.
func Parse(sourceText, sourceFile string, opts Options) Result {
	st := &parseState{opts: opts}

	lines := strings.Split(sourceText, "\n")
	for i, raw := range lines {
		lineNo := i + 1
		text, col := stripComment(raw)
		if text == "" {
			continue
		}
		name, rest, ok := splitTag(text)
		if !ok {
			continue
		}
		st.handleTag(lineNo, col, name, rest)
	}
	st.flush()

	for _, acc := range st.workflows {
		acc.wf.SourceFile = sourceFile
		acc.wf.NodeTypes = append(acc.wf.NodeTypes, st.nodeTypes...)
	}

	result := Result{Errors: st.errors, Warnings: st.warnings}
	for _, acc := range st.workflows {
		result.Workflows = append(result.Workflows, acc.wf)
	}
	return result
}

func (st *parseState) errf(code Code, line, col int, format string, args ...any) {
	st.errors = append(st.errors, newError(code, line, col, format, args...))
}

func (st *parseState) warnf(code Code, line, col int, format string, args ...any) {
	st.warnings = append(st.warnings, newError(code, line, col, format, args...))
}

// flush closes out whichever block (node type or workflow) is open.
func (st *parseState) flush() {
	if st.curType != nil {
		st.nodeTypes = append(st.nodeTypes, *st.curType)
		st.curType = nil
	}
	if st.curFlow != nil {
		st.workflows = append(st.workflows, st.curFlow)
		st.curFlow = nil
	}
}

func (st *parseState) handleTag(line, col int, name, rest string) {
	switch name {
	case "nodeType":
		st.flush()
		st.startNodeType(line, col, rest)
	case "workflow":
		st.flush()
		st.startWorkflow(line, col, rest)
	case "scope":
		st.tagScope(line, col, rest)
	case "input":
		st.tagPort(line, col, rest, false)
	case "output":
		st.tagPort(line, col, rest, true)
	case "pullExecution":
		st.tagPullExecution(line, col, rest)
	case "node":
		st.tagNode(line, col, rest)
	case "connect":
		st.tagConnect(line, col, rest)
	case "coerce":
		st.tagCoerce(line, col, rest)
	case "path":
		st.tagPath(line, col, rest)
	case "fanOut":
		st.tagFan(line, col, rest, true)
	case "fanIn":
		st.tagFan(line, col, rest, false)
	case "map":
		st.tagMap(line, col, rest)
	case "param":
		st.tagParam(line, col, rest)
	case "returns":
		st.tagReturns(line, col, rest)
	case "strictTypes":
		if st.curFlow == nil {
			st.errf(CodeParseError, line, col, "@strictTypes outside @workflow block")
			return
		}
		st.curFlow.wf.StrictTypes = true
	default:
		st.warnf(CodeUnknownTag, line, col, "unrecognised tag @%s", name)
	}
}

func (st *parseState) startNodeType(line, col int, rest string) {
	rest, groups := extractBrackets(rest)
	fs := fields(rest)
	if len(fs) == 0 {
		st.errf(CodeParseError, line, col, "@nodeType requires a name")
		return
	}
	nt := &ast.NodeType{Name: fs[0], FunctionName: fs[0], Inputs: map[string]ast.PortDef{}, Outputs: map[string]ast.PortDef{}}
	for _, g := range groups {
		a := parseAttr(g)
		switch a.Key {
		case "functionName":
			nt.FunctionName = a.Value
		case "async":
			nt.IsAsync = true
		case "expression":
			nt.Expression = true
		case "hasSuccessPort":
			nt.HasSuccessPort = true
		case "hasFailurePort":
			nt.HasFailurePort = true
		case "executeWhen":
			nt.ExecuteWhen = ast.ExecuteWhen(a.Value)
		case "variant":
			nt.Variant = ast.NodeTypeVariant(a.Value)
		case "branchingStrategy":
			nt.BranchingStrategy = ast.BranchingStrategy(a.Value)
		case "branchField":
			nt.BranchField = a.Value
		}
	}
	st.curType = nt
}

func (st *parseState) startWorkflow(line, col int, rest string) {
	rest, groups := extractBrackets(rest)
	fs := fields(rest)
	if len(fs) == 0 {
		st.errf(CodeParseError, line, col, "@workflow requires a name")
		return
	}
	name := fs[0]
	functionName := name
	for _, g := range groups {
		a := parseAttr(g)
		if a.Key == "functionName" {
			functionName = a.Value
		}
	}
	st.curFlow = newWfAccum(name, functionName)
}

func (st *parseState) tagScope(line, col int, rest string) {
	if st.curType == nil {
		st.errf(CodeParseError, line, col, "@scope outside @nodeType block")
		return
	}
	name := strings.TrimSpace(rest)
	if !IsIdentifier(name) {
		st.errf(CodeScopeNotIdentifier, line, col, "scope %q is not a valid identifier", name)
		return
	}
	st.curType.Scope = name
}

func (st *parseState) tagPullExecution(line, col int, rest string) {
	port := strings.TrimSpace(rest)
	if st.curType != nil {
		st.curType.PullExecution = port
		return
	}
	st.errf(CodeParseError, line, col, "@pullExecution outside @nodeType block")
}

func (st *parseState) tagPort(line, col int, rest string, isOutput bool) {
	if st.curType == nil {
		st.errf(CodeParseError, line, col, "port tag outside @nodeType block")
		return
	}
	rest, label := splitLabel(rest)
	rest, groups := extractBrackets(rest)
	fs := fields(rest)
	if len(fs) == 0 {
		st.errf(CodeParseError, line, col, "port tag requires a name")
		return
	}
	name := fs[0]
	def := ast.PortDef{DataType: ast.Any, Label: label}
	for _, g := range groups {
		a := parseAttr(g)
		switch a.Key {
		case "type":
			def.DataType = ast.DataType(strings.ToUpper(a.Value))
		case "scope":
			def.Scope = a.Value
			if st.curType.Scope != a.Value && !st.opts.ScopeLeniency {
				// Deferred: SCOPE_WITHOUT_CONTEXT is a validator rule, not
				// a parse error, so we only record intent here.
			}
		case "order":
			n, err := strconv.Atoi(a.Value)
			if err == nil {
				def.Order = n
			}
		case "placement":
			def.Placement = ast.Placement(strings.ToUpper(a.Value))
		case "optional":
			def.Optional = true
		case "failure":
			def.Failure = true
		case "isControlFlow":
			def.IsControlFlow = true
		}
	}
	if def.DataType == ast.Step {
		def.IsControlFlow = true
	}
	if isOutput {
		st.curType.Outputs[name] = def
	} else {
		st.curType.Inputs[name] = def
	}
}

func splitPortRef(s string) ast.PortRef {
	scope := ""
	if i := strings.Index(s, "@"); i >= 0 {
		scope = s[i+1:]
		s = s[:i]
	}
	parts := strings.SplitN(s, ".", 2)
	ref := ast.PortRef{Node: parts[0], Scope: scope}
	if len(parts) > 1 {
		ref.Port = parts[1]
	}
	return ref
}

func (st *parseState) tagNode(line, col int, rest string) {
	if st.curFlow == nil {
		st.errf(CodeParseError, line, col, "@node outside @workflow block")
		return
	}
	rest, groups := extractBrackets(rest)
	fs := fields(rest)
	if len(fs) < 2 {
		st.errf(CodeParseError, line, col, "@node requires an id and a type")
		return
	}
	inst := ast.NodeInstance{ID: fs[0], NodeType: fs[1]}
	cfg := &ast.NodeConfig{Expressions: map[string]string{}}
	hasCfg := false
	for _, g := range groups {
		a := parseAttr(g)
		switch a.Key {
		case "label":
			cfg.Label = a.Value
			hasCfg = true
		case "color":
			cfg.Color = a.Value
			hasCfg = true
		case "icon":
			cfg.Icon = a.Value
			hasCfg = true
		case "pullExecution":
			cfg.PullExecution = a.Value
			hasCfg = true
		case "position":
			nums := strings.Fields(a.Value)
			if len(nums) == 2 {
				x, errX := strconv.ParseFloat(nums[0], 64)
				y, errY := strconv.ParseFloat(nums[1], 64)
				if errX == nil && errY == nil {
					cfg.Position = &ast.Position{X: x, Y: y}
					hasCfg = true
				}
			}
		case "expr":
			port, expr, ok := splitExprAttr(a.Value)
			if !ok {
				st.errf(CodeParseError, line, col, "malformed [expr: ...] attribute")
				continue
			}
			cfg.Expressions[port] = unescapeExpr(expr)
			hasCfg = true
		case "tags":
			cfg.Tags = strings.Split(a.Value, ",")
			hasCfg = true
		}
	}
	if hasCfg {
		inst.Config = cfg
	}
	st.curFlow.wf.Instances = append(st.curFlow.wf.Instances, inst)
}

// splitExprAttr parses `port="expression"` into (port, expression).
func splitExprAttr(s string) (port, expr string, ok bool) {
	i := strings.Index(s, "=")
	if i < 0 {
		return "", "", false
	}
	port = strings.TrimSpace(s[:i])
	rawExpr := strings.TrimSpace(s[i+1:])
	rawExpr = strings.TrimPrefix(rawExpr, `"`)
	rawExpr = strings.TrimSuffix(rawExpr, `"`)
	return port, rawExpr, true
}

func (st *parseState) tagConnect(line, col int, rest string) {
	if st.curFlow == nil {
		st.errf(CodeParseError, line, col, "@connect outside @workflow block")
		return
	}
	var coerce ast.CoerceKind
	if idx := strings.LastIndex(rest, " as "); idx >= 0 {
		coerce = ast.CoerceKind(strings.TrimSpace(rest[idx+4:]))
		rest = rest[:idx]
	}
	arrowIdx := strings.Index(rest, "->")
	if arrowIdx < 0 {
		st.errf(CodeParseError, line, col, "@connect requires '->'")
		return
	}
	fromStr := strings.TrimSpace(rest[:arrowIdx])
	toStr := strings.TrimSpace(rest[arrowIdx+2:])
	if !strings.Contains(fromStr, ".") || !strings.Contains(toStr, ".") {
		st.errf(CodeParseError, line, col, "connection endpoints must be node.port")
		return
	}
	conn := ast.Connection{From: splitPortRef(fromStr), To: splitPortRef(toStr), Coerce: coerce}
	st.curFlow.wf.Connections = append(st.curFlow.wf.Connections, conn)
}

func (st *parseState) tagCoerce(line, col int, rest string) {
	if st.curFlow == nil {
		st.errf(CodeParseError, line, col, "@coerce outside @workflow block")
		return
	}
	fs := fields(rest)
	if len(fs) < 4 {
		st.errf(CodeParseError, line, col, "@coerce requires: ID SRC -> DST as T")
		return
	}
	id := fs[0]
	body := strings.Join(fs[1:], " ")
	var as ast.CoerceKind
	if idx := strings.LastIndex(body, " as "); idx >= 0 {
		as = ast.CoerceKind(strings.TrimSpace(body[idx+4:]))
		body = body[:idx]
	}
	arrowIdx := strings.Index(body, "->")
	if arrowIdx < 0 {
		st.errf(CodeParseError, line, col, "@coerce requires '->'")
		return
	}
	src := splitPortRef(strings.TrimSpace(body[:arrowIdx]))
	dst := splitPortRef(strings.TrimSpace(body[arrowIdx+2:]))
	st.curFlow.wf.Macros = append(st.curFlow.wf.Macros, ast.Macro{
		Kind: ast.MacroCoerce, ID: id, Source: src, Target: dst, As: as,
	})
}

func (st *parseState) tagPath(line, col int, rest string) {
	if st.curFlow == nil {
		st.errf(CodeParseError, line, col, "@path outside @workflow block")
		return
	}
	fs := fields(rest)
	if len(fs) < 2 {
		st.errf(CodeParseError, line, col, "@path requires an id and at least two steps")
		return
	}
	body := strings.Join(fs[1:], " ")
	hops := strings.Split(body, "->")
	var steps []ast.PathStep
	for _, h := range hops {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		route := ast.RouteOK
		if idx := strings.Index(h, ":"); idx >= 0 {
			route = ast.Route(strings.TrimSpace(h[idx+1:]))
			h = strings.TrimSpace(h[:idx])
		}
		steps = append(steps, ast.PathStep{Node: h, Route: route})
	}
	st.curFlow.wf.Macros = append(st.curFlow.wf.Macros, ast.Macro{Kind: ast.MacroPath, Path: steps})
}

func (st *parseState) tagFan(line, col int, rest string, out bool) {
	if st.curFlow == nil {
		st.errf(CodeParseError, line, col, "fan tag outside @workflow block")
		return
	}
	fs := fields(rest)
	if len(fs) < 2 {
		st.errf(CodeParseError, line, col, "fan tag requires an id and an arrow expression")
		return
	}
	body := strings.Join(fs[1:], " ")
	arrowIdx := strings.Index(body, "->")
	if arrowIdx < 0 {
		st.errf(CodeParseError, line, col, "fan tag requires '->'")
		return
	}
	left := strings.TrimSpace(body[:arrowIdx])
	right := strings.TrimSpace(body[arrowIdx+2:])

	parseList := func(s string) []ast.PortRef {
		var refs []ast.PortRef
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				refs = append(refs, splitPortRef(part))
			}
		}
		return refs
	}

	m := ast.Macro{Kind: ast.MacroFanOut}
	if out {
		hub := splitPortRef(left)
		m.Hub, m.HubPort, m.Targets = hub.Node, hub.Port, parseList(right)
	} else {
		m.Kind = ast.MacroFanIn
		hub := splitPortRef(right)
		m.Hub, m.HubPort, m.Targets = hub.Node, hub.Port, parseList(left)
	}
	st.curFlow.wf.Macros = append(st.curFlow.wf.Macros, m)
}

func (st *parseState) tagMap(line, col int, rest string) {
	if st.curFlow == nil {
		st.errf(CodeParseError, line, col, "@map outside @workflow block")
		return
	}
	fs := fields(rest)
	if len(fs) < 2 {
		st.errf(CodeParseError, line, col, "@map requires an id and at least one pair")
		return
	}
	body := strings.Join(fs[1:], " ")
	var pairs []ast.MapPair
	for _, pairStr := range strings.Split(body, ",") {
		arrowIdx := strings.Index(pairStr, "->")
		if arrowIdx < 0 {
			continue
		}
		pairs = append(pairs, ast.MapPair{
			From: splitPortRef(strings.TrimSpace(pairStr[:arrowIdx])),
			To:   splitPortRef(strings.TrimSpace(pairStr[arrowIdx+2:])),
		})
	}
	st.curFlow.wf.Macros = append(st.curFlow.wf.Macros, ast.Macro{Kind: ast.MacroMap, Pairs: pairs})
}

func (st *parseState) tagParam(line, col int, rest string) {
	if st.curFlow == nil {
		st.errf(CodeParseError, line, col, "@param outside @workflow block")
		return
	}
	rest, label := splitLabel(rest)
	rest, groups := extractBrackets(rest)
	fs := fields(rest)
	if len(fs) == 0 {
		st.errf(CodeParseError, line, col, "@param requires a name")
		return
	}
	def := ast.PortDef{DataType: ast.Any, Label: label}
	for _, g := range groups {
		a := parseAttr(g)
		if a.Key == "type" {
			def.DataType = ast.DataType(strings.ToUpper(a.Value))
		}
		if a.Key == "optional" {
			def.Optional = true
		}
	}
	st.curFlow.wf.StartPorts[fs[0]] = def
}

var returnsTypeRe = regexp.MustCompile(`^\{([^}]*)\}\s*(.*)$`)

func (st *parseState) tagReturns(line, col int, rest string) {
	if st.curFlow == nil {
		st.errf(CodeParseError, line, col, "@returns outside @workflow block")
		return
	}
	rest, label := splitLabel(rest)
	m := returnsTypeRe.FindStringSubmatch(strings.TrimSpace(rest))
	var dataType ast.DataType = ast.Any
	nameSection := rest
	if m != nil {
		dataType = ast.DataType(strings.ToUpper(strings.TrimSpace(m[1])))
		nameSection = m[2]
	}
	fs := fields(nameSection)
	if len(fs) == 0 {
		st.errf(CodeParseError, line, col, "@returns requires a name")
		return
	}
	st.curFlow.wf.ExitPorts[fs[0]] = ast.PortDef{DataType: dataType, Label: label}
}
