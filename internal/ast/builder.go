package ast

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// opRec is one RFC 6902 JSON Patch operation, the wire shape a Draft's
// edits are recorded as. Mirrors the operation shape the source's patch
// validator checked against (`op`/`path`/`value`).
type opRec struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Draft records edits against a snapshot of a Workflow without mutating
// it. Call a Draft method to queue an edit; Commit (or one of the
// WithValidation family) replays the queued edits as a JSON Patch
// document against the original and returns the resulting Workflow.
//
// A Draft is single-use and not safe for concurrent use.
type Draft struct {
	ops []opRec

	instanceIDs  []string
	nodeTypeKeys []string
	connections  []Connection

	hasNodeTypes   bool
	hasInstances   bool
	hasConnections bool
	hasMacros      bool
	hasStartPorts  bool
	hasExitPorts   bool

	startPortNames map[string]bool
	exitPortNames  map[string]bool
}

// NewDraft snapshots w for editing. w itself is never modified.
func NewDraft(w *Workflow) *Draft {
	d := &Draft{
		startPortNames: map[string]bool{},
		exitPortNames:  map[string]bool{},
	}
	for _, inst := range w.Instances {
		d.instanceIDs = append(d.instanceIDs, inst.ID)
	}
	for _, nt := range w.NodeTypes {
		d.nodeTypeKeys = append(d.nodeTypeKeys, nt.Key())
	}
	d.connections = append(d.connections, w.Connections...)
	d.hasNodeTypes = len(w.NodeTypes) > 0
	d.hasInstances = len(w.Instances) > 0
	d.hasConnections = len(w.Connections) > 0
	d.hasMacros = len(w.Macros) > 0
	d.hasStartPorts = len(w.StartPorts) > 0
	d.hasExitPorts = len(w.ExitPorts) > 0
	for k := range w.StartPorts {
		d.startPortNames[k] = true
	}
	for k := range w.ExitPorts {
		d.exitPortNames[k] = true
	}
	return d
}

func jsonPointerEscape(tok string) string {
	tok = strings.ReplaceAll(tok, "~", "~0")
	tok = strings.ReplaceAll(tok, "/", "~1")
	return tok
}

func indexOf(haystack []string, needle string) int {
	for i, s := range haystack {
		if s == needle {
			return i
		}
	}
	return -1
}

// HasNodeType reports whether key is (or will be, after this draft
// commits) a resolvable NodeType key. Lets coerce-macro expansion make
// its "add once, idempotent" check (§4.2) against in-flight edits.
func (d *Draft) HasNodeType(key string) bool {
	return indexOf(d.nodeTypeKeys, key) >= 0
}

// HasInstance reports whether id exists after edits queued so far.
func (d *Draft) HasInstance(id string) bool {
	return indexOf(d.instanceIDs, id) >= 0
}

// AddNodeType appends a NodeType, skipping the append if one with the
// same key is already present.
func (d *Draft) AddNodeType(nt NodeType) {
	if d.HasNodeType(nt.Key()) {
		return
	}
	if !d.hasNodeTypes {
		d.ops = append(d.ops, opRec{Op: "add", Path: "/nodeTypes", Value: []NodeType{}})
		d.hasNodeTypes = true
	}
	d.ops = append(d.ops, opRec{Op: "add", Path: "/nodeTypes/-", Value: nt})
	d.nodeTypeKeys = append(d.nodeTypeKeys, nt.Key())
}

// AddInstance appends a NodeInstance.
func (d *Draft) AddInstance(inst NodeInstance) {
	if !d.hasInstances {
		d.ops = append(d.ops, opRec{Op: "add", Path: "/instances", Value: []NodeInstance{}})
		d.hasInstances = true
	}
	d.ops = append(d.ops, opRec{Op: "add", Path: "/instances/-", Value: inst})
	d.instanceIDs = append(d.instanceIDs, inst.ID)
}

// RemoveInstance removes the instance with the given id, if present.
func (d *Draft) RemoveInstance(id string) bool {
	idx := indexOf(d.instanceIDs, id)
	if idx < 0 {
		return false
	}
	d.ops = append(d.ops, opRec{Op: "remove", Path: fmt.Sprintf("/instances/%d", idx)})
	d.instanceIDs = append(d.instanceIDs[:idx], d.instanceIDs[idx+1:]...)
	return true
}

// AddConnection appends a Connection.
func (d *Draft) AddConnection(c Connection) {
	if !d.hasConnections {
		d.ops = append(d.ops, opRec{Op: "add", Path: "/connections", Value: []Connection{}})
		d.hasConnections = true
	}
	d.ops = append(d.ops, opRec{Op: "add", Path: "/connections/-", Value: c})
	d.connections = append(d.connections, c)
}

// RemoveConnections removes every connection matching pred and reports
// how many were removed.
func (d *Draft) RemoveConnections(pred func(Connection) bool) int {
	removed := 0
	for i := len(d.connections) - 1; i >= 0; i-- {
		if pred(d.connections[i]) {
			d.ops = append(d.ops, opRec{Op: "remove", Path: fmt.Sprintf("/connections/%d", i)})
			d.connections = append(d.connections[:i], d.connections[i+1:]...)
			removed++
		}
	}
	return removed
}

// AddMacro appends a Macro.
func (d *Draft) AddMacro(m Macro) {
	if !d.hasMacros {
		d.ops = append(d.ops, opRec{Op: "add", Path: "/macros", Value: []Macro{}})
		d.hasMacros = true
	}
	d.ops = append(d.ops, opRec{Op: "add", Path: "/macros/-", Value: m})
}

// SetStartPort adds or replaces a startPorts entry.
func (d *Draft) SetStartPort(name string, def PortDef) {
	if !d.hasStartPorts {
		d.ops = append(d.ops, opRec{Op: "add", Path: "/startPorts", Value: map[string]PortDef{}})
		d.hasStartPorts = true
	}
	op := "add"
	if d.startPortNames[name] {
		op = "replace"
	}
	d.ops = append(d.ops, opRec{Op: op, Path: "/startPorts/" + jsonPointerEscape(name), Value: def})
	d.startPortNames[name] = true
}

// SetExitPort adds or replaces an exitPorts entry.
func (d *Draft) SetExitPort(name string, def PortDef) {
	if !d.hasExitPorts {
		d.ops = append(d.ops, opRec{Op: "add", Path: "/exitPorts", Value: map[string]PortDef{}})
		d.hasExitPorts = true
	}
	op := "add"
	if d.exitPortNames[name] {
		op = "replace"
	}
	d.ops = append(d.ops, opRec{Op: op, Path: "/exitPorts/" + jsonPointerEscape(name), Value: def})
	d.exitPortNames[name] = true
}

// SetStrictTypes sets the workflow-level strict-types flag.
func (d *Draft) SetStrictTypes(v bool) {
	d.ops = append(d.ops, opRec{Op: "add", Path: "/strictTypes", Value: v})
}

// Ops returns the queued edits as an RFC 6902 JSON Patch document, for
// audit logging or replay.
func (d *Draft) Ops() ([]byte, error) {
	return json.Marshal(d.ops)
}

// ValidatePatchOps checks the structural shape of a decoded patch
// operation list before it is applied: every op needs `op`/`path`, and
// add/replace need `value`. Mirrors the source's pre-apply patch
// validator.
func ValidatePatchOps(ops []map[string]any) error {
	for i, op := range ops {
		kind, ok := op["op"].(string)
		if !ok {
			return fmt.Errorf("operation %d: missing or invalid 'op' field", i)
		}
		if _, ok := op["path"].(string); !ok {
			return fmt.Errorf("operation %d: missing or invalid 'path' field", i)
		}
		switch kind {
		case "add", "replace":
			if _, ok := op["value"]; !ok {
				return fmt.Errorf("operation %d: 'value' required for %s operation", i, kind)
			}
		case "remove":
			// no value required
		default:
			return fmt.Errorf("operation %d: unsupported operation type: %s", i, kind)
		}
	}
	return nil
}

// Commit applies a Draft's queued edits to original and returns the
// resulting Workflow. original is never mutated.
func Commit(original *Workflow, d *Draft) (*Workflow, error) {
	if len(d.ops) == 0 {
		return original, nil
	}

	baseJSON, err := Marshal(original)
	if err != nil {
		return nil, fmt.Errorf("marshal base workflow: %w", err)
	}

	opsJSON, err := d.Ops()
	if err != nil {
		return nil, fmt.Errorf("marshal patch ops: %w", err)
	}
	var rawOps []map[string]any
	if err := json.Unmarshal(opsJSON, &rawOps); err != nil {
		return nil, fmt.Errorf("decode patch ops for validation: %w", err)
	}
	if err := ValidatePatchOps(rawOps); err != nil {
		return nil, fmt.Errorf("invalid patch: %w", err)
	}

	patch, err := jsonpatch.DecodePatch(opsJSON)
	if err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	resultJSON, err := patch.Apply(baseJSON)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}

	result, err := Unmarshal(resultJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal patched workflow: %w", err)
	}
	return result, nil
}

// WithoutValidation applies mutate's edits with no re-validation,
// intended for cosmetic edits (position, label, color). No rewriting
// occurs: the result satisfies invariants 1-9 only if the caller already
// satisfied them (§8).
func WithoutValidation(w *Workflow, mutate func(*Draft)) (*Workflow, error) {
	d := NewDraft(w)
	mutate(d)
	return Commit(w, d)
}

// minimalAssertions runs the operation-specific structural checks used by
// WithMinimalValidation: invariants 1 and 2 only, cheap enough to run on
// every edit without invoking the full validator.
func minimalAssertions(w *Workflow) []string {
	var problems []string
	for _, inst := range w.Instances {
		if _, ok := w.ResolveNodeType(inst.NodeType); !ok {
			problems = append(problems, fmt.Sprintf("instance %q: unresolved nodeType %q", inst.ID, inst.NodeType))
		}
	}
	knownInstance := func(id string) bool {
		if id == Start || id == Exit {
			return true
		}
		_, ok := w.GetNode(id)
		return ok
	}
	for i, c := range w.Connections {
		if !knownInstance(c.From.Node) {
			problems = append(problems, fmt.Sprintf("connection %d: unknown source node %q", i, c.From.Node))
		}
		if !knownInstance(c.To.Node) {
			problems = append(problems, fmt.Sprintf("connection %d: unknown target node %q", i, c.To.Node))
		}
	}
	return problems
}

// WithMinimalValidation applies mutate's edits and runs only the
// operation-specific assertions (invariants 1-2), not the full
// validator.
func WithMinimalValidation(w *Workflow, mutate func(*Draft)) (*Workflow, error) {
	result, err := WithoutValidation(w, mutate)
	if err != nil {
		return nil, err
	}
	if problems := minimalAssertions(result); len(problems) > 0 {
		return nil, fmt.Errorf("minimal validation failed: %s", strings.Join(problems, "; "))
	}
	return result, nil
}
