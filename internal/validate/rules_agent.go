package validate

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/flowweaver/compiler/internal/ast"
)

// AgentRule is a deployment-registered check expressed as a CEL
// expression evaluated with a single `workflow` variable bound to the
// workflow's JSON shape (as a dynamic map). The expression must resolve
// to a boolean; false means the rule is violated.
type AgentRule struct {
	Name       string
	Expression string
	Severity   Severity
}

type compiledRule struct {
	rule AgentRule
	prg  cel.Program
}

// RuleRegistry holds the compiled agent rules the validator consults
// alongside its fixed core rules. Safe for concurrent Register and
// Validate calls: each Validate call takes its own snapshot of the
// registry under a read lock, grounded on the source condition
// evaluator's sync.RWMutex-guarded compile cache.
type RuleRegistry struct {
	mu    sync.RWMutex
	rules map[string]compiledRule
}

// NewRuleRegistry returns an empty registry.
func NewRuleRegistry() *RuleRegistry {
	return &RuleRegistry{rules: map[string]compiledRule{}}
}

// Default is the process-wide registry. Validate runs its rules only when
// a caller passes it explicitly; a nil registry runs no agent rules.
var Default = NewRuleRegistry()

// Register compiles rule.Expression and adds it under rule.Name,
// replacing any existing rule with that name. Returns a compile error
// without touching the registry if the expression is invalid.
func (r *RuleRegistry) Register(rule AgentRule) error {
	env, err := cel.NewEnv(cel.Variable("workflow", cel.DynType))
	if err != nil {
		return fmt.Errorf("agent rule %q: create CEL env: %w", rule.Name, err)
	}
	checked, issues := env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("agent rule %q: compile: %w", rule.Name, issues.Err())
	}
	prg, err := env.Program(checked)
	if err != nil {
		return fmt.Errorf("agent rule %q: program: %w", rule.Name, err)
	}
	if rule.Severity == "" {
		rule.Severity = SeverityWarning
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.Name] = compiledRule{rule: rule, prg: prg}
	return nil
}

// Unregister removes a rule by name, if present.
func (r *RuleRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rules, name)
}

// snapshot returns a stable, name-ordered copy of the registered rules
// for one Validate call to iterate without holding the lock.
func (r *RuleRegistry) snapshot() []compiledRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]compiledRule, 0, len(r.rules))
	for _, cr := range r.rules {
		out = append(out, cr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rule.Name < out[j].rule.Name })
	return out
}

// agentRules evaluates registry's rules against w and appends their
// diagnostics to rep. A nil registry runs no agent rules.
func agentRules(w *ast.Workflow, registry *RuleRegistry, rep *Report) error {
	if registry == nil {
		return nil
	}
	snapshot := registry.snapshot()
	if len(snapshot) == 0 {
		return nil
	}

	raw, err := ast.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow for agent rules: %w", err)
	}
	var wfMap map[string]any
	if err := json.Unmarshal(raw, &wfMap); err != nil {
		return fmt.Errorf("decode workflow for agent rules: %w", err)
	}

	for _, cr := range snapshot {
		out, _, err := cr.prg.Eval(map[string]any{"workflow": wfMap})
		if err != nil {
			rep.add(errDiag("AGENT_RULE_ERROR", "", "", "agent rule %q evaluation failed: %s", cr.rule.Name, err))
			continue
		}
		passed, ok := out.Value().(bool)
		if !ok {
			rep.add(errDiag("AGENT_RULE_ERROR", "", "", "agent rule %q did not return a boolean", cr.rule.Name))
			continue
		}
		if !passed {
			rep.add(newDiag(cr.rule.Severity, "AGENT_RULE:"+cr.rule.Name, "", "", "agent rule %q failed", cr.rule.Name))
		}
	}
	return nil
}
