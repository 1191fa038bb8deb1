package validate

import (
	"fmt"
	"strings"

	"github.com/flowweaver/compiler/internal/ast"
)

// Validate runs every core rule plus registry's agent rules against w
// and returns the combined Report. A nil registry skips agent rules
// entirely; pass Default to use the process-wide registry.
func Validate(w *ast.Workflow, registry *RuleRegistry, opts Options) Report {
	rep := Report{Valid: true}
	coreRules(w, opts, &rep)
	if err := agentRules(w, registry, &rep); err != nil {
		rep.add(errDiag("AGENT_RULE_ERROR", "", "", "%s", err.Error()))
	}
	rep.Valid = len(rep.Errors) == 0
	return rep
}

// WithValidation is the strictest member of the draft-and-commit trio
// (§9): it applies mutate's edits via ast.WithoutValidation, then runs
// the full Validate pass and rejects the result if it carries any
// error-level diagnostic, including one already present before the
// edit. On rejection the returned error embeds the
// first three offending diagnostics verbatim, followed by a count of
// any remainder.
func WithValidation(w *ast.Workflow, mutate func(*ast.Draft), registry *RuleRegistry, opts Options) (*ast.Workflow, error) {
	result, err := ast.WithoutValidation(w, mutate)
	if err != nil {
		return nil, err
	}
	report := Validate(result, registry, opts)
	if report.Valid {
		return result, nil
	}
	return nil, fmt.Errorf("validation failed: %s", summarize(report.Errors))
}

func summarize(diags []Diagnostic) string {
	n := len(diags)
	shown := diags
	if n > 3 {
		shown = diags[:3]
	}
	parts := make([]string, 0, len(shown))
	for _, d := range shown {
		parts = append(parts, d.Code+": "+d.Message)
	}
	msg := strings.Join(parts, "; ")
	if n > 3 {
		msg = fmt.Sprintf("%s; and %d more", msg, n-3)
	}
	return msg
}
