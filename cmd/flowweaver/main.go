// Command flowweaver is the compiler's CLI and HTTP server entry point.
// Subcommands are dispatched off os.Args by hand, following the source's
// preference for a thin main over a flags/cobra framework: "compile" runs
// the pipeline from parsing through planning over a source file,
// "validate" and "plan" run one stage over a serialized workflow file, and
// each prints JSON; "serve" starts the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/flowweaver/compiler/internal/ast"
	"github.com/flowweaver/compiler/internal/bootstrap"
	"github.com/flowweaver/compiler/internal/macro"
	"github.com/flowweaver/compiler/internal/parser"
	"github.com/flowweaver/compiler/internal/plan"
	"github.com/flowweaver/compiler/internal/resolver"
	"github.com/flowweaver/compiler/internal/server"
	"github.com/flowweaver/compiler/internal/transform"
	"github.com/flowweaver/compiler/internal/validate"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "compile":
		err = runCompile(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "plan":
		err = runPlan(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		if code, ok := err.(exitError); ok {
			fmt.Fprintln(os.Stderr, code.diagnostics)
			os.Exit(code.code)
		}
		fmt.Fprintf(os.Stderr, "flowweaver: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: flowweaver <compile|validate|plan|serve> [args]")
}

// exitError carries a pre-rendered diagnostics payload and the exit code
// §7 assigns to its error kind (1 for parse/semantic, 2 for a planner
// cycle).
type exitError struct {
	code        int
	diagnostics string
}

func (e exitError) Error() string { return e.diagnostics }

func readSource(args []string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("expected a source file path")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read source file: %w", err)
	}
	return string(data), nil
}

func readWorkflow(args []string) (*ast.Workflow, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("expected a workflow JSON file path")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return ast.Unmarshal(data)
}

// runCompile runs the full compiler pipeline over source text short of
// validation — parse, expand macros, resolve references, run the
// transformer pipeline's sugar optimizer, then plan — and prints the
// combined result as JSON. Validation is deliberately a separate stage
// exposed by "validate", since a caller may want to re-validate an
// already-compiled workflow without recompiling it. Exits 2 when every
// error is a planner cycle, 1 when any other error is present.
func runCompile(args []string) error {
	source, err := readSource(args)
	if err != nil {
		return err
	}

	sourceFile := ""
	if len(args) > 0 {
		sourceFile = args[0]
	}

	result := parser.Parse(source, sourceFile, parser.Options{})

	type compileOutput struct {
		Workflows []*ast.Workflow      `json:"workflows"`
		Plans     []*plan.Plan         `json:"plans,omitempty"`
		Errors    []parser.Diagnostic `json:"errors,omitempty"`
		Warnings  []parser.Diagnostic `json:"warnings,omitempty"`
	}
	out := compileOutput{Errors: result.Errors, Warnings: result.Warnings}
	cycles := 0

	for _, w := range result.Workflows {
		expanded, err := macro.Expand(w)
		if err != nil {
			out.Errors = append(out.Errors, parser.Diagnostic{
				Code:    parser.CodeParseError,
				Message: err.Error(),
			})
			continue
		}
		resolved := resolver.Resolve(expanded)

		optimized, err := transform.Transform(resolved)
		if err != nil {
			out.Errors = append(out.Errors, parser.Diagnostic{
				Code:    parser.CodeParseError,
				Message: err.Error(),
			})
			continue
		}
		out.Workflows = append(out.Workflows, optimized)

		p, err := plan.Build(optimized)
		if err != nil {
			cycles++
			out.Errors = append(out.Errors, parser.Diagnostic{
				Code:    "CYCLE_IN_MAIN_FLOW",
				Message: err.Error(),
			})
			continue
		}
		out.Plans = append(out.Plans, p)
	}

	payload, _ := json.MarshalIndent(out, "", "  ")
	if len(out.Errors) > 0 {
		code := 1
		if cycles == len(out.Errors) {
			code = 2
		}
		return exitError{code: code, diagnostics: string(payload)}
	}
	fmt.Println(string(payload))
	return nil
}

// runValidate loads a serialized workflow and runs the validator against
// the process-wide agent-rule registry.
func runValidate(args []string) error {
	w, err := readWorkflow(args)
	if err != nil {
		return err
	}

	report := validate.Validate(w, validate.Default, validate.Options{})
	payload, _ := json.MarshalIndent(report, "", "  ")
	if !report.Valid {
		return exitError{code: 1, diagnostics: string(payload)}
	}
	fmt.Println(string(payload))
	return nil
}

// runPlan loads a serialized workflow and builds its execution plan,
// exiting 2 if the main flow or any scope body has a cycle.
func runPlan(args []string) error {
	w, err := readWorkflow(args)
	if err != nil {
		return err
	}

	p, err := plan.Build(w)
	if err != nil {
		payload, _ := json.MarshalIndent(map[string]string{"error": err.Error()}, "", "  ")
		return exitError{code: 2, diagnostics: string(payload)}
	}

	payload, _ := json.MarshalIndent(p, "", "  ")
	fmt.Println(string(payload))
	return nil
}

// runServe bootstraps the service's dependencies and starts the HTTP
// server, blocking until shutdown.
func runServe(args []string) error {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "flowweaver")
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer components.Shutdown(ctx)

	opts := validate.Options{ScopeLeniency: components.Config.Compiler.ScopeLeniency}
	e := server.New(components.Logger, validate.Default, opts, components.Store, components.Cache)
	srv := server.NewServer("flowweaver", components.Config.Service.Port, e, components.Logger)

	return srv.Start()
}
