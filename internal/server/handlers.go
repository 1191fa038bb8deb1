package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/flowweaver/compiler/internal/ast"
	"github.com/flowweaver/compiler/internal/logger"
	"github.com/flowweaver/compiler/internal/macro"
	"github.com/flowweaver/compiler/internal/parser"
	"github.com/flowweaver/compiler/internal/plan"
	"github.com/flowweaver/compiler/internal/resolver"
	"github.com/flowweaver/compiler/internal/store"
	"github.com/flowweaver/compiler/internal/transform"
	"github.com/flowweaver/compiler/internal/validate"
)

// Handler holds the dependencies every pipeline endpoint needs: a logger
// and the shared, concurrency-safe agent-rule registry. store and cache
// are optional: when nil, Compile always runs the pipeline fresh.
type Handler struct {
	log          *logger.Logger
	registry     *validate.RuleRegistry
	validateOpts validate.Options
	store        *store.PostgresStore
	cache        *store.BlobCache
}

// CompileRequest is the body of POST /compile.
type CompileRequest struct {
	Source     string `json:"source"`
	SourceFile string `json:"sourceFile,omitempty"`
}

// CompileResponse mirrors the source file's compile output before
// validation: every workflow resolved and run through the transformer
// pipeline's sugar optimizer, its execution plan, plus any parse-time
// diagnostics.
type CompileResponse struct {
	Workflows []*ast.Workflow      `json:"workflows"`
	Plans     []*plan.Plan         `json:"plans,omitempty"`
	Errors    []parser.Diagnostic `json:"errors,omitempty"`
	Warnings  []parser.Diagnostic `json:"warnings,omitempty"`
}

// Compile parses source, expands its macros, resolves each workflow,
// runs the transformer pipeline's sugar optimizer over the resolved
// AST, and plans the optimized result. Parse, macro-expansion, and
// planner-cycle errors are rendered at 200, per §7: a malformed source
// is still a compile *result*, not a server failure. Validation is
// deliberately a separate endpoint (POST /validate): a caller that
// already holds a compiled workflow can re-validate it without paying
// for a recompile.
//
// When a store is configured, an error-free compile of the exact same
// source text is served from the artifact cache instead of re-running
// the pipeline (§4 domain stack, compile-cache).
func (h *Handler) Compile(c echo.Context) error {
	var req CompileRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	sourceHash := store.ContentHash([]byte(req.Source))

	if h.store != nil {
		if resp, ok := h.loadCachedCompile(ctx, sourceHash); ok {
			return c.JSON(http.StatusOK, resp)
		}
	}

	result := parser.Parse(req.Source, req.SourceFile, parser.Options{
		ScopeLeniency: h.validateOpts.ScopeLeniency,
	})

	resp := CompileResponse{Errors: result.Errors, Warnings: result.Warnings}
	for _, w := range result.Workflows {
		expanded, err := macro.Expand(w)
		if err != nil {
			h.log.Error("macro expansion failed", "workflow", w.Name, "error", err)
			resp.Errors = append(resp.Errors, parser.Diagnostic{
				Code:    parser.CodeParseError,
				Message: err.Error(),
			})
			continue
		}
		resolved := resolver.Resolve(expanded)

		optimized, err := transform.Transform(resolved)
		if err != nil {
			h.log.Error("transform pipeline failed", "workflow", w.Name, "error", err)
			resp.Errors = append(resp.Errors, parser.Diagnostic{
				Code:    parser.CodeParseError,
				Message: err.Error(),
			})
			continue
		}
		resp.Workflows = append(resp.Workflows, optimized)

		p, err := plan.Build(optimized)
		if err != nil {
			resp.Errors = append(resp.Errors, parser.Diagnostic{
				Code:    "CYCLE_IN_MAIN_FLOW",
				Message: err.Error(),
			})
			continue
		}
		resp.Plans = append(resp.Plans, p)
	}

	if h.store != nil && len(resp.Errors) == 0 {
		h.storeCompile(ctx, req.Source, sourceHash, resp)
	}

	return c.JSON(http.StatusOK, resp)
}

// loadCachedCompile looks up a prior error-free compile of this exact
// source by content hash, reading the blob through the cache when one is
// configured and falling back to Postgres on a cache miss.
func (h *Handler) loadCachedCompile(ctx context.Context, sourceHash string) (CompileResponse, bool) {
	artifact, err := h.store.GetArtifactBySourceHash(ctx, store.KindAST, sourceHash)
	if err != nil {
		return CompileResponse{}, false
	}

	load := func(ctx context.Context) ([]byte, error) { return h.store.GetBlobContent(ctx, artifact.CasID) }
	var content []byte
	if h.cache != nil {
		content, err = h.cache.GetOrLoad(ctx, artifact.CasID, load)
	} else {
		content, err = load(ctx)
	}
	if err != nil {
		h.log.Warn("artifact cache lookup failed, recompiling", "cas_id", artifact.CasID, "error", err)
		return CompileResponse{}, false
	}

	var resp CompileResponse
	if err := json.Unmarshal(content, &resp); err != nil {
		h.log.Warn("cached compile artifact is corrupt, recompiling", "cas_id", artifact.CasID, "error", err)
		return CompileResponse{}, false
	}
	h.log.Debug("compile served from artifact store", "source_hash", sourceHash)
	return resp, true
}

// storeCompile persists an error-free compile's source and result as
// content-addressed blobs plus a catalog row keyed by source hash, so the
// next identical compile is a cache hit. Failures are logged, never
// surfaced: the artifact store is an optimization, not a dependency of
// correctness.
func (h *Handler) storeCompile(ctx context.Context, source, sourceHash string, resp CompileResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		h.log.Warn("failed to marshal compile result for caching", "error", err)
		return
	}

	sourceBlob := store.NewBlob([]byte(source), store.MediaTypeSource)
	astBlob := store.NewBlob(payload, store.MediaTypeAST)

	if err := h.store.PutBlob(ctx, sourceBlob); err != nil {
		h.log.Warn("failed to persist source blob", "error", err)
		return
	}
	if err := h.store.PutBlob(ctx, astBlob); err != nil {
		h.log.Warn("failed to persist compiled artifact blob", "error", err)
		return
	}

	workflowName := ""
	if len(resp.Workflows) == 1 {
		workflowName = resp.Workflows[0].Name
	}
	artifact := store.NewArtifact(store.KindAST, astBlob, workflowName, sourceHash)
	if err := h.store.PutArtifact(ctx, artifact); err != nil {
		h.log.Warn("failed to catalog compiled artifact", "error", err)
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, astBlob.CasID, payload); err != nil {
			h.log.Warn("failed to warm artifact cache", "error", err)
		}
	}
}

// Validate runs the core validator (core rules + registered agent rules)
// over a posted workflow.
func (h *Handler) Validate(c echo.Context) error {
	var w ast.Workflow
	if err := c.Bind(&w); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid workflow body"})
	}

	report := validate.Validate(&w, h.registry, h.validateOpts)
	return c.JSON(http.StatusOK, report)
}

// Plan builds a deterministic execution plan for a posted workflow,
// returning 422 with the cycle diagnostic if the main flow or any scope
// body isn't a DAG.
func (h *Handler) Plan(c echo.Context) error {
	var w ast.Workflow
	if err := c.Bind(&w); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid workflow body"})
	}

	p, err := plan.Build(&w)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, p)
}
