// Package store persists compiled workflow artifacts content-addressed by
// the sha256 of their canonical source, with Postgres as the durable
// catalog and Redis as a TTL'd read-through cache — following the
// source's cas_blob/artifact split rather than storing full documents
// keyed by name.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what stage of the pipeline produced an artifact.
type Kind string

const (
	// KindSource is the raw annotation source text a workflow was parsed from.
	KindSource Kind = "source"
	// KindAST is compiled output; internal/server stores its whole compile
	// response (workflows, plans and diagnostics) under this kind.
	KindAST Kind = "ast"
	// KindPlan is a plan.Plan for a validated workflow.
	KindPlan Kind = "plan"
)

// Media types for the blobs this package stores, mirroring the source's
// "application/json;type=..." convention.
const (
	MediaTypeSource = "text/plain;type=flowweaver-source"
	MediaTypeAST    = "application/json;type=flowweaver-ast"
	MediaTypePlan   = "application/json;type=flowweaver-plan"
)

// ContentHash returns the content address for data: "sha256:<hex>".
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Blob is a content-addressed byte payload, stored once regardless of how
// many artifacts reference it.
type Blob struct {
	CasID     string `db:"cas_id" json:"cas_id"`
	MediaType string `db:"media_type" json:"media_type"`
	SizeBytes int64  `db:"size_bytes" json:"size_bytes"`
	Content   []byte `db:"content" json:"content,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NewBlob content-addresses content under mediaType.
func NewBlob(content []byte, mediaType string) Blob {
	return Blob{
		CasID:     ContentHash(content),
		MediaType: mediaType,
		SizeBytes: int64(len(content)),
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Artifact catalogs one compilation output: a named, kinded pointer at a
// CAS blob, plus the hot columns compile-cache lookups key off of.
type Artifact struct {
	ArtifactID uuid.UUID `db:"artifact_id" json:"artifact_id"`
	Kind       Kind      `db:"kind" json:"kind"`
	CasID      string    `db:"cas_id" json:"cas_id"`

	// WorkflowName is the @workflow name the artifact was compiled from,
	// when known (empty for raw source blobs).
	WorkflowName string `db:"workflow_name" json:"workflow_name,omitempty"`
	// SourceHash is the CAS id of the KindSource blob this artifact was
	// derived from, letting a lookup go straight from "have I compiled
	// this exact source before" to a cached KindAST/KindPlan artifact.
	SourceHash string `db:"source_hash" json:"source_hash,omitempty"`

	NodesCount int `db:"nodes_count" json:"nodes_count,omitempty"`
	EdgesCount int `db:"edges_count" json:"edges_count,omitempty"`

	Meta map[string]interface{} `db:"meta" json:"meta,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NewArtifact builds an Artifact pointing at blob, assigning a fresh id.
func NewArtifact(kind Kind, blob Blob, workflowName, sourceHash string) Artifact {
	return Artifact{
		ArtifactID:   uuid.New(),
		Kind:         kind,
		CasID:        blob.CasID,
		WorkflowName: workflowName,
		SourceHash:   sourceHash,
		CreatedAt:    time.Now(),
	}
}
