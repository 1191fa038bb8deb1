package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowweaver/compiler/internal/config"
	"github.com/flowweaver/compiler/internal/logger"
)

// PostgresStore is the durable artifact catalog, backed by pgxpool exactly
// as the source's common/db.DB wraps it.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresStore opens a connection pool per cfg.Database and verifies
// connectivity before returning.
func NewPostgresStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("artifact store connected", "host", cfg.Database.Host, "db", cfg.Database.Database)

	return &PostgresStore{pool: pool, log: log}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.log.Info("closing artifact store connection pool")
	s.pool.Close()
}

// Health pings the pool with a short timeout, for use in a readiness probe.
func (s *PostgresStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// PutBlob inserts blob, tolerating a prior insert of the same content.
func (s *PostgresStore) PutBlob(ctx context.Context, blob Blob) error {
	query := `
		INSERT INTO cas_blob (cas_id, media_type, size_bytes, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cas_id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query, blob.CasID, blob.MediaType, blob.SizeBytes, blob.Content, blob.CreatedAt)
	if err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	return nil
}

// GetBlobContent retrieves only the content column for casID.
func (s *PostgresStore) GetBlobContent(ctx context.Context, casID string) ([]byte, error) {
	query := `SELECT content FROM cas_blob WHERE cas_id = $1`
	var content []byte
	if err := s.pool.QueryRow(ctx, query, casID).Scan(&content); err != nil {
		return nil, fmt.Errorf("get blob content: %w", err)
	}
	return content, nil
}

// PutArtifact inserts artifact, assuming its blob was already stored via
// PutBlob (a foreign key violation surfaces that ordering mistake).
func (s *PostgresStore) PutArtifact(ctx context.Context, artifact Artifact) error {
	query := `
		INSERT INTO artifact (
			artifact_id, kind, cas_id, workflow_name, source_hash,
			nodes_count, edges_count, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		artifact.ArtifactID,
		artifact.Kind,
		artifact.CasID,
		artifact.WorkflowName,
		artifact.SourceHash,
		artifact.NodesCount,
		artifact.EdgesCount,
		artifact.Meta,
		artifact.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}
	return nil
}

// GetArtifact retrieves an artifact by id.
func (s *PostgresStore) GetArtifact(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	query := `
		SELECT artifact_id, kind, cas_id, workflow_name, source_hash,
			nodes_count, edges_count, meta, created_at
		FROM artifact
		WHERE artifact_id = $1
	`
	a := &Artifact{}
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&a.ArtifactID, &a.Kind, &a.CasID, &a.WorkflowName, &a.SourceHash,
		&a.NodesCount, &a.EdgesCount, &a.Meta, &a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

// GetArtifactBySourceHash finds the most recent artifact of kind compiled
// from the source blob identified by sourceHash — the compile-cache lookup
// that lets an unchanged workflow skip the pipeline entirely.
func (s *PostgresStore) GetArtifactBySourceHash(ctx context.Context, kind Kind, sourceHash string) (*Artifact, error) {
	query := `
		SELECT artifact_id, kind, cas_id, workflow_name, source_hash,
			nodes_count, edges_count, meta, created_at
		FROM artifact
		WHERE kind = $1 AND source_hash = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	a := &Artifact{}
	err := s.pool.QueryRow(ctx, query, kind, sourceHash).Scan(
		&a.ArtifactID, &a.Kind, &a.CasID, &a.WorkflowName, &a.SourceHash,
		&a.NodesCount, &a.EdgesCount, &a.Meta, &a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get artifact by source hash: %w", err)
	}
	return a, nil
}

// ListByWorkflow lists artifacts compiled from workflows named name, most
// recent first.
func (s *PostgresStore) ListByWorkflow(ctx context.Context, name string, limit int) ([]*Artifact, error) {
	query := `
		SELECT artifact_id, kind, cas_id, workflow_name, source_hash,
			nodes_count, edges_count, meta, created_at
		FROM artifact
		WHERE workflow_name = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, name, limit)
	if err != nil {
		return nil, fmt.Errorf("list artifacts by workflow: %w", err)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		a := &Artifact{}
		if err := rows.Scan(
			&a.ArtifactID, &a.Kind, &a.CasID, &a.WorkflowName, &a.SourceHash,
			&a.NodesCount, &a.EdgesCount, &a.Meta, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return artifacts, nil
}
