/**
 * PostgreSQL Client for the meme worker
 *
 * Persists template metadata and meme job bookkeeping.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// TemplateMeta is the relational side of a stored template
type TemplateMeta struct {
	ID        string
	Name      string
	ImagePath string
	CreatedAt time.Time
}

// JobUpdate represents a meme job status update
type JobUpdate struct {
	JobID             string
	Status            string
	Strategy          string
	Similarity        float64
	ProcessingTimeMs  int64
	InpaintingApplied bool
	ErrorCode         string
	ErrorMessage      string
	Metadata          map[string]interface{}
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// InsertTemplate stores template metadata
func (p *PostgresClient) InsertTemplate(ctx context.Context, meta *TemplateMeta) error {
	if meta.ID == "" {
		return fmt.Errorf("template ID is required")
	}
	if meta.ImagePath == "" {
		return fmt.Errorf("template image path is required")
	}

	query := `
		INSERT INTO memegen.templates (id, name, image_path, created_at)
		VALUES ($1::uuid, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			image_path = EXCLUDED.image_path
	`

	if _, err := p.db.ExecContext(ctx, query, meta.ID, meta.Name, meta.ImagePath); err != nil {
		return fmt.Errorf("failed to insert template: %w", err)
	}

	return nil
}

// DeleteTemplate removes template metadata
func (p *PostgresClient) DeleteTemplate(ctx context.Context, templateID string) error {
	if templateID == "" {
		return fmt.Errorf("template ID is required")
	}

	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM memegen.templates WHERE id = $1::uuid`, templateID); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	return nil
}

// GetTemplate retrieves template metadata by ID
func (p *PostgresClient) GetTemplate(ctx context.Context, templateID string) (*TemplateMeta, error) {
	if templateID == "" {
		return nil, fmt.Errorf("template ID is required")
	}

	var meta TemplateMeta
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, image_path, created_at FROM memegen.templates WHERE id = $1::uuid`,
		templateID,
	).Scan(&meta.ID, &meta.Name, &meta.ImagePath, &meta.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template not found: %s", templateID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return &meta, nil
}

// ListTemplates returns all template metadata keyed by ID
func (p *PostgresClient) ListTemplates(ctx context.Context) (map[string]*TemplateMeta, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, name, image_path, created_at FROM memegen.templates`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	templates := make(map[string]*TemplateMeta)
	for rows.Next() {
		var meta TemplateMeta
		if err := rows.Scan(&meta.ID, &meta.Name, &meta.ImagePath, &meta.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		templates[meta.ID] = &meta
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate template rows: %w", err)
	}

	return templates, nil
}

// UpdateJobStatus upserts the job record so the worker can create it on
// first status update even when the enqueuing side did not.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO memegen.meme_jobs (
			id, status, strategy, similarity, processing_time_ms,
			inpainting_applied, error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, $2, NULLIF($3, ''), NULLIF($4::NUMERIC(6,2), 0), NULLIF($5, 0),
			$6, NULLIF($7, ''), NULLIF($8, ''),
			COALESCE($9::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			strategy = COALESCE(EXCLUDED.strategy, memegen.meme_jobs.strategy),
			similarity = COALESCE(EXCLUDED.similarity, memegen.meme_jobs.similarity),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, memegen.meme_jobs.processing_time_ms),
			inpainting_applied = EXCLUDED.inpainting_applied,
			error_code = NULLIF(EXCLUDED.error_code, ''),
			error_message = NULLIF(EXCLUDED.error_message, ''),
			metadata = COALESCE(EXCLUDED.metadata, memegen.meme_jobs.metadata),
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,
		update.Status,
		update.Strategy,
		sanitizeSimilarity(update.Similarity),
		update.ProcessingTimeMs,
		update.InpaintingApplied,
		update.ErrorCode,
		update.ErrorMessage,
		metadataJSON,
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// sanitizeSimilarity bounds the score to [0,100] with two decimals so
// the NUMERIC(6,2) column never rejects float noise.
func sanitizeSimilarity(similarity float64) float64 {
	if similarity < 0 {
		return 0
	}
	if similarity > 100 {
		return 100
	}
	return float64(int(similarity*100+0.5)) / 100
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
