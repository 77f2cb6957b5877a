/**
 * Template Library for the meme worker
 *
 * Composes the Qdrant vector store and the PostgreSQL metadata store
 * into one unit. Writes go to Qdrant first and PostgreSQL second, with
 * a rollback of the vector on metadata failure so the two stores never
 * drift apart.
 */

package storage

import (
	"context"
	"fmt"
	"log"

	"github.com/agent-thor/meme-generator/internal/clients"
	"github.com/agent-thor/meme-generator/internal/index"
)

// TemplateLibrary coordinates the vector store and the metadata store.
type TemplateLibrary struct {
	qdrant   *QdrantClient
	postgres *PostgresClient
}

// NewTemplateLibrary creates a library over the two stores. The
// postgres client may be nil when the worker runs without relational
// bookkeeping; job updates then become no-ops.
func NewTemplateLibrary(qdrant *QdrantClient, postgres *PostgresClient) (*TemplateLibrary, error) {
	if qdrant == nil {
		return nil, fmt.Errorf("qdrant client is required")
	}
	return &TemplateLibrary{qdrant: qdrant, postgres: postgres}, nil
}

// AddTemplate stores the embedding in Qdrant and the metadata in
// PostgreSQL. Returns the template ID.
func (l *TemplateLibrary) AddTemplate(ctx context.Context, name, imagePath string, embedding []float32) (string, error) {
	if imagePath == "" {
		return "", fmt.Errorf("image path is required")
	}

	tpl := &TemplateVector{
		Vector: clients.Normalize(embedding),
		Metadata: map[string]interface{}{
			"name":       name,
			"image_path": imagePath,
		},
	}

	if err := l.qdrant.UpsertTemplate(ctx, tpl); err != nil {
		return "", fmt.Errorf("failed to store template vector: %w", err)
	}

	if l.postgres != nil {
		meta := &TemplateMeta{
			ID:        tpl.ID,
			Name:      name,
			ImagePath: imagePath,
		}
		if err := l.postgres.InsertTemplate(ctx, meta); err != nil {
			// Roll back the vector so the stores stay consistent.
			if delErr := l.qdrant.DeleteTemplate(ctx, tpl.ID); delErr != nil {
				log.Printf("Failed to rollback template vector %s: %v", tpl.ID, delErr)
			}
			return "", fmt.Errorf("failed to store template metadata: %w", err)
		}
	}

	return tpl.ID, nil
}

// RemoveTemplate deletes a template from both stores.
func (l *TemplateLibrary) RemoveTemplate(ctx context.Context, templateID string) error {
	if err := l.qdrant.DeleteTemplate(ctx, templateID); err != nil {
		return fmt.Errorf("failed to delete template vector: %w", err)
	}

	if l.postgres != nil {
		if err := l.postgres.DeleteTemplate(ctx, templateID); err != nil {
			return fmt.Errorf("failed to delete template metadata: %w", err)
		}
	}

	return nil
}

// LoadSnapshot scrolls the full Qdrant collection and converts it into
// index records. Payload fields win; PostgreSQL metadata fills gaps for
// templates indexed before payloads carried names.
func (l *TemplateLibrary) LoadSnapshot(ctx context.Context) ([]index.TemplateRecord, error) {
	vectors, err := l.qdrant.ScrollAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scroll template vectors: %w", err)
	}

	var metas map[string]*TemplateMeta
	if l.postgres != nil {
		metas, err = l.postgres.ListTemplates(ctx)
		if err != nil {
			log.Printf("Failed to list template metadata, continuing with payloads only: %v", err)
			metas = nil
		}
	}

	records := make([]index.TemplateRecord, 0, len(vectors))
	for _, vec := range vectors {
		if len(vec.Vector) != EmbeddingDimensions {
			log.Printf("Skipping template %s with %d dimensions", vec.ID, len(vec.Vector))
			continue
		}

		rec := index.TemplateRecord{
			ID:        vec.ID,
			Embedding: clients.Normalize(vec.Vector),
		}
		if name, ok := vec.Metadata["name"].(string); ok {
			rec.Name = name
		}
		if path, ok := vec.Metadata["image_path"].(string); ok {
			rec.ImagePath = path
		}
		if meta, ok := metas[vec.ID]; ok {
			if rec.Name == "" {
				rec.Name = meta.Name
			}
			if rec.ImagePath == "" {
				rec.ImagePath = meta.ImagePath
			}
		}

		records = append(records, rec)
	}

	return records, nil
}

// UpdateJobStatus records job progress. No-op without PostgreSQL.
func (l *TemplateLibrary) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if l.postgres == nil {
		return nil
	}
	return l.postgres.UpdateJobStatus(ctx, update)
}

// Stats reports vector store statistics for health endpoints and logs.
func (l *TemplateLibrary) Stats(ctx context.Context) (map[string]interface{}, error) {
	return l.qdrant.GetCollectionInfo(ctx)
}

// Close closes both stores.
func (l *TemplateLibrary) Close() error {
	var firstErr error
	if err := l.qdrant.Close(); err != nil {
		firstErr = err
	}
	if l.postgres != nil {
		if err := l.postgres.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
