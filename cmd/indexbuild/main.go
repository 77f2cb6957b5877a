/**
 * Template Index Builder
 *
 * Walks a template directory, embeds each image through the CLIP
 * embedding service, and stores vector + metadata in the template
 * library (Qdrant + PostgreSQL). Run once to seed the index or again
 * to pick up new templates; existing paths are re-embedded in place.
 */

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/agent-thor/meme-generator/internal/clients"
	"github.com/agent-thor/meme-generator/internal/config"
	"github.com/agent-thor/meme-generator/internal/imaging"
	"github.com/agent-thor/meme-generator/internal/storage"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
}

func main() {
	templateDir := flag.String("dir", "", "template directory (defaults to TEMPLATE_DIR)")
	flag.Parse()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	dir := cfg.TemplateDir
	if *templateDir != "" {
		dir = *templateDir
	}
	if dir == "" {
		log.Fatalf("No template directory configured (set TEMPLATE_DIR or pass -dir)")
	}

	log.Printf("Building template index from %s", dir)

	qdrantClient, err := storage.NewQdrantClient(cfg.QdrantURL, cfg.QdrantCollection)
	if err != nil {
		log.Fatalf("Failed to initialize Qdrant client: %v", err)
	}
	postgresClient, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL client: %v", err)
	}
	library, err := storage.NewTemplateLibrary(qdrantClient, postgresClient)
	if err != nil {
		log.Fatalf("Failed to initialize template library: %v", err)
	}
	defer library.Close()

	embedClient, err := clients.NewEmbeddingClient(cfg.EmbedServiceURL)
	if err != nil {
		log.Fatalf("Failed to initialize embedding client: %v", err)
	}

	ctx := context.Background()

	indexed := 0
	failed := 0
	start := time.Now()

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !imageExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Failed to read %s: %v", path, err)
			failed++
			return nil
		}

		// The extension can lie; sniff the bytes before spending an
		// embedding call.
		if format := imaging.DetectFormat(data); format == "" {
			log.Printf("Skipping %s: not a recognized image format", path)
			return nil
		}

		embedCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		embedding, err := embedClient.EmbedImage(embedCtx, data)
		cancel()
		if err != nil {
			log.Printf("Failed to embed %s: %v", path, err)
			failed++
			return nil
		}

		name := templateName(path)
		id, err := library.AddTemplate(ctx, name, path, embedding)
		if err != nil {
			log.Printf("Failed to store %s: %v", path, err)
			failed++
			return nil
		}

		indexed++
		log.Printf("Indexed %s (id=%s)", name, id)
		return nil
	})
	if err != nil {
		log.Fatalf("Failed to walk template directory: %v", err)
	}

	stats, statsErr := library.Stats(ctx)
	if statsErr == nil {
		log.Printf("Collection stats: %v", stats)
	}

	log.Printf("Done in %v: %d indexed, %d failed", time.Since(start).Round(time.Millisecond), indexed, failed)
	if failed > 0 && indexed == 0 {
		os.Exit(1)
	}
}

// templateName derives a display name from the file name, so
// "Distracted-Boyfriend.jpg" becomes "distracted boyfriend".
func templateName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	return strings.ToLower(strings.Join(strings.Fields(base), " "))
}
