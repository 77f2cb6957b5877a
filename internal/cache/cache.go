/**
 * Content-addressed cache for expensive pipeline intermediates
 *
 * Namespaces partition entry kinds (ocr, embedding, font) so a capacity
 * or TTL sweep in one namespace never evicts another's entries. Keys are
 * content hashes, so concurrent writers racing on the same key always
 * write equivalent values and the last write is as good as the first.
 */

package cache

import (
	"context"
	"time"
)

// Well-known namespaces used by the pipeline.
const (
	NamespaceOCR       = "ocr"
	NamespaceEmbedding = "embedding"
	NamespaceFont      = "font"
)

// Cache stores serialized intermediates keyed by namespace and content hash.
type Cache interface {
	// Get returns the cached value and whether it was present and fresh.
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)

	// Set stores a value with the given time-to-live. A zero ttl means
	// the entry never expires.
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error

	// Delete removes an entry if present.
	Delete(ctx context.Context, namespace, key string) error

	// Close releases backend resources.
	Close() error
}
