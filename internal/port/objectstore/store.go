// Package objectstore defines the port for artifact content storage.
// Metadata lives in the database; the raw bytes live here.
package objectstore

import "context"

// Store persists artifact content addressed by storage path.
type Store interface {
	// Put writes content and returns the storage path.
	Put(ctx context.Context, key string, content []byte) (string, error)

	// Get reads content by storage path.
	Get(ctx context.Context, path string) ([]byte, error)

	// Delete removes content. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error
}
