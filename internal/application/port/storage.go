package port

import "context"

// FileStore persists uploaded document bytes. Stored files are immutable:
// written once by the save-file step and never rewritten.
type FileStore interface {
	// Save writes content under a collision-resistant name derived from the
	// original filename and returns the store-relative path.
	Save(ctx context.Context, originalName string, content []byte) (string, error)

	// Read returns the content previously stored at the relative path.
	Read(ctx context.Context, relativePath string) ([]byte, error)

	// Resolve maps a store-relative path to an absolute one, rejecting any
	// path that would escape the upload root.
	Resolve(relativePath string) (string, error)
}
