// Package blob defines the external blob-storage contract used for profile
// photos and export backups. Keys are namespaced by purpose and by owning
// account so backends can apply per-prefix policies.
package blob

import (
	"context"
	"path"
	"time"
)

// Storage provides access to an external blob store.
type Storage interface {
	// Upload writes the payload under key and returns its public URL.
	Upload(ctx context.Context, key string, payload []byte) (string, error)

	// Download returns the payload stored under key.
	// Returns ErrNotFound if the key is unknown.
	Download(ctx context.Context, key string) ([]byte, error)

	// Delete removes the payload stored under key.
	Delete(ctx context.Context, key string) error

	// SignedURL returns a time-limited URL for the key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// PhotoKey builds the key for a student profile photo.
func PhotoKey(accountID, photoID string) string {
	return path.Join("photos", accountID, photoID)
}

// BackupKey builds the key for an export backup document.
func BackupKey(accountID, name string) string {
	return path.Join("backups", accountID, name)
}
