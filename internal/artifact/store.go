package artifact

import (
	"context"
	"errors"
)

// Store persists final game bundles and exposes download URLs for them.
type Store interface {
	Put(ctx context.Context, gameID, path string, content []byte) error
	Get(ctx context.Context, gameID, path string) ([]byte, error)
	// DownloadURL returns a time-limited URL for fetching the object.
	DownloadURL(ctx context.Context, gameID, path string) (string, error)
	List(ctx context.Context, gameID string) ([]string, error)
}

var ErrNotFound = errors.New("artifact not found")
