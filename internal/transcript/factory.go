package transcript

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when a database URL is set, a
// file store when a path is set, otherwise an in-memory store.
func NewStore(ctx context.Context, databaseURL, path string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(path) != "" {
		return NewFileStore(path)
	}
	return NewInMemoryStore(), nil
}
