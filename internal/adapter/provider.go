package adapter

import (
	"context"
)

// StorageProvider defines how to get a StorageAdapter for a browser session.
type StorageProvider interface {
	// GetAdapter returns a StorageAdapter for the given session ID.
	GetAdapter(ctx context.Context, sessionID string) (StorageAdapter, error)
}
