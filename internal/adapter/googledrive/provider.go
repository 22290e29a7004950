package googledrive

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jun/promptdrive/internal/adapter"
)

// ClientSource hands out authenticated HTTP clients per browser session.
// *auth.AuthService satisfies it.
type ClientSource interface {
	GetClient(ctx context.Context, sessionID string) (*http.Client, error)
}

// Provider implements adapter.StorageProvider for Google Drive.
type Provider struct {
	clients ClientSource
}

// NewProvider creates a new Google Drive provider.
func NewProvider(clients ClientSource) *Provider {
	return &Provider{clients: clients}
}

// GetAdapter returns a DriveAdapter bound to the session's credential.
func (p *Provider) GetAdapter(ctx context.Context, sessionID string) (adapter.StorageAdapter, error) {
	client, err := p.clients.GetClient(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	storage, err := NewDriveAdapter(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive adapter: %w", err)
	}

	return storage, nil
}
