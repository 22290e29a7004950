package session

import (
	"context"
	"errors"
	"time"

	"github.com/jun/promptdrive/internal/model"
)

// DefaultTTL bounds how long a browser session is kept server-side.
const DefaultTTL = 12 * time.Hour

// DemoPrefix marks sessions that run against the in-memory storage.
const DemoPrefix = "demo-"

var (
	// ErrNotFound is returned for unknown or expired sessions.
	ErrNotFound = errors.New("session not found")

	// ErrStateMismatch is returned when the OAuth state does not match the
	// pending state of the session, or no state is pending.
	ErrStateMismatch = errors.New("oauth state mismatch")
)

// Store persists browser sessions.
type Store interface {
	// Create starts a new session.
	Create(ctx context.Context, demo bool) (*model.BrowserSession, error)

	// Get returns a live session.
	Get(ctx context.Context, sessionID string) (*model.BrowserSession, error)

	// SetState records the pending OAuth state, replacing any previous one.
	SetState(ctx context.Context, sessionID, state string) error

	// ConsumeState clears the pending state if it equals state.
	// An empty state consumes whatever state is pending.
	ConsumeState(ctx context.Context, sessionID, state string) error

	// SetCredential stores the encrypted credential blob.
	SetCredential(ctx context.Context, sessionID, encrypted string) error

	// Delete removes the session. Deleting an unknown session is not an error.
	Delete(ctx context.Context, sessionID string) error
}

// IsDemo reports whether the session ID belongs to a demo session.
func IsDemo(sessionID string) bool {
	return len(sessionID) > len(DemoPrefix) && sessionID[:len(DemoPrefix)] == DemoPrefix
}
