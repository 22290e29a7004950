package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jun/promptdrive/internal/model"
)

// MemoryStore implements Store using an in-memory map. Sessions are lost on
// restart, which is the original behaviour of the app.
type MemoryStore struct {
	sessions map[string]*model.BrowserSession
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore creates a new MemoryStore with the given TTL (DefaultTTL if zero).
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		sessions: make(map[string]*model.BrowserSession),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(ctx context.Context, demo bool) (*model.BrowserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	id := uuid.New().String()
	if demo {
		id = DemoPrefix + id
	}
	sess := &model.BrowserSession{
		ID:        id,
		Demo:      demo,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl).Unix(),
	}
	m.sessions[id] = sess
	copied := *sess
	return &copied, nil
}

// live returns the stored session or nil. Callers hold m.mu.
func (m *MemoryStore) live(sessionID string) *model.BrowserSession {
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	if sess.Expired(m.now()) {
		delete(m.sessions, sessionID)
		return nil
	}
	return sess
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*model.BrowserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.live(sessionID)
	if sess == nil {
		return nil, ErrNotFound
	}
	copied := *sess
	return &copied, nil
}

func (m *MemoryStore) SetState(ctx context.Context, sessionID, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.live(sessionID)
	if sess == nil {
		return ErrNotFound
	}
	sess.OAuthState = state
	return nil
}

func (m *MemoryStore) ConsumeState(ctx context.Context, sessionID, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.live(sessionID)
	if sess == nil || sess.OAuthState == "" {
		return ErrStateMismatch
	}
	if state != "" && sess.OAuthState != state {
		return ErrStateMismatch
	}
	sess.OAuthState = ""
	return nil
}

func (m *MemoryStore) SetCredential(ctx context.Context, sessionID, encrypted string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.live(sessionID)
	if sess == nil {
		return ErrNotFound
	}
	sess.EncryptedCredential = encrypted
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}
