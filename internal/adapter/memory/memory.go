package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jun/promptdrive/internal/adapter"
)

const (
	maxDemoContentSize = 256 * 1024 // 256KB
	maxDemoTitleLength = 255
	maxDemoItemCount   = 50
)

type item struct {
	meta    adapter.FileMetadata
	content []byte
}

// MemoryAdapter implements adapter.StorageAdapter on an in-process map.
// It backs demo sessions and tests, so every write is bounded by the demo
// limits.
type MemoryAdapter struct {
	mu    sync.RWMutex
	items map[string]*item
	order []string
	now   func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		items: make(map[string]*item),
		now:   time.Now,
	}
}

func parentOrRoot(id string) string {
	if id == "" {
		return adapter.RootFolderID
	}
	return id
}

// checkLimits validates a new entry. Callers hold m.mu.
func (m *MemoryAdapter) checkLimits(name string) error {
	if len(name) > maxDemoTitleLength {
		return fmt.Errorf("name too long (max %d characters)", maxDemoTitleLength)
	}
	if len(m.items) >= maxDemoItemCount {
		return fmt.Errorf("item limit reached for demo mode (max %d items)", maxDemoItemCount)
	}
	return nil
}

// insert stores a new entry. Callers hold m.mu.
func (m *MemoryAdapter) insert(name, mimeType, parentID string, content []byte) *adapter.FileMetadata {
	id := uuid.New().String()
	it := &item{
		meta: adapter.FileMetadata{
			ID:           id,
			Name:         name,
			MIMEType:     mimeType,
			ModifiedTime: m.now(),
			Size:         int64(len(content)),
			Parents:      []string{parentOrRoot(parentID)},
		},
		content: content,
	}
	m.items[id] = it
	m.order = append(m.order, id)
	meta := it.meta
	return &meta
}

// findFolder looks up a folder by name. Callers hold m.mu.
func (m *MemoryAdapter) findFolder(name, parentID string) *adapter.FileMetadata {
	parent := parentOrRoot(parentID)
	for _, id := range m.order {
		it := m.items[id]
		if it.meta.IsFolder() && it.meta.Name == name && it.meta.ParentID() == parent {
			meta := it.meta
			return &meta
		}
	}
	return nil
}

func (m *MemoryAdapter) FindFolder(ctx context.Context, name, parentID string) (*adapter.FileMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if f := m.findFolder(name, parentID); f != nil {
		return f, nil
	}
	return nil, adapter.ErrNotFound
}

func (m *MemoryAdapter) CreateFolder(ctx context.Context, name, parentID string) (*adapter.FileMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLimits(name); err != nil {
		return nil, err
	}
	return m.insert(name, adapter.FolderMIMEType, parentID, nil), nil
}

// EnsureFolder finds or creates the folder in one critical section, so
// concurrent callers never produce duplicates.
func (m *MemoryAdapter) EnsureFolder(ctx context.Context, name, parentID string) (*adapter.FileMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f := m.findFolder(name, parentID); f != nil {
		return f, nil
	}
	if err := m.checkLimits(name); err != nil {
		return nil, err
	}
	return m.insert(name, adapter.FolderMIMEType, parentID, nil), nil
}

func (m *MemoryAdapter) UploadFile(ctx context.Context, name, mimeType string, content io.Reader, folderID string) (*adapter.FileMetadata, error) {
	data, err := io.ReadAll(io.LimitReader(content, maxDemoContentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) > maxDemoContentSize {
		return nil, fmt.Errorf("%w (max %d bytes in demo mode)", adapter.ErrTooLarge, maxDemoContentSize)
	}
	if mimeType == "" {
		mimeType = adapter.DefaultMIMEType
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if folderID != "" && folderID != adapter.RootFolderID {
		if parent, ok := m.items[folderID]; !ok || !parent.meta.IsFolder() {
			return nil, adapter.ErrNotFound
		}
	}
	if err := m.checkLimits(name); err != nil {
		return nil, err
	}
	return m.insert(name, mimeType, folderID, data), nil
}

func (m *MemoryAdapter) ListFiles(ctx context.Context, folderID string) ([]adapter.FileMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	parent := parentOrRoot(folderID)
	files := []adapter.FileMetadata{}
	for _, id := range m.order {
		if it := m.items[id]; it.meta.ParentID() == parent {
			files = append(files, it.meta)
		}
	}
	return files, nil
}

// Content returns a copy of the stored bytes of a file.
func (m *MemoryAdapter) Content(fileID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[fileID]
	if !ok {
		return nil, adapter.ErrNotFound
	}
	return bytes.Clone(it.content), nil
}

// Provider implements adapter.StorageProvider with one MemoryAdapter per
// session.
type Provider struct {
	stores map[string]*MemoryAdapter
	mu     sync.Mutex
}

func NewProvider() *Provider {
	return &Provider{
		stores: make(map[string]*MemoryAdapter),
	}
}

func (p *Provider) GetAdapter(ctx context.Context, sessionID string) (adapter.StorageAdapter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.stores[sessionID]; !ok {
		p.stores[sessionID] = NewMemoryAdapter()
	}
	return p.stores[sessionID], nil
}

// Sessions returns the IDs of the sessions that currently hold storage.
func (p *Provider) Sessions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.stores))
	for id := range p.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Release drops the storage of a session.
func (p *Provider) Release(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.stores, sessionID)
}
