package adapter

import (
	"context"
	"io"
	"time"
)

const (
	// RootFolderID addresses the root of the user's storage.
	RootFolderID = "root"

	// FolderMIMEType is the MIME type Drive uses for folders.
	FolderMIMEType = "application/vnd.google-apps.folder"

	// DefaultMIMEType is used for uploads whose type cannot be detected.
	DefaultMIMEType = "application/octet-stream"
)

// FileMetadata represents metadata about a file or folder in cloud storage.
type FileMetadata struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MIMEType     string    `json:"mimeType"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Size         int64     `json:"size"`
	Parents      []string  `json:"parents,omitempty"`
	WebViewLink  string    `json:"webViewLink,omitempty"`
}

// IsFolder reports whether the entry is a folder.
func (f *FileMetadata) IsFolder() bool {
	return f.MIMEType == FolderMIMEType
}

// ParentID returns the first parent, or an empty string.
func (f *FileMetadata) ParentID() string {
	if len(f.Parents) == 0 {
		return ""
	}
	return f.Parents[0]
}

// StorageAdapter defines the interface for interacting with cloud storage services.
// An empty parent or folder ID means the storage root.
type StorageAdapter interface {
	// FindFolder returns the folder with exactly this name directly under
	// parentID, or ErrNotFound.
	FindFolder(ctx context.Context, name, parentID string) (*FileMetadata, error)

	// CreateFolder creates a new folder under parentID.
	CreateFolder(ctx context.Context, name, parentID string) (*FileMetadata, error)

	// EnsureFolder returns the named folder under parentID, creating it when
	// it does not exist yet.
	EnsureFolder(ctx context.Context, name, parentID string) (*FileMetadata, error)

	// UploadFile stores content as a new file in folderID.
	UploadFile(ctx context.Context, name, mimeType string, content io.Reader, folderID string) (*FileMetadata, error)

	// ListFiles lists the non-trashed children of folderID in creation order.
	ListFiles(ctx context.Context, folderID string) ([]FileMetadata, error)
}
