package googledrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jun/promptdrive/internal/adapter"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const fileFields = "id, name, mimeType, modifiedTime, size, parents, webViewLink"

// DriveAdapter implements adapter.StorageAdapter for Google Drive.
type DriveAdapter struct {
	service *drive.Service
}

// NewDriveAdapter creates a new DriveAdapter.
// client should be an authenticated http.Client with specific user credentials.
func NewDriveAdapter(ctx context.Context, client *http.Client, opts ...option.ClientOption) (*DriveAdapter, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Drive client: %w", err)
	}
	return &DriveAdapter{service: srv}, nil
}

// escapeQuery escapes a value for use inside a single-quoted Drive query string.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func parentOrRoot(id string) string {
	if id == "" {
		return adapter.RootFolderID
	}
	return id
}

// FindFolder looks up a folder by exact name under parentID. When
// concurrent creation left duplicates, the oldest one wins.
func (d *DriveAdapter) FindFolder(ctx context.Context, name, parentID string) (*adapter.FileMetadata, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and '%s' in parents and trashed = false",
		escapeQuery(name), adapter.FolderMIMEType, escapeQuery(parentOrRoot(parentID)))

	r, err := d.service.Files.List().
		Q(q).
		OrderBy("createdTime").
		PageSize(1).
		Fields(googleapi.Field("files(" + fileFields + ")")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapError("unable to search for folder", err)
	}
	if len(r.Files) == 0 {
		return nil, adapter.ErrNotFound
	}
	return toMetadata(r.Files[0]), nil
}

// CreateFolder creates a new folder.
func (d *DriveAdapter) CreateFolder(ctx context.Context, name, parentID string) (*adapter.FileMetadata, error) {
	f := &drive.File{
		Name:     name,
		MimeType: adapter.FolderMIMEType,
		Parents:  []string{parentOrRoot(parentID)},
	}

	res, err := d.service.Files.Create(f).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapError("unable to create folder", err)
	}
	return toMetadata(res), nil
}

// EnsureFolder finds the folder or creates it when missing.
func (d *DriveAdapter) EnsureFolder(ctx context.Context, name, parentID string) (*adapter.FileMetadata, error) {
	folder, err := d.FindFolder(ctx, name, parentID)
	if err == nil {
		return folder, nil
	}
	if !errors.Is(err, adapter.ErrNotFound) {
		return nil, err
	}
	return d.CreateFolder(ctx, name, parentID)
}

// UploadFile creates a new file with the given content in folderID.
func (d *DriveAdapter) UploadFile(ctx context.Context, name, mimeType string, content io.Reader, folderID string) (*adapter.FileMetadata, error) {
	if mimeType == "" {
		mimeType = adapter.DefaultMIMEType
	}
	f := &drive.File{
		Name:     name,
		MimeType: mimeType,
		Parents:  []string{parentOrRoot(folderID)},
	}

	res, err := d.service.Files.Create(f).
		Media(content, googleapi.ContentType(mimeType)).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapError("unable to upload file", err)
	}
	return toMetadata(res), nil
}

// ListFiles lists files in a specific folder, following result pages.
func (d *DriveAdapter) ListFiles(ctx context.Context, folderID string) ([]adapter.FileMetadata, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(parentOrRoot(folderID)))

	files := []adapter.FileMetadata{}
	err := d.service.Files.List().
		Q(q).
		OrderBy("createdTime").
		Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).
		Pages(ctx, func(r *drive.FileList) error {
			for _, f := range r.Files {
				files = append(files, *toMetadata(f))
			}
			return nil
		})
	if err != nil {
		return nil, wrapError("unable to list files", err)
	}
	return files, nil
}

func toMetadata(f *drive.File) *adapter.FileMetadata {
	modTime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	return &adapter.FileMetadata{
		ID:           f.Id,
		Name:         f.Name,
		MIMEType:     f.MimeType,
		ModifiedTime: modTime,
		Size:         f.Size,
		Parents:      f.Parents,
		WebViewLink:  f.WebViewLink,
	}
}

// wrapError maps Drive and token errors onto adapter sentinels.
func wrapError(msg string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", msg, adapter.ErrNotFound, err)
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w: %w", msg, adapter.ErrUnauthorized, err)
		case http.StatusRequestEntityTooLarge:
			return fmt.Errorf("%s: %w: %w", msg, adapter.ErrTooLarge, err)
		}
	}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		return fmt.Errorf("%s: %w: %w", msg, adapter.ErrUnauthorized, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
