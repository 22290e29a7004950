// Package journal files daily prompt responses into dated Drive folders.
package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jun/promptdrive/internal/adapter"
	"github.com/jun/promptdrive/internal/model"
	"github.com/jun/promptdrive/internal/prompt"
	"golang.org/x/sync/errgroup"
)

// DefaultAppFolder is the Drive folder that holds one folder per day.
const DefaultAppFolder = "Daily Prompts"

const (
	responseMIMEType = "text/plain; charset=utf-8"
	responsePrefix   = "response_"
)

var (
	// ErrEmptySubmission is returned when neither a response nor an
	// attachment was given.
	ErrEmptySubmission = errors.New("nothing to submit")

	// ErrInvalidDate is returned for dates not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("invalid date")
)

// Attachment is a user-supplied file.
type Attachment struct {
	Name     string
	MIMEType string
	Content  io.Reader
}

// Submission is one answer to the prompt of the day.
type Submission struct {
	Response    string
	Attachments []Attachment
}

// Service selects prompts and files submissions.
type Service struct {
	book        *prompt.Book
	appFolder   string
	loc         *time.Location
	now         func() time.Time
	uploadLimit int
}

// Option configures a Service.
type Option func(*Service)

// WithAppFolder sets the name of the top-level Drive folder.
func WithAppFolder(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.appFolder = name
		}
	}
}

// WithLocation sets the time zone that decides the calendar day.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithUploadLimit bounds how many uploads of one submission run at once.
func WithUploadLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.uploadLimit = n
		}
	}
}

// NewService returns a Service over book.
func NewService(book *prompt.Book, opts ...Option) *Service {
	s := &Service{
		book:        book,
		appFolder:   DefaultAppFolder,
		loc:         time.Local,
		now:         time.Now,
		uploadLimit: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppFolder returns the name of the top-level folder.
func (s *Service) AppFolder() string {
	return s.appFolder
}

// Today returns the current time in the service's location.
func (s *Service) Today() time.Time {
	return s.now().In(s.loc)
}

// ParseDate parses a YYYY-MM-DD date in the service's location. An empty
// string means today.
func (s *Service) ParseDate(value string) (time.Time, error) {
	if value == "" {
		return s.Today(), nil
	}
	t, err := time.ParseInLocation(prompt.DateLayout, value, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return t, nil
}

// PromptFor returns the prompt of the calendar day of t.
func (s *Service) PromptFor(t time.Time) model.Prompt {
	return s.book.ForDate(t.In(s.loc))
}

// DayFolder ensures <app folder>/<YYYY-MM-DD> exists and returns the date
// folder.
func (s *Service) DayFolder(ctx context.Context, store adapter.StorageAdapter, t time.Time) (*model.DriveFolder, error) {
	app, err := store.EnsureFolder(ctx, s.appFolder, "")
	if err != nil {
		return nil, fmt.Errorf("failed to ensure folder %q: %w", s.appFolder, err)
	}

	name := t.In(s.loc).Format(prompt.DateLayout)
	day, err := store.EnsureFolder(ctx, name, app.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure folder %q: %w", name, err)
	}
	return &model.DriveFolder{ID: day.ID, Name: day.Name, ParentID: app.ID}, nil
}

type upload struct {
	name     string
	mimeType string
	kind     model.ArtifactKind
	content  io.Reader
}

// Submit uploads the response text and every attachment into today's folder.
// Artifacts in the receipt keep submission order: the response first, then
// the attachments.
func (s *Service) Submit(ctx context.Context, store adapter.StorageAdapter, sub Submission) (*model.Receipt, error) {
	response := strings.TrimSpace(sub.Response)
	if response == "" && len(sub.Attachments) == 0 {
		return nil, ErrEmptySubmission
	}

	now := s.Today()
	p := s.PromptFor(now)

	folder, err := s.DayFolder(ctx, store, now)
	if err != nil {
		return nil, err
	}

	var uploads []upload
	if response != "" {
		uploads = append(uploads, upload{
			name:     ResponseFileName(now),
			mimeType: responseMIMEType,
			kind:     model.KindResponse,
			content:  strings.NewReader(FormatResponse(p, response)),
		})
	}
	for i, a := range sub.Attachments {
		name := AttachmentName(a.Name, i)
		uploads = append(uploads, upload{
			name:     name,
			mimeType: DetectMIMEType(name, a.MIMEType),
			kind:     model.KindAttachment,
			content:  a.Content,
		})
	}

	artifacts := make([]model.UploadedArtifact, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.uploadLimit)
	for i, u := range uploads {
		g.Go(func() error {
			res, err := store.UploadFile(gctx, u.name, u.mimeType, u.content, folder.ID)
			if err != nil {
				return fmt.Errorf("failed to upload %q: %w", u.name, err)
			}
			artifacts[i] = toArtifact(res, folder.ID, u.kind)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &model.Receipt{
		Date:      p.Date,
		Prompt:    p,
		Folder:    *folder,
		Artifacts: artifacts,
	}, nil
}

// Entries lists what was filed for the calendar day of t. A day without a
// folder has no entries.
func (s *Service) Entries(ctx context.Context, store adapter.StorageAdapter, t time.Time) ([]model.UploadedArtifact, error) {
	entries := []model.UploadedArtifact{}

	app, err := store.FindFolder(ctx, s.appFolder, "")
	if errors.Is(err, adapter.ErrNotFound) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find folder %q: %w", s.appFolder, err)
	}

	name := t.In(s.loc).Format(prompt.DateLayout)
	day, err := store.FindFolder(ctx, name, app.ID)
	if errors.Is(err, adapter.ErrNotFound) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find folder %q: %w", name, err)
	}

	files, err := store.ListFiles(ctx, day.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folder %q: %w", name, err)
	}
	for i := range files {
		if files[i].IsFolder() {
			continue
		}
		kind := model.KindAttachment
		if isResponseName(files[i].Name) {
			kind = model.KindResponse
		}
		entries = append(entries, toArtifact(&files[i], day.ID, kind))
	}
	return entries, nil
}

// ResponseFileName names the response file after the submission time.
func ResponseFileName(t time.Time) string {
	return responsePrefix + t.Format("150405") + ".txt"
}

func isResponseName(name string) bool {
	return strings.HasPrefix(name, responsePrefix) && strings.HasSuffix(name, ".txt")
}

// FormatResponse renders the response file: a short header naming the day
// and the prompt, a blank line, then the response.
func FormatResponse(p model.Prompt, response string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\n", p.Date)
	fmt.Fprintf(&b, "Prompt: %s\n", p.Text)
	b.WriteString("\n")
	b.WriteString(response)
	b.WriteString("\n")
	return b.String()
}

// AttachmentName reduces a client-supplied file name to its base name.
// Names that reduce to nothing become attachment_<n>.
func AttachmentName(name string, index int) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.TrimSpace(path.Base(name))
	if name == "" || name == "." || name == "/" || name == ".." {
		return fmt.Sprintf("attachment_%d", index+1)
	}
	return name
}

// DetectMIMEType prefers the declared type, then the extension, then
// application/octet-stream.
func DetectMIMEType(name, declared string) string {
	if declared != "" && declared != adapter.DefaultMIMEType {
		return declared
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return adapter.DefaultMIMEType
}

func toArtifact(f *adapter.FileMetadata, folderID string, kind model.ArtifactKind) model.UploadedArtifact {
	return model.UploadedArtifact{
		ID:          f.ID,
		Name:        f.Name,
		MIMEType:    f.MIMEType,
		Size:        f.Size,
		FolderID:    folderID,
		Kind:        kind,
		WebViewLink: f.WebViewLink,
	}
}
