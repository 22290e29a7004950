package googledrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jun/promptdrive/internal/adapter"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

func TestEscapeQuery(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain name", "Daily Prompts", "Daily Prompts"},
		{"single quote", "Bob's notes", `Bob\'s notes`},
		{"backslash", `a\b`, `a\\b`},
		{"backslash before quote", `x\'`, `x\\\'`},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := escapeQuery(tt.in); got != tt.want {
				t.Errorf("escapeQuery(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// fakeDrive is a minimal stand-in for the Drive v3 files endpoints.
type fakeDrive struct {
	mu      sync.Mutex
	files   []*drive.File
	content map[string]string
	queries []string
	nextID  int
	status  int // when set, every request fails with this code
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		fmt.Fprintf(w, `{"error":{"code":%d,"message":"fake failure"}}`, f.status)
		return
	}

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/files"):
		f.list(w, r)
	case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/upload/"):
		f.upload(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/files"):
		var file drive.File
		if err := json.NewDecoder(r.Body).Decode(&file); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.store(w, &file, "")
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeDrive) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	f.queries = append(f.queries, q)

	var matched []*drive.File
	for _, file := range f.files {
		if !strings.Contains(q, "'"+file.Parents[0]+"' in parents") {
			continue
		}
		if strings.Contains(q, "name = ") {
			if !strings.Contains(q, "name = '"+escapeQuery(file.Name)+"'") || file.MimeType != adapter.FolderMIMEType {
				continue
			}
		}
		matched = append(matched, file)
	}

	// Serve one file per page to exercise paging.
	page := 0
	if tok := r.URL.Query().Get("pageToken"); tok != "" {
		fmt.Sscanf(tok, "p%d", &page)
	}
	resp := &drive.FileList{Files: []*drive.File{}}
	if page < len(matched) {
		resp.Files = matched[page : page+1]
		if page+1 < len(matched) && r.URL.Query().Get("pageSize") != "1" {
			resp.NextPageToken = fmt.Sprintf("p%d", page+1)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (f *fakeDrive) upload(w http.ResponseWriter, r *http.Request) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var file drive.File
	if err := json.NewDecoder(metaPart).Decode(&file); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	mediaPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body, _ := io.ReadAll(mediaPart)
	if ct := mediaPart.Header.Get("Content-Type"); ct != file.MimeType {
		http.Error(w, "media content type "+ct+" does not match "+file.MimeType, http.StatusBadRequest)
		return
	}
	file.Size = int64(len(body))
	f.store(w, &file, string(body))
}

func (f *fakeDrive) store(w http.ResponseWriter, file *drive.File, content string) {
	f.nextID++
	file.Id = fmt.Sprintf("id-%d", f.nextID)
	file.WebViewLink = "https://drive.example.com/" + file.Id
	f.files = append(f.files, file)
	if f.content == nil {
		f.content = map[string]string{}
	}
	f.content[file.Id] = content
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(file)
}

func newTestAdapter(t *testing.T) (*DriveAdapter, *fakeDrive) {
	t.Helper()
	fake := &fakeDrive{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	d, err := NewDriveAdapter(context.Background(), srv.Client(), option.WithEndpoint(srv.URL+"/drive/v3/"))
	if err != nil {
		t.Fatalf("NewDriveAdapter failed: %v", err)
	}
	return d, fake
}

func TestDriveAdapter_EnsureFolder(t *testing.T) {
	d, fake := newTestAdapter(t)
	ctx := context.Background()

	if _, err := d.FindFolder(ctx, "Daily Prompts", ""); !errors.Is(err, adapter.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	created, err := d.EnsureFolder(ctx, "Daily Prompts", "")
	if err != nil {
		t.Fatalf("EnsureFolder failed: %v", err)
	}
	if created.ParentID() != adapter.RootFolderID || !created.IsFolder() {
		t.Errorf("Unexpected folder %+v", created)
	}

	again, err := d.EnsureFolder(ctx, "Daily Prompts", "")
	if err != nil {
		t.Fatalf("EnsureFolder failed: %v", err)
	}
	if again.ID != created.ID {
		t.Errorf("Expected existing folder %s, got %s", created.ID, again.ID)
	}
	if len(fake.files) != 1 {
		t.Errorf("Expected 1 folder, got %d", len(fake.files))
	}

	day, err := d.EnsureFolder(ctx, "2026-10-18", created.ID)
	if err != nil {
		t.Fatalf("EnsureFolder (day) failed: %v", err)
	}
	if day.ParentID() != created.ID {
		t.Errorf("Expected day folder under %s, got %v", created.ID, day.Parents)
	}
}

func TestDriveAdapter_FindFolder_EscapesName(t *testing.T) {
	d, fake := newTestAdapter(t)
	ctx := context.Background()

	if _, err := d.CreateFolder(ctx, "Bob's prompts", ""); err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	got, err := d.FindFolder(ctx, "Bob's prompts", "")
	if err != nil {
		t.Fatalf("FindFolder failed: %v", err)
	}
	if got.Name != "Bob's prompts" {
		t.Errorf("Unexpected folder %+v", got)
	}

	want := `name = 'Bob\'s prompts' and mimeType = 'application/vnd.google-apps.folder' and 'root' in parents and trashed = false`
	if q := fake.queries[len(fake.queries)-1]; q != want {
		t.Errorf("Unexpected query\n got: %s\nwant: %s", q, want)
	}
}

func TestDriveAdapter_UploadAndList(t *testing.T) {
	d, fake := newTestAdapter(t)
	ctx := context.Background()

	folder, _ := d.CreateFolder(ctx, "2026-10-18", "")

	res, err := d.UploadFile(ctx, "response_090000.txt", "text/plain; charset=utf-8", strings.NewReader("hello drive"), folder.ID)
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if res.Size != int64(len("hello drive")) || res.ParentID() != folder.ID || res.WebViewLink == "" {
		t.Errorf("Unexpected upload result %+v", res)
	}
	if got := fake.content[res.ID]; got != "hello drive" {
		t.Errorf("Expected uploaded content, got %q", got)
	}

	if _, err := d.UploadFile(ctx, "photo.png", "", strings.NewReader("png"), folder.ID); err != nil {
		t.Fatalf("UploadFile (no mime) failed: %v", err)
	}

	files, err := d.ListFiles(ctx, folder.ID)
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, f.Name+"|"+f.MIMEType)
	}
	want := []string{"response_090000.txt|text/plain; charset=utf-8", "photo.png|" + adapter.DefaultMIMEType}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("ListFiles mismatch (-want +got):\n%s", diff)
	}
}

func TestDriveAdapter_ErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, adapter.ErrNotFound},
		{http.StatusUnauthorized, adapter.ErrUnauthorized},
		{http.StatusRequestEntityTooLarge, adapter.ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			d, fake := newTestAdapter(t)
			fake.status = tt.status

			_, err := d.ListFiles(context.Background(), "folder")
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}
