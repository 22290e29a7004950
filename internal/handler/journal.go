package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/promptdrive/internal/adapter"
	"github.com/jun/promptdrive/internal/auth"
	"github.com/jun/promptdrive/internal/journal"
	"github.com/jun/promptdrive/internal/model"
	"github.com/jun/promptdrive/internal/session"
)

// DefaultMaxUploadBytes bounds the request body of a submission. API
// Gateway rejects larger payloads before they reach the handler anyway.
const DefaultMaxUploadBytes = 10 << 20

// JournalHandler files responses into the user's storage.
type JournalHandler struct {
	sessions
	journal         *journal.Service
	storageProvider adapter.StorageProvider
	maxUploadBytes  int64
}

// NewJournalHandler creates a new JournalHandler.
func NewJournalHandler(j *journal.Service, sp adapter.StorageProvider, store session.Store, jwtSecret string) *JournalHandler {
	return &JournalHandler{
		sessions:        sessions{store: store, jwtSecret: jwtSecret},
		journal:         j,
		storageProvider: sp,
		maxUploadBytes:  DefaultMaxUploadBytes,
	}
}

// getStorageAdapter returns the storage adapter of the authenticated session.
func (h *JournalHandler) getStorageAdapter(ctx context.Context, req events.APIGatewayProxyRequest) (adapter.StorageAdapter, *events.APIGatewayProxyResponse) {
	sess, err := h.current(ctx, req)
	if err != nil {
		resp := errorResponse(http.StatusUnauthorized, "Unauthorized")
		return nil, &resp
	}

	storage, err := h.storageProvider.GetAdapter(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, auth.ErrNoCredential) || errors.Is(err, session.ErrNotFound) {
			resp := errorResponse(http.StatusUnauthorized, "Not signed in to Google Drive")
			return nil, &resp
		}
		fmt.Printf("GetAdapter error: %v\n", err)
		resp := errorResponse(http.StatusInternalServerError, "Failed to get storage adapter")
		return nil, &resp
	}
	return storage, nil
}

func storageErrorResponse(op string, err error) events.APIGatewayProxyResponse {
	fmt.Printf("%s error: %v\n", op, err)
	switch {
	case errors.Is(err, journal.ErrEmptySubmission):
		return errorResponse(http.StatusBadRequest, "Write a response or attach a file")
	case errors.Is(err, adapter.ErrTooLarge):
		return errorResponse(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, adapter.ErrUnauthorized):
		return errorResponse(http.StatusUnauthorized, "Google Drive access was revoked, please log in again")
	default:
		return errorResponse(http.StatusInternalServerError, fmt.Sprintf("Failed to %s", op))
	}
}

// submitRequest is the JSON form of a submission.
type submitRequest struct {
	Response    string `json:"response"`
	Attachments []struct {
		Name     string `json:"name"`
		MIMEType string `json:"mimeType"`
		Content  []byte `json:"content"` // base64 in JSON
	} `json:"attachments"`
}

// parseSubmission reads a multipart/form-data body (field "response",
// files "files") or a JSON body.
func (h *JournalHandler) parseSubmission(req events.APIGatewayProxyRequest) (journal.Submission, error) {
	var sub journal.Submission

	body, err := requestBody(req)
	if err != nil {
		return sub, err
	}
	if int64(len(body)) > h.maxUploadBytes {
		return sub, fmt.Errorf("%w: request body exceeds %d bytes", adapter.ErrTooLarge, h.maxUploadBytes)
	}

	mediaType, params, err := mime.ParseMediaType(getHeader(req, "Content-Type"))
	if err != nil {
		mediaType = "application/json"
	}

	switch mediaType {
	case "multipart/form-data":
		form, err := multipart.NewReader(bytes.NewReader(body), params["boundary"]).ReadForm(h.maxUploadBytes)
		if err != nil {
			return sub, fmt.Errorf("invalid multipart body: %w", err)
		}
		defer form.RemoveAll()

		if v := form.Value["response"]; len(v) > 0 {
			sub.Response = v[0]
		}
		for _, fh := range form.File["files"] {
			f, err := fh.Open()
			if err != nil {
				return sub, fmt.Errorf("failed to open %q: %w", fh.Filename, err)
			}
			var buf bytes.Buffer
			_, err = buf.ReadFrom(f)
			f.Close()
			if err != nil {
				return sub, fmt.Errorf("failed to read %q: %w", fh.Filename, err)
			}
			sub.Attachments = append(sub.Attachments, journal.Attachment{
				Name:     fh.Filename,
				MIMEType: fh.Header.Get("Content-Type"),
				Content:  bytes.NewReader(buf.Bytes()),
			})
		}
	case "application/json":
		var payload submitRequest
		if err := json.Unmarshal(body, &payload); err != nil {
			return sub, fmt.Errorf("invalid JSON body: %w", err)
		}
		sub.Response = payload.Response
		for _, a := range payload.Attachments {
			sub.Attachments = append(sub.Attachments, journal.Attachment{
				Name:     a.Name,
				MIMEType: a.MIMEType,
				Content:  bytes.NewReader(a.Content),
			})
		}
	default:
		return sub, fmt.Errorf("unsupported content type %q", mediaType)
	}
	return sub, nil
}

// Submit uploads the response and attachments into today's folder.
func (h *JournalHandler) Submit(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	storage, errResp := h.getStorageAdapter(ctx, req)
	if errResp != nil {
		return *errResp, nil
	}

	sub, err := h.parseSubmission(req)
	if err != nil {
		if errors.Is(err, adapter.ErrTooLarge) {
			return errorResponse(http.StatusRequestEntityTooLarge, err.Error()), nil
		}
		return errorResponse(http.StatusBadRequest, err.Error()), nil
	}

	receipt, err := h.journal.Submit(ctx, storage, sub)
	if err != nil {
		return storageErrorResponse("submit", err), nil
	}
	return jsonResponse(http.StatusCreated, receipt), nil
}

// EntriesResponse is the body of GET /entries.
type EntriesResponse struct {
	Date    string                   `json:"date"`
	Folder  string                   `json:"folder"`
	Entries []model.UploadedArtifact `json:"entries"`
}

// Entries lists the files filed on ?date=YYYY-MM-DD, or today.
func (h *JournalHandler) Entries(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	storage, errResp := h.getStorageAdapter(ctx, req)
	if errResp != nil {
		return *errResp, nil
	}

	date, err := h.journal.ParseDate(strings.TrimSpace(req.QueryStringParameters["date"]))
	if err != nil {
		return errorResponse(http.StatusBadRequest, err.Error()), nil
	}

	entries, err := h.journal.Entries(ctx, storage, date)
	if err != nil {
		return storageErrorResponse("list entries", err), nil
	}

	p := h.journal.PromptFor(date)
	return jsonResponse(http.StatusOK, EntriesResponse{
		Date:    p.Date,
		Folder:  h.journal.AppFolder() + "/" + p.Date,
		Entries: entries,
	}), nil
}
