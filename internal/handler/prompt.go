package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/promptdrive/internal/journal"
	"github.com/jun/promptdrive/internal/markdown"
)

const maxPreviewBytes = 64 * 1024

// PromptHandler serves the prompt of the day and response previews.
type PromptHandler struct {
	journal  *journal.Service
	renderer *markdown.Renderer
}

// NewPromptHandler creates a new PromptHandler.
func NewPromptHandler(j *journal.Service, r *markdown.Renderer) *PromptHandler {
	return &PromptHandler{journal: j, renderer: r}
}

// PromptResponse is the body of GET /prompt.
type PromptResponse struct {
	Text      string `json:"text"`
	HTML      string `json:"html"`
	Index     int    `json:"index"`
	DayOfYear int    `json:"day_of_year"`
	Date      string `json:"date"`
}

// Prompt returns the prompt for ?date=YYYY-MM-DD, or for today.
func (h *PromptHandler) Prompt(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	date, err := h.journal.ParseDate(req.QueryStringParameters["date"])
	if err != nil {
		return errorResponse(http.StatusBadRequest, err.Error()), nil
	}

	p := h.journal.PromptFor(date)
	html, err := h.renderer.RenderString(p.Text)
	if err != nil {
		fmt.Printf("Render error: %v\n", err)
		return errorResponse(http.StatusInternalServerError, "Failed to render prompt"), nil
	}

	return jsonResponse(http.StatusOK, PromptResponse{
		Text:      p.Text,
		HTML:      html,
		Index:     p.Index,
		DayOfYear: p.DayOfYear,
		Date:      p.Date,
	}), nil
}

// Preview renders a draft response as HTML.
func (h *PromptHandler) Preview(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body, err := requestBody(req)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}
	if len(body) > maxPreviewBytes {
		return errorResponse(http.StatusRequestEntityTooLarge, "Response too large to preview"), nil
	}

	var payload struct {
		Markdown string `json:"markdown"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}

	html, err := h.renderer.RenderString(payload.Markdown)
	if err != nil {
		fmt.Printf("Render error: %v\n", err)
		return errorResponse(http.StatusInternalServerError, "Failed to render preview"), nil
	}
	return jsonResponse(http.StatusOK, map[string]string{"html": html}), nil
}
