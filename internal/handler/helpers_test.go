package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/promptdrive/internal/adapter/memory"
	"github.com/jun/promptdrive/internal/auth"
	"github.com/jun/promptdrive/internal/crypto"
	"github.com/jun/promptdrive/internal/handler"
	"github.com/jun/promptdrive/internal/journal"
	"github.com/jun/promptdrive/internal/markdown"
	"github.com/jun/promptdrive/internal/prompt"
	"github.com/jun/promptdrive/internal/session"
	"golang.org/x/oauth2"
)

const testJWTSecret = "test-secret"

var testNow = time.Date(2026, 10, 18, 9, 15, 0, 0, time.UTC)

type testEnv struct {
	store       *session.MemoryStore
	authService *auth.AuthService
	demo        *memory.Provider
	journal     *journal.Service
	auth        *handler.AuthHandler
	prompts     *handler.PromptHandler
	entries     *handler.JournalHandler
	page        *handler.PageHandler
}

// newTestEnv wires the handlers against in-memory sessions and storage.
// tokenURL may be empty when no code exchange happens.
func newTestEnv(t *testing.T, tokenURL string) *testEnv {
	t.Helper()
	store := session.NewMemoryStore(0)
	authService := auth.NewAuthService(&oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/auth/callback",
		Scopes:       []string{auth.DriveFileScope},
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/o/oauth2/auth",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, store, crypto.NewMockEncryptor())

	book, err := prompt.New([]string{"What made you *smile* today?", "p1", "p2"})
	if err != nil {
		t.Fatal(err)
	}
	j := journal.NewService(book,
		journal.WithLocation(time.UTC),
		journal.WithClock(func() time.Time { return testNow }),
	)
	demo := memory.NewProvider()
	renderer := markdown.NewRenderer()

	return &testEnv{
		store:       store,
		authService: authService,
		demo:        demo,
		journal:     j,
		auth: handler.NewAuthHandler(authService, store, demo, handler.AuthSettings{
			JWTSecret:   testJWTSecret,
			FrontendURL: "http://localhost:8080",
			DevMode:     true,
		}),
		prompts: handler.NewPromptHandler(j, renderer),
		entries: handler.NewJournalHandler(j, demo, store, testJWTSecret),
		page:    handler.NewPageHandler(j, renderer, ""),
	}
}

// newTokenServer fakes the OAuth token endpoint; only "good-code" is accepted.
func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         auth.DriveFileScope,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// sessionCookie returns the "session_token=..." pair set by resp.
func sessionCookie(t *testing.T, resp events.APIGatewayProxyResponse) string {
	t.Helper()
	for _, c := range resp.MultiValueHeaders["Set-Cookie"] {
		if strings.HasPrefix(c, handler.SessionCookieName+"=") {
			return strings.SplitN(c, ";", 2)[0]
		}
	}
	t.Fatalf("no session cookie in response: %+v", resp.MultiValueHeaders)
	return ""
}

func makeRequest(method, path, body, cookie string) events.APIGatewayProxyRequest {
	req := events.APIGatewayProxyRequest{
		HTTPMethod:            method,
		Path:                  path,
		Body:                  body,
		Headers:               map[string]string{"Content-Type": "application/json"},
		QueryStringParameters: map[string]string{},
	}
	if cookie != "" {
		req.Headers["Cookie"] = cookie
	}
	return req
}

// demoSession logs in a demo session and returns its cookie.
func (e *testEnv) demoSession(t *testing.T) string {
	t.Helper()
	resp, err := e.auth.DemoLogin(context.Background(), makeRequest("GET", "/auth/demo-login", "", ""))
	if err != nil || resp.StatusCode != http.StatusFound {
		t.Fatalf("DemoLogin failed: %v %d", err, resp.StatusCode)
	}
	return sessionCookie(t, resp)
}

func stateFromLocation(t *testing.T, location string) string {
	t.Helper()
	u, err := url.Parse(location)
	if err != nil {
		t.Fatalf("bad location %q: %v", location, err)
	}
	return u.Query().Get("state")
}

func decodeJSON(t *testing.T, body string, v interface{}) {
	t.Helper()
	if err := json.Unmarshal([]byte(body), v); err != nil {
		t.Fatalf("Failed to unmarshal %q: %v", body, err)
	}
}
