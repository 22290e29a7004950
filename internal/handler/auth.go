package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/promptdrive/internal/auth"
	"github.com/jun/promptdrive/internal/model"
	"github.com/jun/promptdrive/internal/session"
)

// StorageReleaser drops the storage kept for a session. Providers that hold
// per-session state implement it.
type StorageReleaser interface {
	Release(sessionID string)
}

// storageLister is implemented by releasers that can enumerate the sessions
// they hold storage for.
type storageLister interface {
	Sessions() []string
}

// AuthSettings carries the deployment settings the auth endpoints need.
type AuthSettings struct {
	JWTSecret   string
	FrontendURL string
	BasePath    string
	DevMode     bool
	SessionTTL  time.Duration
}

// AuthHandler handles authentication requests.
type AuthHandler struct {
	sessions
	authService *auth.AuthService
	releaser    StorageReleaser
	settings    AuthSettings
}

// NewAuthHandler creates a new AuthHandler. releaser may be nil.
func NewAuthHandler(s *auth.AuthService, store session.Store, releaser StorageReleaser, settings AuthSettings) *AuthHandler {
	if settings.SessionTTL == 0 {
		settings.SessionTTL = session.DefaultTTL
	}
	return &AuthHandler{
		sessions:    sessions{store: store, jwtSecret: settings.JWTSecret},
		authService: s,
		releaser:    releaser,
		settings:    settings,
	}
}

func (h *AuthHandler) homeURL(query string) string {
	u := h.settings.FrontendURL + h.settings.BasePath + "/"
	if query != "" {
		u += "?" + query
	}
	return u
}

// frontendOrigin is the postMessage target of the popup relay page.
func (h *AuthHandler) frontendOrigin() string {
	u, err := url.Parse(h.settings.FrontendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return h.settings.FrontendURL
	}
	return u.Scheme + "://" + u.Host
}

// release drops the demo storage of sessionID.
func (h *AuthHandler) release(sessionID string) {
	if h.releaser != nil && session.IsDemo(sessionID) {
		h.releaser.Release(sessionID)
	}
}

// pruneDemoStorage releases the storage of demo sessions that expired or
// were deleted without a logout.
func (h *AuthHandler) pruneDemoStorage(ctx context.Context) {
	lister, ok := h.releaser.(storageLister)
	if !ok {
		return
	}
	for _, id := range lister.Sessions() {
		if _, err := h.store.Get(ctx, id); errors.Is(err, session.ErrNotFound) {
			h.release(id)
		}
	}
}

// startSession returns the current non-demo session, or creates one.
// A demo session being replaced is ended. The bool reports whether a new
// cookie must be set.
func (h *AuthHandler) startSession(ctx context.Context, req events.APIGatewayProxyRequest) (*model.BrowserSession, bool, error) {
	if sess, err := h.current(ctx, req); err == nil {
		if !sess.Demo {
			return sess, false, nil
		}
		if err := h.store.Delete(ctx, sess.ID); err != nil {
			fmt.Printf("Delete demo session error: %v\n", err)
		}
		h.release(sess.ID)
	}
	sess, err := h.store.Create(ctx, false)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

func (h *AuthHandler) cookieFor(sessionID string) (string, error) {
	token, err := IssueSessionToken(sessionID, h.settings.JWTSecret, h.settings.SessionTTL)
	if err != nil {
		return "", err
	}
	return sessionCookie(token, h.settings.DevMode), nil
}

// Login initiates the Google OAuth2 flow. mode=popup marks the state so
// the callback answers with the relay page; format=json returns the URL
// instead of redirecting.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	sess, isNew, err := h.startSession(ctx, req)
	if err != nil {
		fmt.Printf("Login session error: %v\n", err)
		return errorResponse(http.StatusInternalServerError, "Failed to create session"), nil
	}

	popup := req.QueryStringParameters["mode"] == "popup"
	authURL, err := h.authService.BeginLogin(ctx, sess.ID, popup)
	if err != nil {
		fmt.Printf("BeginLogin error: %v\n", err)
		return errorResponse(http.StatusInternalServerError, "Failed to start login"), nil
	}

	resp := redirect(authURL)
	if req.QueryStringParameters["format"] == "json" {
		resp = jsonResponse(http.StatusOK, map[string]string{"url": authURL})
	}
	if isNew {
		cookie, err := h.cookieFor(sess.ID)
		if err != nil {
			return errorResponse(http.StatusInternalServerError, "Failed to sign token"), nil
		}
		resp = withCookie(resp, cookie)
	}
	return resp, nil
}

// Callback handles the OAuth2 redirect from Google.
func (h *AuthHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	q := req.QueryStringParameters
	state := q["state"]
	popup := auth.IsPopupState(state)

	fail := func(status int, msg string) (events.APIGatewayProxyResponse, error) {
		if popup {
			return h.relayPage(status, false, msg), nil
		}
		return redirect(h.homeURL("login=failed&reason=" + url.QueryEscape(msg))), nil
	}

	if e := q["error"]; e != "" {
		return fail(http.StatusBadRequest, "Authorization failed: "+e)
	}
	code := q["code"]
	if code == "" {
		return fail(http.StatusBadRequest, "Missing code")
	}
	if state == "" {
		return fail(http.StatusBadRequest, "Missing state")
	}

	sess, err := h.current(ctx, req)
	if err != nil {
		return fail(http.StatusUnauthorized, "Session expired, please log in again")
	}

	if _, err := h.authService.CompleteLogin(ctx, sess.ID, code, state); err != nil {
		fmt.Printf("CompleteLogin error: %v\n", err)
		if errors.Is(err, session.ErrStateMismatch) {
			return fail(http.StatusBadRequest, "Invalid state")
		}
		return fail(http.StatusBadGateway, "Failed to exchange code")
	}

	if popup {
		return h.relayPage(http.StatusOK, true, ""), nil
	}
	return redirect(h.homeURL("login=success")), nil
}

var relayTemplate = template.Must(template.New("relay").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Signing in</title></head>
<body>
<p>{{if .OK}}Signed in. You can close this window.{{else}}Sign-in failed: {{.Error}}{{end}}</p>
<script>
(function () {
  var msg = {type: "promptdrive-auth", ok: {{.OK}}, error: {{.Error}}};
  if (window.opener) {
    window.opener.postMessage(msg, {{.Origin}});
    window.close();
  }
})();
</script>
</body></html>
`))

// relayPage answers a popup login: it posts the outcome to the opener
// window and closes itself.
func (h *AuthHandler) relayPage(status int, ok bool, errMsg string) events.APIGatewayProxyResponse {
	var b strings.Builder
	err := relayTemplate.Execute(&b, struct {
		OK     bool
		Error  string
		Origin string
	}{ok, errMsg, h.frontendOrigin()})
	if err != nil {
		fmt.Printf("relay template error: %v\n", err)
		return errorResponse(http.StatusInternalServerError, "Internal Server Error")
	}
	return htmlResponse(status, b.String())
}

// SubmitCode completes a login from a pasted redirect URL, query string or
// bare authorization code.
func (h *AuthHandler) SubmitCode(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	sess, err := h.current(ctx, req)
	if err != nil {
		return errorResponse(http.StatusUnauthorized, "Session expired, please log in again"), nil
	}

	body, err := requestBody(req)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}
	var payload struct {
		Input string `json:"input"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}

	code, state, err := auth.ParseRedirect(payload.Input)
	if err != nil {
		return errorResponse(http.StatusBadRequest, err.Error()), nil
	}

	// A bare code carries no state: it consumes whatever login is pending on
	// this session, so it is only bound to the session cookie.
	if _, err := h.authService.CompleteLogin(ctx, sess.ID, code, state); err != nil {
		fmt.Printf("CompleteLogin (pasted) error: %v\n", err)
		if errors.Is(err, session.ErrStateMismatch) {
			return errorResponse(http.StatusBadRequest, "Invalid state or no login in progress"), nil
		}
		return errorResponse(http.StatusBadGateway, "Failed to exchange code"), nil
	}

	return h.Status(ctx, req)
}

// AuthStatus is the body of GET /auth/status.
type AuthStatus struct {
	Authenticated bool       `json:"authenticated"`
	Demo          bool       `json:"demo"`
	Scope         string     `json:"scope,omitempty"`
	Expiry        *time.Time `json:"expiry,omitempty"`
}

// Status reports whether the browser session holds a credential.
func (h *AuthHandler) Status(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	sess, err := h.current(ctx, req)
	if err != nil {
		return jsonResponse(http.StatusOK, AuthStatus{}), nil
	}
	if sess.Demo {
		return jsonResponse(http.StatusOK, AuthStatus{Authenticated: true, Demo: true}), nil
	}

	cred, err := h.authService.Credential(ctx, sess.ID)
	if err != nil {
		if !errors.Is(err, auth.ErrNoCredential) {
			fmt.Printf("Credential error: %v\n", err)
		}
		return jsonResponse(http.StatusOK, AuthStatus{}), nil
	}

	status := AuthStatus{Authenticated: true, Scope: cred.Scope}
	if !cred.Expiry.IsZero() {
		expiry := cred.Expiry
		status.Expiry = &expiry
	}
	return jsonResponse(http.StatusOK, status), nil
}

// Logout deletes the server-side session and clears the cookie.
func (h *AuthHandler) Logout(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if sessionID, err := GetSessionID(req, h.settings.JWTSecret); err == nil {
		if err := h.store.Delete(ctx, sessionID); err != nil {
			fmt.Printf("Logout Delete error: %v\n", err)
		}
		h.release(sessionID)
	}

	resp := jsonResponse(http.StatusOK, map[string]bool{"success": true})
	return withCookie(resp, clearSessionCookie(h.settings.DevMode)), nil
}

// DemoLogin starts a session backed by in-memory storage instead of Drive.
func (h *AuthHandler) DemoLogin(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	h.pruneDemoStorage(ctx)

	sess, err := h.store.Create(ctx, true)
	if err != nil {
		fmt.Printf("DemoLogin session error: %v\n", err)
		return errorResponse(http.StatusInternalServerError, "Failed to create session"), nil
	}

	cookie, err := h.cookieFor(sess.ID)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "Failed to sign token"), nil
	}

	resp := redirect(h.homeURL("demo=true"))
	if req.QueryStringParameters["format"] == "json" {
		resp = jsonResponse(http.StatusOK, AuthStatus{Authenticated: true, Demo: true})
	}
	return withCookie(resp, cookie), nil
}
