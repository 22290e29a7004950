package handler

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/promptdrive/internal/journal"
	"github.com/jun/promptdrive/internal/markdown"
)

// PageHandler serves the single HTML page of the app.
type PageHandler struct {
	journal  *journal.Service
	renderer *markdown.Renderer
	basePath string
}

// NewPageHandler creates a new PageHandler. basePath is prepended to the
// API routes the page calls.
func NewPageHandler(j *journal.Service, r *markdown.Renderer, basePath string) *PageHandler {
	return &PageHandler{journal: j, renderer: r, basePath: basePath}
}

var pageTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Daily Prompt</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 42rem; margin: 2rem auto; padding: 0 1rem; }
.prompt { font-size: 1.3rem; border-left: 4px solid #4a7; padding-left: 1rem; }
textarea { width: 100%; min-height: 12rem; }
.hidden { display: none; }
#status, #result { margin: 1rem 0; }
</style>
</head>
<body>
<h1>Daily Prompt</h1>
<p>{{.Date}}</p>
<div class="prompt">{{.PromptHTML}}</div>

<section id="login" class="hidden">
  <p>Sign in with Google to save your answer to Drive, in <em>{{.Folder}}/{{.Date}}</em>.</p>
  <p>
    <a href="{{.Base}}/auth/login">Sign in</a> |
    <a href="#" id="popup-login">Sign in in a popup</a> |
    <a href="{{.Base}}/auth/demo-login">Try the demo</a>
  </p>
  <form id="paste-form">
    <label>Or paste the redirect URL or code:
      <input name="input" size="50" autocomplete="off">
    </label>
    <button type="submit">Continue</button>
  </form>
</section>

<section id="write" class="hidden">
  <form id="submit-form">
    <textarea name="response" placeholder="Write your response..."></textarea>
    <p><input type="file" name="files" multiple></p>
    <p>
      <button type="submit">Submit</button>
      <button type="button" id="preview-button">Preview</button>
      <button type="button" id="logout-button">Sign out</button>
    </p>
  </form>
  <div id="preview"></div>
</section>

<div id="notice">{{.Notice}}</div>
<div id="status"></div>
<div id="result"></div>

<script>
(function () {
  var base = {{.Base}};
  var origin = window.location.origin;

  function show(id, visible) {
    document.getElementById(id).classList.toggle("hidden", !visible);
  }
  function setText(id, text) {
    document.getElementById(id).textContent = text;
  }
  function refresh() {
    fetch(base + "/auth/status", {credentials: "same-origin"})
      .then(function (r) { return r.json(); })
      .then(function (s) {
        show("login", !s.authenticated);
        show("write", s.authenticated);
        setText("status", s.authenticated ? (s.demo ? "Demo session (nothing is saved to Drive)." : "Signed in.") : "");
      });
  }
  function postJSON(path, body) {
    return fetch(base + path, {
      method: "POST",
      credentials: "same-origin",
      headers: {"Content-Type": "application/json"},
      body: JSON.stringify(body)
    }).then(function (r) { return r.json().then(function (j) { return {ok: r.ok, body: j}; }); });
  }

  document.getElementById("popup-login").addEventListener("click", function (e) {
    e.preventDefault();
    var w = window.open("", "promptdrive-login", "width=520,height=640");
    fetch(base + "/auth/login?mode=popup&format=json", {credentials: "same-origin"})
      .then(function (r) { return r.json(); })
      .then(function (j) { w.location = j.url; });
  });

  window.addEventListener("message", function (e) {
    if (e.origin !== origin || !e.data || e.data.type !== "promptdrive-auth") {
      return;
    }
    setText("status", e.data.ok ? "Signed in." : "Sign-in failed: " + e.data.error);
    refresh();
  });

  document.getElementById("paste-form").addEventListener("submit", function (e) {
    e.preventDefault();
    postJSON("/auth/code", {input: e.target.input.value}).then(function (res) {
      setText("status", res.ok ? "Signed in." : res.body.error);
      refresh();
    });
  });

  document.getElementById("preview-button").addEventListener("click", function () {
    var text = document.querySelector("#submit-form textarea").value;
    postJSON("/preview", {markdown: text}).then(function (res) {
      if (res.ok) {
        document.getElementById("preview").innerHTML = res.body.html;
      }
    });
  });

  document.getElementById("logout-button").addEventListener("click", function () {
    postJSON("/auth/logout", {}).then(refresh);
  });

  document.getElementById("submit-form").addEventListener("submit", function (e) {
    e.preventDefault();
    setText("result", "Uploading...");
    fetch(base + "/submit", {method: "POST", credentials: "same-origin", body: new FormData(e.target)})
      .then(function (r) { return r.json().then(function (j) { return {ok: r.ok, body: j}; }); })
      .then(function (res) {
        if (!res.ok) {
          setText("result", res.body.error);
          return;
        }
        var names = res.body.artifacts.map(function (a) { return a.name; });
        setText("result", "Saved to " + {{.Folder}} + "/" + res.body.date + ": " + names.join(", "));
        e.target.reset();
      });
  });

  if (window.location.search && window.history.replaceState) {
    window.history.replaceState(null, "", window.location.pathname);
  }
  refresh();
})();
</script>
</body>
</html>
`))

// loginNotice describes the outcome carried back by the login redirects.
func loginNotice(q map[string]string) string {
	switch {
	case q["login"] == "failed":
		if reason := q["reason"]; reason != "" {
			return "Sign-in failed: " + reason
		}
		return "Sign-in failed."
	case q["login"] == "success":
		return "Signed in."
	case q["demo"] == "true":
		return "Demo session started. Nothing is saved to Drive."
	}
	return ""
}

// Index renders the page with today's prompt.
func (h *PageHandler) Index(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	p := h.journal.PromptFor(h.journal.Today())
	promptHTML, err := h.renderer.RenderString(p.Text)
	if err != nil {
		fmt.Printf("Render error: %v\n", err)
		return errorResponse(http.StatusInternalServerError, "Failed to render prompt"), nil
	}

	var b strings.Builder
	err = pageTemplate.Execute(&b, struct {
		Date       string
		PromptHTML template.HTML
		Folder     string
		Base       string
		Notice     string
	}{
		Date: p.Date,
		// Rendered in safe mode: raw HTML is omitted.
		PromptHTML: template.HTML(promptHTML),
		Folder:     h.journal.AppFolder(),
		Base:       h.basePath,
		Notice:     loginNotice(req.QueryStringParameters),
	})
	if err != nil {
		fmt.Printf("page template error: %v\n", err)
		return errorResponse(http.StatusInternalServerError, "Internal Server Error"), nil
	}
	return htmlResponse(http.StatusOK, b.String()), nil
}
