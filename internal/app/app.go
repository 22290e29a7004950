package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/jun/promptdrive/internal/adapter"
	"github.com/jun/promptdrive/internal/adapter/googledrive"
	"github.com/jun/promptdrive/internal/adapter/memory"
	"github.com/jun/promptdrive/internal/auth"
	"github.com/jun/promptdrive/internal/config"
	"github.com/jun/promptdrive/internal/crypto"
	"github.com/jun/promptdrive/internal/handler"
	"github.com/jun/promptdrive/internal/journal"
	"github.com/jun/promptdrive/internal/markdown"
	"github.com/jun/promptdrive/internal/prompt"
	"github.com/jun/promptdrive/internal/secret"
	"github.com/jun/promptdrive/internal/session"
)

// HybridProvider delegates to either Google Drive or Memory provider based on session ID.
type HybridProvider struct {
	googleProvider adapter.StorageProvider
	memoryProvider *memory.Provider
}

func (h *HybridProvider) GetAdapter(ctx context.Context, sessionID string) (adapter.StorageAdapter, error) {
	if session.IsDemo(sessionID) {
		return h.memoryProvider.GetAdapter(ctx, sessionID)
	}
	return h.googleProvider.GetAdapter(ctx, sessionID)
}

// Release drops the demo storage of a session.
func (h *HybridProvider) Release(sessionID string) {
	h.memoryProvider.Release(sessionID)
}

// Sessions lists the demo sessions holding storage.
func (h *HybridProvider) Sessions() []string {
	return h.memoryProvider.Sessions()
}

// App holds the dependencies for the Lambda function.
type App struct {
	authHandler    *handler.AuthHandler
	promptHandler  *handler.PromptHandler
	journalHandler *handler.JournalHandler
	pageHandler    *handler.PageHandler

	devMode          bool
	allowOrigin      string
	apiGatewaySecret string
	routes           map[route]handlerFunc
}

// NewApp initializes the application dependencies from the environment.
func NewApp(ctx context.Context) *App {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		panic(fmt.Sprintf("unable to load SDK config, %v", err))
	}

	// ---------- Secret Resolver ----------
	var resolver secret.Resolver
	if config.DevMode() {
		resolver = secret.NewEnvResolver()
		fmt.Println("Using EnvResolver (DEV_MODE=true)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
		fmt.Println("Using SSMResolver (SSM Parameter Store)")
	}

	cfg, err := config.Load(ctx, resolver)
	if err != nil {
		panic(fmt.Sprintf("unable to load config, %v", err))
	}

	var store session.Store
	var encryptor crypto.Encryptor
	if cfg.DevMode {
		store = session.NewMemoryStore(cfg.SessionTTL)
		encryptor = crypto.NewMockEncryptor()
		fmt.Println("Using MemoryStore and MockEncryptor (DEV_MODE=true)")
	} else {
		store = session.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.SessionsTable, cfg.SessionTTL)
		encryptor = crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID)
	}

	application, err := New(cfg, store, encryptor)
	if err != nil {
		panic(fmt.Sprintf("unable to initialize app, %v", err))
	}
	return application
}

// New wires the handlers around an already chosen session store and
// credential encryptor.
func New(cfg *config.Config, store session.Store, encryptor crypto.Encryptor) (*App, error) {
	book := prompt.Default()
	if cfg.PromptsFile != "" {
		loaded, err := prompt.Load(cfg.PromptsFile)
		if err != nil {
			return nil, err
		}
		book = loaded
	}

	j := journal.NewService(book,
		journal.WithAppFolder(cfg.AppFolder),
		journal.WithLocation(cfg.Location),
		journal.WithUploadLimit(cfg.UploadConcurrency),
	)
	renderer := markdown.NewRenderer()

	authService := auth.NewAuthService(cfg.OAuth, store, encryptor)
	storageProvider := &HybridProvider{
		googleProvider: googledrive.NewProvider(authService),
		memoryProvider: memory.NewProvider(),
	}

	app := &App{
		authHandler: handler.NewAuthHandler(authService, store, storageProvider, handler.AuthSettings{
			JWTSecret:   cfg.JWTSecret,
			FrontendURL: cfg.FrontendURL,
			BasePath:    cfg.BasePath,
			DevMode:     cfg.DevMode,
			SessionTTL:  cfg.SessionTTL,
		}),
		promptHandler:    handler.NewPromptHandler(j, renderer),
		journalHandler:   handler.NewJournalHandler(j, storageProvider, store, cfg.JWTSecret),
		pageHandler:      handler.NewPageHandler(j, renderer, cfg.BasePath),
		devMode:          cfg.DevMode,
		allowOrigin:      origin(cfg.FrontendURL),
		apiGatewaySecret: cfg.APIGatewaySecret,
	}

	app.routes = map[route]handlerFunc{
		{http.MethodGet, "/"}:                app.pageHandler.Index,
		{http.MethodGet, "/auth/login"}:      app.authHandler.Login,
		{http.MethodGet, "/auth/callback"}:   app.authHandler.Callback,
		{http.MethodPost, "/auth/code"}:      app.authHandler.SubmitCode,
		{http.MethodGet, "/auth/status"}:     app.authHandler.Status,
		{http.MethodGet, "/auth/demo-login"}: app.authHandler.DemoLogin,
		{http.MethodPost, "/auth/logout"}:    app.authHandler.Logout,
		{http.MethodGet, "/prompt"}:          app.promptHandler.Prompt,
		{http.MethodPost, "/preview"}:        app.promptHandler.Preview,
		{http.MethodPost, "/submit"}:         app.journalHandler.Submit,
		{http.MethodGet, "/entries"}:         app.journalHandler.Entries,
	}
	return app, nil
}

func origin(frontendURL string) string {
	u, err := url.Parse(frontendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return frontendURL
	}
	return u.Scheme + "://" + u.Host
}

type route struct {
	method, path string
}

type handlerFunc func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := req.Path
	method := req.HTTPMethod

	fmt.Printf("Request: %s %s\n", method, path)

	// CORS Preflight
	if method == http.MethodOptions {
		return app.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	// Only CloudFront knows the origin secret.
	if !app.devMode && !app.originVerified(req) {
		fmt.Printf("Security Block: Missing or invalid X-Origin-Verify header\n")
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusForbidden,
			Body:       "Forbidden: Access denied",
		}, nil
	}

	// CloudFront forwards /api/* unchanged.
	path = strings.TrimPrefix(path, "/api")
	if path == "" {
		path = "/"
	}

	if req.QueryStringParameters == nil {
		req.QueryStringParameters = map[string]string{}
	}
	if h, ok := app.routes[route{method, path}]; ok {
		return app.corsResponse(must(h(ctx, req))), nil
	}

	body, _ := json.Marshal(map[string]string{"error": fmt.Sprintf("Not Found: %s %s", method, path)})
	return app.corsResponse(events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}), nil
}

func (app *App) originVerified(req events.APIGatewayProxyRequest) bool {
	if app.apiGatewaySecret == "" {
		return false
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, "X-Origin-Verify") {
			return v == app.apiGatewaySecret
		}
	}
	return false
}

// corsResponse adds CORS headers to an API Gateway response.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.allowOrigin
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, ignoring the error.
func must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		fmt.Printf("Handler error: %v\n", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}
