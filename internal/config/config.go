// Package config reads the application settings from the environment.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jun/promptdrive/internal/auth"
	"github.com/jun/promptdrive/internal/journal"
	"github.com/jun/promptdrive/internal/secret"
	"github.com/jun/promptdrive/internal/session"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	defaultClientSecretParam     = "/promptdrive/gcp-client-secret"
	defaultJWTSecretParam        = "/promptdrive/jwt-secret"
	defaultAPIGatewaySecretParam = "/promptdrive/api-gateway-secret"
	defaultKMSKeyID              = "alias/promptdrive-token-key"
	defaultSessionsTable         = "PromptSessions"
	defaultFrontendURL           = "http://localhost:8080"
	prodBasePath                 = "/api"

	// DevJWTSecret signs session cookies when no secret is configured.
	DevJWTSecret = "default-dev-secret"
)

// Config holds the settings shared by the API binaries and the CLI.
type Config struct {
	DevMode          bool
	FrontendURL      string
	BasePath         string // path prefix the public URL adds in front of the routes
	OAuth            *oauth2.Config
	JWTSecret        string
	APIGatewaySecret string
	KMSKeyID         string

	SessionsTable string
	SessionTTL    time.Duration

	PromptsFile       string
	AppFolder         string
	Location          *time.Location
	UploadConcurrency int
}

// DevMode reports whether DEV_MODE=true.
func DevMode() bool {
	return os.Getenv("DEV_MODE") == "true"
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load builds the configuration from environment variables. Secrets are
// resolved through r; missing secrets degrade with a warning.
func Load(ctx context.Context, r secret.Resolver) (*Config, error) {
	cfg := &Config{
		DevMode:       DevMode(),
		FrontendURL:   getenv("FRONTEND_URL", defaultFrontendURL),
		KMSKeyID:      getenv("KMS_KEY_ID", defaultKMSKeyID),
		SessionsTable: getenv("SESSIONS_TABLE", defaultSessionsTable),
		SessionTTL:    session.DefaultTTL,
		PromptsFile:   os.Getenv("PROMPTS_FILE"),
		AppFolder:     getenv("APP_FOLDER_NAME", journal.DefaultAppFolder),
		Location:      time.Local,

		UploadConcurrency: 1,
	}

	if v := os.Getenv("SESSION_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			return nil, fmt.Errorf("invalid SESSION_TTL %q", v)
		}
		cfg.SessionTTL = ttl
	}

	if v := os.Getenv("TIMEZONE"); v != "" {
		loc, err := time.LoadLocation(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TIMEZONE %q: %w", v, err)
		}
		cfg.Location = loc
	}

	if v := os.Getenv("UPLOAD_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid UPLOAD_CONCURRENCY %q", v)
		}
		cfg.UploadConcurrency = n
	}

	clientSecret := secret.Resolve(ctx, r, getenv("GCP_CLIENT_SECRET_PARAM", defaultClientSecretParam), "")
	cfg.JWTSecret = secret.Resolve(ctx, r, getenv("JWT_SECRET_PARAM", defaultJWTSecretParam), DevJWTSecret)
	cfg.APIGatewaySecret = secret.Resolve(ctx, r, getenv("API_GATEWAY_SECRET_PARAM", defaultAPIGatewaySecretParam), "")

	cfg.BasePath = prodBasePath
	if cfg.DevMode {
		cfg.BasePath = ""
	}
	if v, ok := os.LookupEnv("BASE_PATH"); ok {
		cfg.BasePath = strings.TrimRight(v, "/")
	}

	redirectURL := getenv("GOOGLE_REDIRECT_URL", strings.TrimRight(cfg.FrontendURL, "/")+cfg.BasePath+"/auth/callback")

	endpoint := google.Endpoint
	endpoint.AuthURL = getenv("GCP_AUTH_URI", endpoint.AuthURL)
	endpoint.TokenURL = getenv("GCP_TOKEN_URI", endpoint.TokenURL)

	cfg.OAuth = &oauth2.Config{
		ClientID:     os.Getenv("GCP_CLIENT_ID"),
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{auth.DriveFileScope},
		Endpoint:     endpoint,
	}

	return cfg, nil
}
