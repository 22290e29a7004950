package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jun/promptdrive/internal/auth"
	"github.com/jun/promptdrive/internal/session"
	"golang.org/x/oauth2/google"
)

// mapResolver serves secrets from a map.
type mapResolver map[string]string

func (m mapResolver) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := m[name]; ok {
		return v, nil
	}
	return "", fmt.Errorf("secret %s not found", name)
}

var configEnv = []string{
	"DEV_MODE", "FRONTEND_URL", "GCP_CLIENT_ID", "GCP_CLIENT_SECRET_PARAM",
	"GCP_AUTH_URI", "GCP_TOKEN_URI", "GOOGLE_REDIRECT_URL", "JWT_SECRET_PARAM",
	"API_GATEWAY_SECRET_PARAM", "KMS_KEY_ID", "SESSIONS_TABLE", "SESSION_TTL",
	"PROMPTS_FILE", "APP_FOLDER_NAME", "TIMEZONE", "UPLOAD_CONCURRENCY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
	}
	// BASE_PATH distinguishes unset from empty.
	t.Setenv("BASE_PATH", "")
	os.Unsetenv("BASE_PATH")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GCP_CLIENT_ID", "client-id")

	cfg, err := Load(context.Background(), mapResolver{
		"/promptdrive/gcp-client-secret": "client-secret",
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DevMode {
		t.Error("Expected DevMode to be false")
	}
	if cfg.AppFolder != "Daily Prompts" {
		t.Errorf("Expected default app folder, got %q", cfg.AppFolder)
	}
	if cfg.SessionTTL != session.DefaultTTL || cfg.UploadConcurrency != 1 {
		t.Errorf("Unexpected defaults: ttl=%v concurrency=%d", cfg.SessionTTL, cfg.UploadConcurrency)
	}
	if cfg.JWTSecret != DevJWTSecret {
		t.Errorf("Expected dev JWT secret fallback, got %q", cfg.JWTSecret)
	}
	if cfg.OAuth.ClientID != "client-id" || cfg.OAuth.ClientSecret != "client-secret" {
		t.Errorf("Unexpected client credentials %q/%q", cfg.OAuth.ClientID, cfg.OAuth.ClientSecret)
	}
	if cfg.BasePath != "/api" {
		t.Errorf("Expected /api base path, got %q", cfg.BasePath)
	}
	if cfg.OAuth.RedirectURL != "http://localhost:8080/api/auth/callback" {
		t.Errorf("Unexpected redirect URL %s", cfg.OAuth.RedirectURL)
	}
	if diff := cmp.Diff([]string{auth.DriveFileScope}, cfg.OAuth.Scopes); diff != "" {
		t.Errorf("Scopes mismatch (-want +got):\n%s", diff)
	}
	if cfg.OAuth.Endpoint.TokenURL != google.Endpoint.TokenURL {
		t.Errorf("Expected Google token endpoint, got %s", cfg.OAuth.Endpoint.TokenURL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEV_MODE", "true")
	t.Setenv("GCP_AUTH_URI", "https://auth.example.com/auth")
	t.Setenv("GCP_TOKEN_URI", "https://auth.example.com/token")
	t.Setenv("JWT_SECRET_PARAM", "/custom/jwt")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("TIMEZONE", "Asia/Tokyo")
	t.Setenv("UPLOAD_CONCURRENCY", "4")
	t.Setenv("APP_FOLDER_NAME", "Journal")

	cfg, err := Load(context.Background(), mapResolver{"/custom/jwt": "jwt-from-store"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.BasePath != "" {
		t.Errorf("Expected empty base path in dev mode, got %q", cfg.BasePath)
	}
	if !cfg.DevMode || cfg.OAuth.RedirectURL != "http://localhost:8080/auth/callback" {
		t.Errorf("Expected dev redirect, got devMode=%v redirect=%s", cfg.DevMode, cfg.OAuth.RedirectURL)
	}
	if cfg.OAuth.Endpoint.AuthURL != "https://auth.example.com/auth" || cfg.OAuth.Endpoint.TokenURL != "https://auth.example.com/token" {
		t.Errorf("Endpoint overrides not applied: %+v", cfg.OAuth.Endpoint)
	}
	if cfg.JWTSecret != "jwt-from-store" {
		t.Errorf("Expected resolved JWT secret, got %q", cfg.JWTSecret)
	}
	if cfg.SessionTTL != 30*time.Minute || cfg.UploadConcurrency != 4 || cfg.AppFolder != "Journal" {
		t.Errorf("Unexpected overrides: %+v", cfg)
	}
	if cfg.Location.String() != "Asia/Tokyo" {
		t.Errorf("Expected Asia/Tokyo, got %s", cfg.Location)
	}
}

func TestLoad_DevRedirectFollowsFrontendURL(t *testing.T) {
	tests := []struct {
		name        string
		frontendURL string
		basePath    string
		want        string
	}{
		{"custom port", "http://localhost:9090", "", "http://localhost:9090/auth/callback"},
		{"trailing slash", "http://127.0.0.1:3000/", "", "http://127.0.0.1:3000/auth/callback"},
		{"base path", "http://localhost:9090", "/api/", "http://localhost:9090/api/auth/callback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("DEV_MODE", "true")
			t.Setenv("FRONTEND_URL", tt.frontendURL)
			if tt.basePath != "" {
				t.Setenv("BASE_PATH", tt.basePath)
			}

			cfg, err := Load(context.Background(), mapResolver{})
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.OAuth.RedirectURL != tt.want {
				t.Errorf("RedirectURL = %q, want %q", cfg.OAuth.RedirectURL, tt.want)
			}
		})
	}
}

func TestLoad_RedirectOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEV_MODE", "true")
	t.Setenv("GOOGLE_REDIRECT_URL", "https://tunnel.example.com/auth/callback")

	cfg, err := Load(context.Background(), mapResolver{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.OAuth.RedirectURL != "https://tunnel.example.com/auth/callback" {
		t.Errorf("Expected explicit redirect, got %s", cfg.OAuth.RedirectURL)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SESSION_TTL", "forever"},
		{"SESSION_TTL", "-1h"},
		{"TIMEZONE", "Mars/Olympus"},
		{"UPLOAD_CONCURRENCY", "0"},
		{"UPLOAD_CONCURRENCY", "many"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load(context.Background(), mapResolver{})
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Expected error naming %s, got %v", tt.key, err)
			}
		})
	}
}
