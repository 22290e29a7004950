package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/jun/promptdrive/internal/crypto"
	"github.com/jun/promptdrive/internal/model"
	"github.com/jun/promptdrive/internal/session"
	"golang.org/x/oauth2"
)

// DriveFileScope limits access to files the app itself creates.
const DriveFileScope = "https://www.googleapis.com/auth/drive.file"

const popupStatePrefix = "popup."

// ErrNoCredential is returned when the session has not completed a login.
var ErrNoCredential = errors.New("no credential in session")

// AuthService handles OAuth2 authentication flows and keeps the resulting
// credential in the browser session.
type AuthService struct {
	oauthConfig *oauth2.Config
	store       session.Store
	encryptor   crypto.Encryptor
}

// NewAuthService creates a new AuthService.
// The oauthConfig should be constructed by the caller (e.g., from environment variables).
func NewAuthService(oauthConfig *oauth2.Config, store session.Store, encryptor crypto.Encryptor) *AuthService {
	return &AuthService{
		oauthConfig: oauthConfig,
		store:       store,
		encryptor:   encryptor,
	}
}

// Config returns the OAuth2 config.
func (s *AuthService) Config() *oauth2.Config {
	return s.oauthConfig
}

// NewState returns a random state value. Popup states carry a marker so the
// callback knows to answer with the relay page instead of a redirect.
func NewState(popup bool) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random state: %w", err)
	}
	state := hex.EncodeToString(b)
	if popup {
		state = popupStatePrefix + state
	}
	return state, nil
}

// IsPopupState reports whether the state was issued for the popup flow.
func IsPopupState(state string) bool {
	return strings.HasPrefix(state, popupStatePrefix)
}

// GenerateAuthURL returns the URL to redirect the user to for Google login.
func (s *AuthService) GenerateAuthURL(state string) string {
	return s.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// BeginLogin issues a fresh state for the session and returns the
// authorization URL that carries it.
func (s *AuthService) BeginLogin(ctx context.Context, sessionID string, popup bool) (string, error) {
	state, err := NewState(popup)
	if err != nil {
		return "", err
	}
	if err := s.store.SetState(ctx, sessionID, state); err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}
	return s.GenerateAuthURL(state), nil
}

// CompleteLogin validates the state against the session, exchanges the code
// and stores the resulting token.
func (s *AuthService) CompleteLogin(ctx context.Context, sessionID, code, state string) (*oauth2.Token, error) {
	if err := s.store.ConsumeState(ctx, sessionID, state); err != nil {
		return nil, err
	}

	token, err := s.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := s.SaveToken(ctx, sessionID, token); err != nil {
		return nil, err
	}
	return token, nil
}

// ExchangeCode exchanges the authorization code for an access token.
func (s *AuthService) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return token, nil
}

// SaveToken encrypts the token blob and stores it on the session. A token
// without a refresh token keeps the refresh token saved earlier.
func (s *AuthService) SaveToken(ctx context.Context, sessionID string, token *oauth2.Token) error {
	cred := CredentialFromToken(token)
	if cred.RefreshToken == "" {
		if existing, err := s.LoadToken(ctx, sessionID); err == nil {
			cred.RefreshToken = existing.RefreshToken
		}
	}

	blob, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	encrypted, err := s.encryptor.Encrypt(ctx, string(blob), sessionID)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	if err := s.store.SetCredential(ctx, sessionID, encrypted); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Credential returns the decrypted credential of the session.
func (s *AuthService) Credential(ctx context.Context, sessionID string) (*model.Credential, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.EncryptedCredential == "" {
		return nil, ErrNoCredential
	}

	plain, err := s.encryptor.Decrypt(ctx, sess.EncryptedCredential, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential: %w", err)
	}

	var cred model.Credential
	if err := json.Unmarshal([]byte(plain), &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}

// LoadToken returns the session credential as an oauth2 token.
func (s *AuthService) LoadToken(ctx context.Context, sessionID string) (*oauth2.Token, error) {
	cred, err := s.Credential(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return TokenFromCredential(cred), nil
}

// GetClient returns an authenticated http.Client for the session. Tokens
// refreshed while the client is in use are written back to the session.
func (s *AuthService) GetClient(ctx context.Context, sessionID string) (*http.Client, error) {
	token, err := s.LoadToken(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	src := &savingTokenSource{
		base:      s.oauthConfig.TokenSource(ctx, token),
		last:      token.AccessToken,
		save:      func(t *oauth2.Token) error { return s.SaveToken(ctx, sessionID, t) },
		sessionID: sessionID,
	}
	return oauth2.NewClient(ctx, src), nil
}

// savingTokenSource persists a token whenever the underlying source hands
// out a new access token.
type savingTokenSource struct {
	base      oauth2.TokenSource
	save      func(*oauth2.Token) error
	sessionID string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t.AccessToken != s.last {
		if err := s.save(t); err != nil {
			fmt.Printf("SaveToken (refresh) error for session %s: %v\n", s.sessionID, err)
		}
		s.last = t.AccessToken
	}
	return t, nil
}

// CredentialFromToken converts an oauth2 token into the stored credential.
func CredentialFromToken(token *oauth2.Token) model.Credential {
	cred := model.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		cred.Scope = scope
	}
	return cred
}

// TokenFromCredential is the inverse of CredentialFromToken.
func TokenFromCredential(cred *model.Credential) *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry,
	}
	if cred.Scope != "" {
		token = token.WithExtra(map[string]interface{}{"scope": cred.Scope})
	}
	return token
}
