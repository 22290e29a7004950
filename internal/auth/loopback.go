package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/oauth2"
)

// LoopbackLogin runs the authorization-code flow for a local client: it
// listens on the redirect URL's host, hands the authorization URL to open
// (usually a browser launcher), waits for the redirect and exchanges the code.
// A redirect port of 0 picks a free port and rewrites the redirect URL.
func LoopbackLogin(ctx context.Context, cfg *oauth2.Config, open func(string) error) (*oauth2.Token, error) {
	redirect, err := url.Parse(cfg.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redirect URL: %w", err)
	}
	if redirect.Scheme != "http" {
		return nil, fmt.Errorf("loopback redirect must use http, got %q", redirect.Scheme)
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}

	local := *cfg
	redirect.Host = ln.Addr().String()
	local.RedirectURL = redirect.String()

	state, err := NewState(false)
	if err != nil {
		ln.Close()
		return nil, err
	}

	path := redirect.Path
	if path == "" {
		path = "/"
	}

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if errMsg := r.FormValue("error"); errMsg != "" {
			fmt.Fprintf(w, "Authentication failed. You can close this window.")
			errChan <- fmt.Errorf("authentication failed: %s", errMsg)
			return
		}
		if r.FormValue("state") != state {
			http.Error(w, "Invalid state parameter.", http.StatusBadRequest)
			errChan <- fmt.Errorf("invalid state parameter received")
			return
		}
		code := r.FormValue("code")
		if code == "" {
			http.Error(w, "Code not found", http.StatusBadRequest)
			errChan <- ErrMissingCode
			return
		}
		fmt.Fprintf(w, "Authentication successful! You can close this window and return to the terminal.")
		codeChan <- code
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errChan <- fmt.Errorf("callback server error: %w", err):
			default:
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to shutdown callback server: %v\n", err)
		}
	}()

	authURL := local.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	if err := open(authURL); err != nil {
		fmt.Fprintf(os.Stderr, "\nIf your browser didn't open, please open this URL manually:\n\n%s\n\n", authURL)
	}

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	token, err := local.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code for token: %w", err)
	}
	return token, nil
}
