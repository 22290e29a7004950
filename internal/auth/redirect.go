package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMissingCode is returned when pasted input carries no authorization code.
var ErrMissingCode = errors.New("authorization code not found")

// ParseRedirect extracts the authorization code and state from what a user
// pasted after the provider redirected them: the full redirect URL, just its
// query string, or the bare code.
func ParseRedirect(raw string) (code, state string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ErrMissingCode
	}

	var query string
	switch {
	case strings.Contains(raw, "://"):
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", fmt.Errorf("invalid redirect URL: %w", err)
		}
		query = u.RawQuery
		// Some providers deliver parameters in the fragment.
		if query == "" {
			query = u.Fragment
		}
	case strings.HasPrefix(raw, "?"):
		query = raw[1:]
	case strings.Contains(raw, "="):
		query = raw
	default:
		return raw, "", nil
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return "", "", fmt.Errorf("invalid redirect query: %w", err)
	}
	if e := values.Get("error"); e != "" {
		if desc := values.Get("error_description"); desc != "" {
			return "", "", fmt.Errorf("authorization failed: %s: %s", e, desc)
		}
		return "", "", fmt.Errorf("authorization failed: %s", e)
	}

	code = values.Get("code")
	if code == "" {
		return "", "", ErrMissingCode
	}
	return code, values.Get("state"), nil
}
