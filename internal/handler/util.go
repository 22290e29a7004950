package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jun/promptdrive/internal/model"
	"github.com/jun/promptdrive/internal/session"
)

// SessionCookieName is the cookie that carries the signed session ID.
const SessionCookieName = "session_token"

// ErrNoSessionToken is returned when a request carries neither a bearer
// token nor a session cookie.
var ErrNoSessionToken = errors.New("no authorization token found")

// getHeader is a case-insensitive header lookup.
func getHeader(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	for k, v := range req.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return strings.Join(v, "; ")
		}
	}
	return ""
}

// GetSessionID extracts the session ID from the Authorization header or the
// session cookie.
func GetSessionID(req events.APIGatewayProxyRequest, jwtSecret string) (string, error) {
	// 1. Check Authorization Header (Bearer <token>)
	tokenString := ""
	authHeader := getHeader(req, "Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}

	// 2. Check Cookie
	if tokenString == "" {
		// Cookie format: session_token=xxx; ...
		for _, part := range strings.Split(getHeader(req, "Cookie"), ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, SessionCookieName+"=") {
				tokenString = strings.TrimPrefix(part, SessionCookieName+"=")
				break
			}
		}
	}

	if tokenString == "" {
		return "", ErrNoSessionToken
	}

	// Verify JWT
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("invalid token claims")
	}
	return sub, nil
}

// IssueSessionToken signs a JWT whose subject is the session ID.
func IssueSessionToken(sessionID, jwtSecret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": sessionID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}

// sessionCookie builds the Set-Cookie value. The cookie has no Max-Age, so
// it lives as long as the browser session; the server-side TTL bounds it.
func sessionCookie(token string, devMode bool) string {
	return fmt.Sprintf("%s=%s; HttpOnly; Path=/; SameSite=%s; Secure", SessionCookieName, token, sameSite(devMode))
}

func clearSessionCookie(devMode bool) string {
	return fmt.Sprintf("%s=; HttpOnly; Path=/; Max-Age=0; SameSite=%s; Secure", SessionCookieName, sameSite(devMode))
}

func sameSite(devMode bool) string {
	if devMode {
		return "Lax"
	}
	// Production (AWS): frontend and API can sit on different hosts.
	return "None"
}

// sessions resolves the browser session behind a request.
type sessions struct {
	store     session.Store
	jwtSecret string
}

func (s sessions) current(ctx context.Context, req events.APIGatewayProxyRequest) (*model.BrowserSession, error) {
	sessionID, err := GetSessionID(req, s.jwtSecret)
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, sessionID)
}

// requestBody returns the raw body, decoding it when API Gateway delivered
// it base64-encoded.
func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		b, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 body: %w", err)
		}
		return b, nil
	}
	return []byte(req.Body), nil
}

func jsonResponse(status int, v interface{}) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		fmt.Printf("json.Marshal error: %v\n", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

func errorResponse(status int, msg string) events.APIGatewayProxyResponse {
	return jsonResponse(status, map[string]string{"error": msg})
}

func htmlResponse(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       body,
		Headers: map[string]string{
			"Content-Type":  "text/html; charset=utf-8",
			"Cache-Control": "no-store",
		},
	}
}

func withCookie(resp events.APIGatewayProxyResponse, cookie string) events.APIGatewayProxyResponse {
	if resp.MultiValueHeaders == nil {
		resp.MultiValueHeaders = map[string][]string{}
	}
	resp.MultiValueHeaders["Set-Cookie"] = append(resp.MultiValueHeaders["Set-Cookie"], cookie)
	return resp
}

func redirect(location string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": location,
		},
	}
}
