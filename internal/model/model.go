package model

import "time"

// BrowserSession is the server-side state behind a session cookie.
// The OAuth credential lives here, encrypted, for as long as the session does.
type BrowserSession struct {
	ID                  string    `json:"id" dynamodbav:"session_id"`
	OAuthState          string    `json:"-" dynamodbav:"oauth_state,omitempty"`
	EncryptedCredential string    `json:"-" dynamodbav:"encrypted_credential,omitempty"`
	Demo                bool      `json:"demo" dynamodbav:"demo"`
	CreatedAt           time.Time `json:"created_at" dynamodbav:"created_at"`
	ExpiresAt           int64     `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix timestamp)
}

// Expired reports whether the session TTL has passed at now.
func (s *BrowserSession) Expired(now time.Time) bool {
	return s.ExpiresAt <= now.Unix()
}

// Credential is the token blob returned by the identity provider.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Prompt is the writing prompt selected for a given day.
type Prompt struct {
	Text      string `json:"text"`
	Index     int    `json:"index"`
	DayOfYear int    `json:"day_of_year"`
	Date      string `json:"date"` // YYYY-MM-DD
}

// DriveFolder is a folder in the user's Drive.
type DriveFolder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// ArtifactKind tells a response file apart from a user attachment.
type ArtifactKind string

const (
	KindResponse   ArtifactKind = "response"
	KindAttachment ArtifactKind = "attachment"
)

// UploadedArtifact is one Drive file created by a submission.
type UploadedArtifact struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	MIMEType    string       `json:"mimeType"`
	Size        int64        `json:"size"`
	FolderID    string       `json:"folderId"`
	Kind        ArtifactKind `json:"kind,omitempty"`
	WebViewLink string       `json:"webViewLink,omitempty"`
}

// Receipt summarizes a completed submission.
type Receipt struct {
	Date      string             `json:"date"`
	Prompt    Prompt             `json:"prompt"`
	Folder    DriveFolder        `json:"folder"`
	Artifacts []UploadedArtifact `json:"artifacts"`
}
