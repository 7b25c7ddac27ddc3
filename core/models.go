package core

import "time"

// User is the identity record held by the credential store.
//
// Username and Email are each unique across all users.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose in JSON
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Session represents an active login session
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TokenHash string    `json:"-"` // Never expose in JSON (security!)
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsExpired reports whether the session is past its expiry at t.
func (s *Session) IsExpired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// SessionData combines user and session info
type SessionData struct {
	User    *User    `json:"user"`
	Session *Session `json:"session"`
}

// SignUpInput contains the data needed to register a new user
type SignUpInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,minbytes=8,maxbytes=128"`
}

// SignInInput contains the credentials for authentication.
// EmailOrUsername is matched against both fields.
type SignInInput struct {
	EmailOrUsername string `json:"emailOrUsername"`
	Password        string `json:"password"`
}

// SignInResult contains the authenticated user and their new session.
type SignInResult struct {
	User    *User    `json:"user"`
	Session *Session `json:"session"`
	Token   string   `json:"-"` // The raw token, delivered by the transport only
}

// CreateSessionResult is returned by the session manager when a token is issued.
type CreateSessionResult struct {
	Session *Session
	Token   string
}
