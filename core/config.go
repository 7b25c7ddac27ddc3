package core

import "time"

type SessionConfig struct {
	MaxAge time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxAge: 24 * time.Hour,
	}
}

// CookieConfig describes the cookie carrying the session token.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite string // "Lax", "Strict" or "None"
}

func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:     "auth_token",
		Path:     "/",
		SameSite: "Lax",
	}
}

// LimiterConfig bounds failed logins per client IP. MaxAttempts == 0 disables it.
type LimiterConfig struct {
	MaxAttempts  int
	Window       time.Duration
	LockDuration time.Duration
}

// RouteConfig is handed to the HTTP adapter when routes are registered.
type RouteConfig struct {
	BasePath  string
	Cookie    CookieConfig
	Endpoints []Endpoint
}
