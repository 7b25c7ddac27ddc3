// Package gatekeep wires session-based authentication: a credential store,
// a session manager and an HTTP adapter serving signup, login, me and logout.
package gatekeep

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lborres/gatekeep/adapters/memory"
	"github.com/lborres/gatekeep/core"
	"github.com/lborres/gatekeep/pkg/cache"
	"github.com/lborres/gatekeep/pkg/crypto"
	"github.com/lborres/gatekeep/services"
)

// interfaces
type (
	UserStorage    = core.UserStorage
	SessionStorage = core.SessionStorage
	Cache          = core.Cache
	HTTPAdapter    = core.HTTPAdapter
	AuthHandler    = core.AuthHandler

	PasswordHandler = crypto.PasswordHandler
)

// structs
type (
	SessionConfig = core.SessionConfig
	CacheConfig   = core.CacheConfig
	CookieConfig  = core.CookieConfig
	LimiterConfig = core.LimiterConfig
)

type (
	User        = core.User
	Session     = core.Session
	SessionData = core.SessionData
	SignUpInput = core.SignUpInput
	SignInInput = core.SignInInput
)

const (
	defaultBasePath  = "/api/auth"
	defaultSecretLen = 32
)

// Constructors & helpers (convenience re-exports)
var (
	NewInMemoryCache     = cache.NewInMemoryCache
	NewArgon2            = crypto.NewArgon2
	NewBcrypt            = crypto.NewBcrypt
	DefaultSessionConfig = core.DefaultSessionConfig
	DefaultCookieConfig  = core.DefaultCookieConfig
)

var (
	ErrUserExists         = core.ErrUserExists
	ErrUserNotFound       = core.ErrUserNotFound
	ErrInvalidCredentials = core.ErrInvalidCredentials
	ErrTooManyAttempts    = core.ErrTooManyAttempts
	ErrValidation         = core.ErrValidation
)

var (
	ErrMissingToken    = core.ErrMissingToken
	ErrSessionNotFound = core.ErrSessionNotFound
	ErrSessionExpired  = core.ErrSessionExpired
)

var (
	ErrUserStorageRequired = core.ErrUserStorageRequired
	ErrHTTPAdapterRequired = core.ErrHTTPAdapterRequired
	ErrSecretRequired      = core.ErrSecretRequired
	ErrSecretTooShort      = core.ErrSecretTooShort
)

// Config assembles a Gatekeep instance. Users, HTTP and Secret are required;
// everything else has a default.
type Config struct {
	// Secret keys the session token hash.
	Secret string

	Users    core.UserStorage
	Sessions core.SessionStorage // defaults to an in-memory store
	HTTP     core.HTTPAdapter

	Cache        core.Cache
	CacheConfig  *core.CacheConfig
	DisableCache bool

	SessionConfig  *core.SessionConfig
	Cookie         *core.CookieConfig
	Limiter        core.LimiterConfig
	PasswordHasher crypto.PasswordHandler
	BasePath       string

	Logger logrus.FieldLogger
}

type Gatekeep struct {
	Auth      *services.AuthService
	Sessions  *services.SessionManager
	BasePath  string
	Endpoints []core.Endpoint
}

func New(config Config) (*Gatekeep, error) {
	if config.Secret == "" {
		return nil, ErrSecretRequired
	}
	if len(config.Secret) < defaultSecretLen {
		return nil, fmt.Errorf("%w - minimum of %d characters", ErrSecretTooShort, defaultSecretLen)
	}
	if config.Users == nil {
		return nil, ErrUserStorageRequired
	}
	if config.HTTP == nil {
		return nil, ErrHTTPAdapterRequired
	}

	// Set Defaults

	sessionStorage := config.Sessions
	if sessionStorage == nil {
		sessionStorage = memory.NewSessionStore()
	}

	cacheAdapter := config.Cache
	if cacheAdapter == nil && !config.DisableCache {
		cacheConfig := core.CacheConfig{TTL: 5 * time.Minute, MaxSize: 500}
		if config.CacheConfig != nil {
			cacheConfig = *config.CacheConfig
		}
		cacheAdapter = cache.NewInMemoryCache(cacheConfig)
	}
	if config.DisableCache {
		cacheAdapter = nil
	}

	sessionConfig := core.DefaultSessionConfig()
	if config.SessionConfig != nil && config.SessionConfig.MaxAge > 0 {
		sessionConfig = *config.SessionConfig
	}

	cookie := core.DefaultCookieConfig()
	if config.Cookie != nil {
		cookie = mergeCookie(cookie, *config.Cookie)
	}

	passwordHasher := config.PasswordHasher
	if passwordHasher == nil {
		passwordHasher = crypto.NewArgon2()
	}

	basePath := strings.TrimRight(config.BasePath, "/")
	if basePath == "" {
		basePath = defaultBasePath
	}

	sessionManager := services.NewSessionManager(
		sessionConfig,
		sessionStorage,
		cacheAdapter,
		crypto.NewTokenHasher(config.Secret),
		config.Logger,
	)

	authService := services.NewAuthService(
		config.Users,
		passwordHasher,
		sessionManager,
		services.NewLoginLimiter(config.Limiter),
		config.Logger,
	)

	g := &Gatekeep{
		Auth:      authService,
		Sessions:  sessionManager,
		BasePath:  basePath,
		Endpoints: services.NewEndpointRegistry().Endpoints(),
	}

	err := config.HTTP.RegisterRoutes(authService, core.RouteConfig{
		BasePath:  basePath,
		Cookie:    cookie,
		Endpoints: g.Endpoints,
	})
	if err != nil {
		return nil, err
	}

	return g, nil
}

// StartSweeper removes expired sessions every interval until ctx is done.
func (g *Gatekeep) StartSweeper(ctx context.Context, interval time.Duration) <-chan struct{} {
	return g.Sessions.StartSweeper(ctx, interval)
}

// RevokeUserSessions logs userID out of every session.
func (g *Gatekeep) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	return g.Auth.RevokeUserSessions(ctx, userID)
}

func mergeCookie(base, override core.CookieConfig) core.CookieConfig {
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.Path != "" {
		base.Path = override.Path
	}
	if override.SameSite != "" {
		base.SameSite = override.SameSite
	}
	base.Domain = override.Domain
	base.Secure = override.Secure
	return base
}
