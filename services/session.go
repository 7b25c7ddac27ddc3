package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lborres/gatekeep/core"
	"github.com/lborres/gatekeep/pkg/crypto"
)

// SessionManager is the only component that issues, resolves and revokes
// session tokens.
//
// Cache fills happen under a read lock and every revocation under the write
// lock, so a verify that raced with a revocation cannot put the revoked
// session back into the cache.
type SessionManager struct {
	config  core.SessionConfig
	storage core.SessionStorage
	cache   core.Cache // optional, can be nil if caching is disabled
	tokens  *crypto.TokenHasher
	ids     *crypto.IDGenerator
	log     logrus.FieldLogger
	now     func() time.Time

	mu sync.RWMutex
}

func NewSessionManager(config core.SessionConfig, storage core.SessionStorage, cache core.Cache, tokens *crypto.TokenHasher, log logrus.FieldLogger) *SessionManager {
	if config.MaxAge <= 0 {
		config = core.DefaultSessionConfig()
	}
	if tokens == nil {
		tokens = crypto.NewTokenHasher("")
	}
	ids, _ := crypto.NewIDGenerator("")
	return &SessionManager{
		config:  config,
		storage: storage,
		cache:   cache,
		tokens:  tokens,
		ids:     ids,
		log:     loggerOrDiscard(log),
		now:     time.Now,
	}
}

func (sm *SessionManager) Create(ctx context.Context, userID, ip, userAgent string) (*core.CreateSessionResult, error) {
	pair, err := sm.tokens.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	sessionID, err := sm.ids.Generate(crypto.DefaultIDSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := sm.now()
	session := &core.Session{
		ID:        sessionID,
		UserID:    userID,
		TokenHash: pair.Hash,
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(sm.config.MaxAge),
	}

	if err := sm.storage.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	sm.log.WithFields(logrus.Fields{"op": "session.create", "user_id": userID, "session_id": sessionID}).Debug("session issued")

	return &core.CreateSessionResult{Session: session, Token: pair.Token}, nil
}

// Verify resolves a token to its live session. Expired sessions are deleted
// on sight and reported as ErrSessionExpired.
func (sm *SessionManager) Verify(ctx context.Context, token string) (*core.Session, error) {
	if token == "" {
		return nil, core.ErrMissingToken
	}

	tokenHash := sm.tokens.Hash(token)

	if sm.cache != nil {
		if session, err := sm.cache.Get(tokenHash); err == nil {
			if session.IsExpired(sm.now()) {
				sm.expire(ctx, tokenHash)
				return nil, core.ErrSessionExpired
			}
			return session, nil
		}
	}

	sm.mu.RLock()
	session, err := sm.storage.GetSessionByHash(ctx, tokenHash)
	if err != nil {
		sm.mu.RUnlock()
		if errors.Is(err, core.ErrSessionNotFound) {
			return nil, core.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if session.IsExpired(sm.now()) {
		sm.mu.RUnlock()
		sm.expire(ctx, tokenHash)
		return nil, core.ErrSessionExpired
	}

	if sm.cache != nil {
		// We don't fail the request if caching fails
		_ = sm.cache.Set(tokenHash, session)
	}
	sm.mu.RUnlock()

	return session, nil
}

// Destroy revokes the session behind token. Unknown or empty tokens are not
// an error: the caller is unauthenticated either way.
func (sm *SessionManager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return sm.revoke(ctx, sm.tokens.Hash(token))
}

func (sm *SessionManager) revoke(ctx context.Context, tokenHash string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.storage.DeleteSessionByHash(ctx, tokenHash); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if sm.cache != nil {
		_ = sm.cache.Delete(tokenHash)
	}
	return nil
}

func (sm *SessionManager) expire(ctx context.Context, tokenHash string) {
	if err := sm.revoke(ctx, tokenHash); err != nil {
		sm.log.WithError(err).WithField("op", "session.expire").Warn("failed to delete expired session")
	}
}

// Rotate replaces a live token with a fresh one for the same user. The old
// token is revoked before Rotate returns.
func (sm *SessionManager) Rotate(ctx context.Context, token, ip, userAgent string) (*core.CreateSessionResult, error) {
	current, err := sm.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	next, err := sm.Create(ctx, current.UserID, ip, userAgent)
	if err != nil {
		return nil, err
	}

	if err := sm.Destroy(ctx, token); err != nil {
		// leave no two live tokens behind
		_ = sm.revoke(ctx, next.Session.TokenHash)
		return nil, err
	}

	return next, nil
}

func (sm *SessionManager) DestroyAllUserSessions(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, core.ErrUserNotFound
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	count, err := sm.storage.DeleteUserSessions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}

	// The cache is keyed by token hash only, so drop everything.
	if sm.cache != nil {
		_ = sm.cache.Clear()
	}

	return count, nil
}

// Sweep deletes sessions that expired before now. Live sessions are untouched.
func (sm *SessionManager) Sweep(ctx context.Context) (int, error) {
	count, err := sm.storage.DeleteExpiredSessions(ctx, sm.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	return count, nil
}

// StartSweeper runs Sweep every interval until ctx is done. The returned
// channel is closed when the sweeper has stopped.
func (sm *SessionManager) StartSweeper(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				count, err := sm.Sweep(ctx)
				if err != nil {
					sm.log.WithError(err).Warn("session sweep failed")
					continue
				}
				if count > 0 {
					sm.log.WithField("count", count).Info("expired sessions removed")
				}
			}
		}
	}()

	return done
}
