package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lborres/gatekeep/core"
	"github.com/lborres/gatekeep/pkg/crypto"
)

type AuthService struct {
	users          core.UserStorage
	passwordHasher crypto.PasswordHandler
	sessionManager *SessionManager
	limiter        *LoginLimiter // optional
	validator      *inputValidator
	log            logrus.FieldLogger
	now            func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// Ensure AuthService implements AuthHandler
var _ core.AuthHandler = (*AuthService)(nil)

func NewAuthService(users core.UserStorage, passwordHasher crypto.PasswordHandler, sessionManager *SessionManager, limiter *LoginLimiter, log logrus.FieldLogger) *AuthService {
	return &AuthService{
		users:          users,
		passwordHasher: passwordHasher,
		sessionManager: sessionManager,
		limiter:        limiter,
		validator:      newInputValidator(),
		log:            loggerOrDiscard(log),
		now:            time.Now,
	}
}

// SignUp registers a new user. It does not log the user in.
func (s *AuthService) SignUp(ctx context.Context, input core.SignUpInput) (*core.User, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))

	if err := s.validator.signUp(input); err != nil {
		return nil, err
	}

	hashedPassword, err := s.passwordHasher.Hash(input.Password)
	if err != nil {
		if errors.Is(err, crypto.ErrPasswordTooLong) {
			return nil, core.ErrPasswordTooLong
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &core.User{
		ID:           uuid.NewString(),
		Name:         input.Name,
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hashedPassword,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, core.ErrUserExists) {
			return nil, core.ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.WithFields(logrus.Fields{"op": "signup", "user_id": user.ID}).Info("user registered")

	return user, nil
}

// SignIn authenticates by email or username. Every failure cause yields the
// same ErrInvalidCredentials.
func (s *AuthService) SignIn(ctx context.Context, input core.SignInInput, ipAddress, userAgent string) (*core.SignInResult, error) {
	if s.limiter.Locked(ipAddress) {
		return nil, core.ErrTooManyAttempts
	}

	identifier := normalizeIdentifier(input.EmailOrUsername)
	if identifier == "" || input.Password == "" {
		return nil, s.failSignIn(ipAddress, "missing credentials")
	}

	user, err := s.users.GetUserByEmailOrUsername(ctx, identifier)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			s.burnPasswordCheck(input.Password)
			return nil, s.failSignIn(ipAddress, "unknown identifier")
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	valid, err := s.passwordHasher.Verify(input.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return nil, s.failSignIn(ipAddress, "wrong password")
	}

	s.limiter.Reset(ipAddress)

	created, err := s.sessionManager.Create(ctx, user.ID, ipAddress, userAgent)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.log.WithFields(logrus.Fields{"op": "login", "user_id": user.ID, "session_id": created.Session.ID, "ip": ipAddress}).Info("user logged in")

	return &core.SignInResult{
		User:    user,
		Session: created.Session,
		Token:   created.Token,
	}, nil
}

func (s *AuthService) failSignIn(ip, reason string) error {
	s.limiter.Fail(ip)
	s.log.WithFields(logrus.Fields{"op": "login", "ip": ip, "reason": reason}).Debug("login rejected")
	return core.ErrInvalidCredentials
}

// burnPasswordCheck spends one verification on a throwaway hash so unknown
// identifiers cost the same as wrong passwords.
func (s *AuthService) burnPasswordCheck(password string) {
	s.dummyOnce.Do(func() {
		buf := make([]byte, 18)
		_, _ = rand.Read(buf)
		s.dummyHash, _ = s.passwordHasher.Hash(base64.RawURLEncoding.EncodeToString(buf))
	})
	if s.dummyHash != "" {
		_, _ = s.passwordHasher.Verify(password, s.dummyHash)
	}
}

// SignOut revokes the session behind token. It is idempotent.
func (s *AuthService) SignOut(ctx context.Context, token string) error {
	if err := s.sessionManager.Destroy(ctx, token); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// GetSession resolves token to its live session and owner.
func (s *AuthService) GetSession(ctx context.Context, token string) (*core.SessionData, error) {
	session, err := s.sessionManager.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			// owner is gone; the session is worthless
			_ = s.sessionManager.Destroy(ctx, token)
			return nil, core.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &core.SessionData{
		User:    user,
		Session: session,
	}, nil
}

// Refresh swaps token for a new one bound to the same user.
func (s *AuthService) Refresh(ctx context.Context, token, ipAddress, userAgent string) (*core.SignInResult, error) {
	rotated, err := s.sessionManager.Rotate(ctx, token, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, rotated.Session.UserID)
	if err != nil {
		_ = s.sessionManager.Destroy(ctx, rotated.Token)
		if errors.Is(err, core.ErrUserNotFound) {
			return nil, core.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &core.SignInResult{
		User:    user,
		Session: rotated.Session,
		Token:   rotated.Token,
	}, nil
}

// RevokeUserSessions logs a user out everywhere.
func (s *AuthService) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	count, err := s.sessionManager.DestroyAllUserSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"op": "revoke_all", "user_id": userID, "count": count}).Info("user sessions revoked")
	return count, nil
}

func normalizeIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return strings.ToLower(identifier)
	}
	return identifier
}
