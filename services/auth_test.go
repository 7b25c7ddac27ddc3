package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/lborres/gatekeep/core"
)

type authFixture struct {
	users    *FakeUserStorage
	sessions *FakeSessionStorage
	manager  *SessionManager
	service  *AuthService
}

func newAuthFixture(limiter *LoginLimiter) *authFixture {
	f := &authFixture{
		users:    NewFakeUserStorage(),
		sessions: NewFakeSessionStorage(),
	}
	f.manager = newTestSessionManager(f.sessions, NewFakeCache())
	f.service = NewAuthService(f.users, cheapHasher(), f.manager, limiter, nil)
	return f
}

func validSignUp() core.SignUpInput {
	return core.SignUpInput{
		Name:     "Lifecycle User",
		Username: "lifecycle_user",
		Email:    "lifecycle@example.com",
		Password: "strongPassword123",
	}
}

func (f *authFixture) mustSignUp(t *testing.T, input core.SignUpInput) *core.User {
	t.Helper()
	user, err := f.service.SignUp(context.Background(), input)
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	return user
}

// Requirement: SignUp validates every field and reports the first failure.
func TestAuthService_SignUp_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*core.SignUpInput)
		wantErr error
	}{
		{name: "missing name", mutate: func(in *core.SignUpInput) { in.Name = "" }, wantErr: core.ErrNameRequired},
		{name: "blank name", mutate: func(in *core.SignUpInput) { in.Name = "   " }, wantErr: core.ErrNameRequired},
		{name: "name too long", mutate: func(in *core.SignUpInput) { in.Name = strings.Repeat("n", 101) }, wantErr: core.ErrNameTooLong},
		{name: "missing username", mutate: func(in *core.SignUpInput) { in.Username = "" }, wantErr: core.ErrUsernameRequired},
		{name: "username too short", mutate: func(in *core.SignUpInput) { in.Username = "ab" }, wantErr: core.ErrInvalidUsername},
		{name: "username with spaces", mutate: func(in *core.SignUpInput) { in.Username = "bad name" }, wantErr: core.ErrInvalidUsername},
		{name: "username with at sign", mutate: func(in *core.SignUpInput) { in.Username = "a@b" }, wantErr: core.ErrInvalidUsername},
		{name: "missing email", mutate: func(in *core.SignUpInput) { in.Email = "" }, wantErr: core.ErrEmailRequired},
		{name: "malformed email", mutate: func(in *core.SignUpInput) { in.Email = "not-an-email" }, wantErr: core.ErrInvalidEmail},
		{name: "missing password", mutate: func(in *core.SignUpInput) { in.Password = "" }, wantErr: core.ErrPasswordRequired},
		{name: "short password", mutate: func(in *core.SignUpInput) { in.Password = "short" }, wantErr: core.ErrPasswordTooShort},
		{name: "long password", mutate: func(in *core.SignUpInput) { in.Password = strings.Repeat("p", 129) }, wantErr: core.ErrPasswordTooLong},
		{name: "multibyte password over 128 bytes", mutate: func(in *core.SignUpInput) { in.Password = strings.Repeat("é", 65) }, wantErr: core.ErrPasswordTooLong},
		{name: "multibyte password under 8 bytes", mutate: func(in *core.SignUpInput) { in.Password = "ééé" }, wantErr: core.ErrPasswordTooShort},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			f := newAuthFixture(nil)
			input := validSignUp()
			test.mutate(&input)

			// Act
			user, err := f.service.SignUp(context.Background(), input)

			// Assert
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("SignUp() error = %v, want %v", err, test.wantErr)
			}
			if !errors.Is(err, core.ErrValidation) {
				t.Errorf("SignUp() error = %v should wrap ErrValidation", err)
			}
			if user != nil {
				t.Error("SignUp() should not return a user on validation failure")
			}
			if n, _ := f.users.CountUsers(context.Background()); n != 0 {
				t.Errorf("CountUsers() = %d, want 0", n)
			}
		})
	}
}

// Requirement: password limits count bytes, so the boundaries hold for
// multibyte input.
func TestAuthService_SignUp_PasswordByteBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{name: "8 ascii bytes", password: "abcdefgh"},
		{name: "128 ascii bytes", password: strings.Repeat("p", 128)},
		{name: "128 bytes of two-byte runes", password: strings.Repeat("é", 64)},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			f := newAuthFixture(nil)
			input := validSignUp()
			input.Password = test.password

			// Act
			_, err := f.service.SignUp(context.Background(), input)

			// Assert
			if err != nil {
				t.Fatalf("SignUp() error = %v, want nil", err)
			}
		})
	}
}

// Requirement: SignUp stores a hashed password and issues no session.
func TestAuthService_SignUp_Success(t *testing.T) {
	// Arrange
	f := newAuthFixture(nil)
	input := validSignUp()
	input.Email = "  Lifecycle@Example.COM "

	// Act
	user := f.mustSignUp(t, input)

	// Assert
	if user.ID == "" {
		t.Error("user ID is empty")
	}
	if user.Email != "lifecycle@example.com" {
		t.Errorf("Email = %q, want normalized lowercase", user.Email)
	}
	if user.PasswordHash == "" || user.PasswordHash == input.Password {
		t.Error("password must be stored hashed")
	}
	if f.sessions.Len() != 0 {
		t.Errorf("SignUp() created %d sessions, want 0", f.sessions.Len())
	}
}

// Requirement: duplicate username or email is rejected and the store is unchanged.
func TestAuthService_SignUp_Conflict(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*core.SignUpInput)
	}{
		{name: "same username", mutate: func(in *core.SignUpInput) { in.Email = "other@example.com" }},
		{name: "same email", mutate: func(in *core.SignUpInput) { in.Username = "other_user" }},
		{name: "same email different case", mutate: func(in *core.SignUpInput) {
			in.Username = "other_user"
			in.Email = "LIFECYCLE@example.com"
		}},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			f := newAuthFixture(nil)
			f.mustSignUp(t, validSignUp())
			input := validSignUp()
			test.mutate(&input)

			// Act
			_, err := f.service.SignUp(context.Background(), input)

			// Assert
			if !errors.Is(err, core.ErrUserExists) {
				t.Fatalf("SignUp() error = %v, want ErrUserExists", err)
			}
			if n, _ := f.users.CountUsers(context.Background()); n != 1 {
				t.Errorf("CountUsers() = %d, want 1", n)
			}
		})
	}
}

func TestAuthService_SignUp_StorageError(t *testing.T) {
	f := newAuthFixture(nil)
	f.users.createErr = errStorageDown

	_, err := f.service.SignUp(context.Background(), validSignUp())

	if !errors.Is(err, errStorageDown) {
		t.Errorf("SignUp() error = %v, want wrapped errStorageDown", err)
	}
	if errors.Is(err, core.ErrValidation) || errors.Is(err, core.ErrUserExists) {
		t.Errorf("storage failure must not look like a client error: %v", err)
	}
}

// Requirement: SignIn accepts either email or username.
func TestAuthService_SignIn(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		password   string
		wantErr    error
	}{
		{name: "by email", identifier: "lifecycle@example.com", password: "strongPassword123"},
		{name: "by email mixed case", identifier: " Lifecycle@EXAMPLE.com ", password: "strongPassword123"},
		{name: "by username", identifier: "lifecycle_user", password: "strongPassword123"},
		{name: "wrong password", identifier: "lifecycle_user", password: "wrongPassword123", wantErr: core.ErrInvalidCredentials},
		{name: "unknown email", identifier: "nobody@example.com", password: "strongPassword123", wantErr: core.ErrInvalidCredentials},
		{name: "unknown username", identifier: "nobody", password: "strongPassword123", wantErr: core.ErrInvalidCredentials},
		{name: "empty identifier", identifier: "", password: "strongPassword123", wantErr: core.ErrInvalidCredentials},
		{name: "empty password", identifier: "lifecycle_user", password: "", wantErr: core.ErrInvalidCredentials},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			f := newAuthFixture(nil)
			user := f.mustSignUp(t, validSignUp())

			// Act
			result, err := f.service.SignIn(context.Background(), core.SignInInput{
				EmailOrUsername: test.identifier,
				Password:        test.password,
			}, "127.0.0.1", "test-agent")

			// Assert
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("SignIn() error = %v, want %v", err, test.wantErr)
			}
			if test.wantErr != nil {
				if err.Error() != core.ErrInvalidCredentials.Error() {
					t.Errorf("failure message leaks cause: %q", err.Error())
				}
				if f.sessions.Len() != 0 {
					t.Error("failed SignIn() must not create a session")
				}
				return
			}
			if result.Token == "" {
				t.Error("SignIn() returned no token")
			}
			if result.User.ID != user.ID {
				t.Errorf("User.ID = %q, want %q", result.User.ID, user.ID)
			}
			if result.Session.IPAddress != "127.0.0.1" || result.Session.UserAgent != "test-agent" {
				t.Errorf("session metadata not recorded: %+v", result.Session)
			}
		})
	}
}

// Requirement: every login issues an independent session.
func TestAuthService_SignIn_MultipleSessions(t *testing.T) {
	f := newAuthFixture(nil)
	f.mustSignUp(t, validSignUp())
	input := core.SignInInput{EmailOrUsername: "lifecycle_user", Password: "strongPassword123"}

	first, err := f.service.SignIn(context.Background(), input, "", "")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	second, err := f.service.SignIn(context.Background(), input, "", "")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	if first.Token == second.Token {
		t.Error("sessions share a token")
	}
	if err := f.service.SignOut(context.Background(), first.Token); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if _, err := f.service.GetSession(context.Background(), second.Token); err != nil {
		t.Errorf("second session should survive the first logout: %v", err)
	}
}

func TestAuthService_SignIn_LookupError(t *testing.T) {
	f := newAuthFixture(nil)
	f.users.lookupErr = errStorageDown

	_, err := f.service.SignIn(context.Background(), core.SignInInput{EmailOrUsername: "x", Password: "y"}, "", "")

	if !errors.Is(err, errStorageDown) || errors.Is(err, core.ErrInvalidCredentials) {
		t.Errorf("SignIn() error = %v, want wrapped errStorageDown", err)
	}
}

// Requirement: repeated failures from one address lock it out, even for the
// right password, while other addresses are unaffected.
func TestAuthService_SignIn_Limiter(t *testing.T) {
	// Arrange
	limiter := NewLoginLimiter(core.LimiterConfig{MaxAttempts: 3, Window: time.Minute, LockDuration: time.Minute})
	f := newAuthFixture(limiter)
	f.mustSignUp(t, validSignUp())
	bad := core.SignInInput{EmailOrUsername: "lifecycle_user", Password: "wrongPassword123"}
	good := core.SignInInput{EmailOrUsername: "lifecycle_user", Password: "strongPassword123"}

	// Act
	for i := 0; i < 3; i++ {
		if _, err := f.service.SignIn(context.Background(), bad, "10.0.0.1", ""); !errors.Is(err, core.ErrInvalidCredentials) {
			t.Fatalf("attempt %d error = %v, want ErrInvalidCredentials", i+1, err)
		}
	}
	_, lockedErr := f.service.SignIn(context.Background(), good, "10.0.0.1", "")
	_, otherErr := f.service.SignIn(context.Background(), good, "10.0.0.2", "")

	// Assert
	if !errors.Is(lockedErr, core.ErrTooManyAttempts) {
		t.Errorf("locked SignIn() error = %v, want ErrTooManyAttempts", lockedErr)
	}
	if otherErr != nil {
		t.Errorf("other address SignIn() error = %v, want nil", otherErr)
	}
}

// Requirement: SignOut is idempotent and never fails for unknown tokens.
func TestAuthService_SignOut(t *testing.T) {
	f := newAuthFixture(nil)
	f.mustSignUp(t, validSignUp())
	result, _ := f.service.SignIn(context.Background(), core.SignInInput{EmailOrUsername: "lifecycle_user", Password: "strongPassword123"}, "", "")

	for _, token := range []string{result.Token, result.Token, "", "garbage"} {
		if err := f.service.SignOut(context.Background(), token); err != nil {
			t.Errorf("SignOut(%q) error = %v", token, err)
		}
	}

	if _, err := f.service.GetSession(context.Background(), result.Token); !errors.Is(err, core.ErrSessionNotFound) {
		t.Errorf("GetSession() after SignOut error = %v, want ErrSessionNotFound", err)
	}
}

func TestAuthService_GetSession(t *testing.T) {
	// Arrange
	f := newAuthFixture(nil)
	user := f.mustSignUp(t, validSignUp())
	result, _ := f.service.SignIn(context.Background(), core.SignInInput{EmailOrUsername: "lifecycle@example.com", Password: "strongPassword123"}, "", "")

	// Act
	data, err := f.service.GetSession(context.Background(), result.Token)

	// Assert
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if data.User.Username != "lifecycle_user" || data.User.ID != user.ID {
		t.Errorf("GetSession() user = %+v", data.User)
	}
	if data.Session.ID != result.Session.ID {
		t.Errorf("Session.ID = %q, want %q", data.Session.ID, result.Session.ID)
	}
}

// Requirement: a session whose owner was deleted resolves as not found and is removed.
func TestAuthService_GetSession_DeletedOwner(t *testing.T) {
	f := newAuthFixture(nil)
	user := f.mustSignUp(t, validSignUp())
	result, _ := f.service.SignIn(context.Background(), core.SignInInput{EmailOrUsername: "lifecycle_user", Password: "strongPassword123"}, "", "")
	_ = f.users.DeleteUser(context.Background(), user.ID)

	_, err := f.service.GetSession(context.Background(), result.Token)

	if !errors.Is(err, core.ErrSessionNotFound) {
		t.Fatalf("GetSession() error = %v, want ErrSessionNotFound", err)
	}
	if f.sessions.Len() != 0 {
		t.Error("orphaned session should be deleted")
	}
}

func TestAuthService_Refresh(t *testing.T) {
	// Arrange
	f := newAuthFixture(nil)
	f.mustSignUp(t, validSignUp())
	login, _ := f.service.SignIn(context.Background(), core.SignInInput{EmailOrUsername: "lifecycle_user", Password: "strongPassword123"}, "", "")

	// Act
	refreshed, err := f.service.Refresh(context.Background(), login.Token, "10.1.1.1", "agent/2")

	// Assert
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.Token == login.Token {
		t.Error("Refresh() should issue a new token")
	}
	if refreshed.User.Username != "lifecycle_user" {
		t.Errorf("Refresh() user = %q", refreshed.User.Username)
	}
	if _, err := f.service.GetSession(context.Background(), login.Token); err == nil {
		t.Error("old token should be revoked")
	}
	if _, err := f.service.Refresh(context.Background(), "", "", ""); !errors.Is(err, core.ErrMissingToken) {
		t.Errorf("Refresh(\"\") error = %v, want ErrMissingToken", err)
	}
}

func TestAuthService_RevokeUserSessions(t *testing.T) {
	// Arrange
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	f := newAuthFixture(nil)
	f.service = NewAuthService(f.users, cheapHasher(), f.manager, nil, log)
	user := f.mustSignUp(t, validSignUp())
	input := core.SignInInput{EmailOrUsername: "lifecycle_user", Password: "strongPassword123"}
	a, _ := f.service.SignIn(context.Background(), input, "", "")
	b, _ := f.service.SignIn(context.Background(), input, "", "")

	// Act
	count, err := f.service.RevokeUserSessions(context.Background(), user.ID)

	// Assert
	if err != nil {
		t.Fatalf("RevokeUserSessions() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	for _, tok := range []string{a.Token, b.Token} {
		if _, err := f.service.GetSession(context.Background(), tok); err == nil {
			t.Error("session survived revocation")
		}
	}
	last := hook.LastEntry()
	if last == nil || last.Data["op"] != "revoke_all" {
		t.Errorf("last log entry = %+v, want revoke_all", last)
	}
}

// Requirement: credentials and tokens never appear in log output.
func TestAuthService_LogsCarryNoSecrets(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	f := newAuthFixture(nil)
	f.service = NewAuthService(f.users, cheapHasher(), f.manager, nil, log)

	f.mustSignUp(t, validSignUp())
	result, _ := f.service.SignIn(context.Background(), core.SignInInput{EmailOrUsername: "lifecycle_user", Password: "strongPassword123"}, "", "")
	_, _ = f.service.SignIn(context.Background(), core.SignInInput{EmailOrUsername: "lifecycle_user", Password: "wrongPassword123"}, "", "")

	for _, entry := range hook.AllEntries() {
		line, _ := entry.String()
		for _, secret := range []string{"strongPassword123", "wrongPassword123", result.Token} {
			if strings.Contains(line, secret) {
				t.Errorf("log entry leaks a secret: %s", line)
			}
		}
	}
}
