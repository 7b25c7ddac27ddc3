// Package storagetest holds behaviour suites shared by every storage adapter.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lborres/gatekeep/core"
)

func newUser(n int) *core.User {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &core.User{
		ID:           fmt.Sprintf("00000000-0000-4000-8000-%012d", n),
		Name:         fmt.Sprintf("User %d", n),
		Username:     fmt.Sprintf("user_%d", n),
		Email:        fmt.Sprintf("user%d@example.com", n),
		PasswordHash: "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// RunUserStorage exercises a core.UserStorage. newStore must return an empty store.
func RunUserStorage(t *testing.T, newStore func(t *testing.T) core.UserStorage) {
	t.Helper()
	ctx := context.Background()

	// Requirement: created users are found by id, email and username.
	t.Run("create and lookup", func(t *testing.T) {
		// Arrange
		store := newStore(t)
		u := newUser(1)

		// Act
		if err := store.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}

		// Assert
		for _, lookup := range []struct {
			name string
			get  func() (*core.User, error)
		}{
			{"by id", func() (*core.User, error) { return store.GetUserByID(ctx, u.ID) }},
			{"by email", func() (*core.User, error) { return store.GetUserByEmailOrUsername(ctx, u.Email) }},
			{"by username", func() (*core.User, error) { return store.GetUserByEmailOrUsername(ctx, u.Username) }},
		} {
			got, err := lookup.get()
			if err != nil {
				t.Fatalf("%s: error = %v", lookup.name, err)
			}
			if got.ID != u.ID || got.Username != u.Username || got.Email != u.Email || got.Name != u.Name {
				t.Errorf("%s: got %+v, want %+v", lookup.name, got, u)
			}
			if got.PasswordHash != u.PasswordHash {
				t.Errorf("%s: password hash not preserved", lookup.name)
			}
		}
	})

	t.Run("lookup misses", func(t *testing.T) {
		store := newStore(t)
		_ = store.CreateUser(ctx, newUser(1))

		if _, err := store.GetUserByID(ctx, "00000000-0000-4000-8000-999999999999"); !errors.Is(err, core.ErrUserNotFound) {
			t.Errorf("GetUserByID() error = %v, want ErrUserNotFound", err)
		}
		if _, err := store.GetUserByEmailOrUsername(ctx, "nobody"); !errors.Is(err, core.ErrUserNotFound) {
			t.Errorf("GetUserByEmailOrUsername() error = %v, want ErrUserNotFound", err)
		}
	})

	// Requirement: duplicate username or email fails and never overwrites.
	t.Run("uniqueness", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(u *core.User)
		}{
			{name: "same username", mutate: func(u *core.User) { u.Email = "other@example.com" }},
			{name: "same email", mutate: func(u *core.User) { u.Username = "other_user" }},
		}

		for _, test := range tests {
			test := test
			t.Run(test.name, func(t *testing.T) {
				// Arrange
				store := newStore(t)
				original := newUser(1)
				if err := store.CreateUser(ctx, original); err != nil {
					t.Fatalf("CreateUser() error = %v", err)
				}
				dup := newUser(2)
				dup.Username, dup.Email = original.Username, original.Email
				test.mutate(dup)

				// Act
				err := store.CreateUser(ctx, dup)

				// Assert
				if !errors.Is(err, core.ErrUserExists) {
					t.Fatalf("CreateUser() error = %v, want ErrUserExists", err)
				}
				if n, _ := store.CountUsers(ctx); n != 1 {
					t.Errorf("CountUsers() = %d, want 1", n)
				}
				got, _ := store.GetUserByID(ctx, original.ID)
				if got == nil || got.Name != original.Name {
					t.Errorf("original user was modified: %+v", got)
				}
			})
		}
	})

	// Requirement: concurrent signups for one username admit exactly one winner.
	t.Run("concurrent create", func(t *testing.T) {
		store := newStore(t)
		const attempts = 8

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				u := newUser(100 + i)
				u.Username = "contended"
				if err := store.CreateUser(ctx, u); err == nil {
					mu.Lock()
					created++
					mu.Unlock()
				} else if !errors.Is(err, core.ErrUserExists) {
					t.Errorf("CreateUser() error = %v", err)
				}
			}(i)
		}
		wg.Wait()

		if created != 1 {
			t.Errorf("created = %d, want 1", created)
		}
	})

	t.Run("delete", func(t *testing.T) {
		store := newStore(t)
		u := newUser(1)
		_ = store.CreateUser(ctx, u)

		if err := store.DeleteUser(ctx, u.ID); err != nil {
			t.Fatalf("DeleteUser() error = %v", err)
		}
		if n, _ := store.CountUsers(ctx); n != 0 {
			t.Errorf("CountUsers() = %d, want 0", n)
		}
		// the username is free again
		if err := store.CreateUser(ctx, newUser(1)); err != nil {
			t.Errorf("CreateUser() after delete error = %v", err)
		}
	})
}

func newSession(n int, userID string, expiresAt time.Time) *core.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &core.Session{
		ID:        fmt.Sprintf("session-%d", n),
		UserID:    userID,
		TokenHash: fmt.Sprintf("%064d", n),
		IPAddress: "192.0.2.1",
		UserAgent: "storagetest",
		ExpiresAt: expiresAt.UTC().Truncate(time.Millisecond),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RunSessionStorage exercises a core.SessionStorage. newStore must return an
// empty store; userIDs are created up front for backends with foreign keys.
func RunSessionStorage(t *testing.T, newStore func(t *testing.T, userIDs ...string) core.SessionStorage) {
	t.Helper()
	ctx := context.Background()
	const alice, bob = "00000000-0000-4000-8000-000000000001", "00000000-0000-4000-8000-000000000002"

	t.Run("create get delete", func(t *testing.T) {
		// Arrange
		store := newStore(t, alice)
		s := newSession(1, alice, time.Now().Add(time.Hour))

		// Act
		if err := store.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}
		got, err := store.GetSessionByHash(ctx, s.TokenHash)

		// Assert
		if err != nil {
			t.Fatalf("GetSessionByHash() error = %v", err)
		}
		if got.ID != s.ID || got.UserID != alice || !got.ExpiresAt.Equal(s.ExpiresAt) {
			t.Errorf("GetSessionByHash() = %+v, want %+v", got, s)
		}

		if err := store.DeleteSessionByHash(ctx, s.TokenHash); err != nil {
			t.Fatalf("DeleteSessionByHash() error = %v", err)
		}
		if _, err := store.GetSessionByHash(ctx, s.TokenHash); !errors.Is(err, core.ErrSessionNotFound) {
			t.Errorf("GetSessionByHash() after delete error = %v, want ErrSessionNotFound", err)
		}
	})

	// Requirement: deleting an absent session is a no-op.
	t.Run("delete missing is no-op", func(t *testing.T) {
		store := newStore(t)
		if err := store.DeleteSessionByHash(ctx, "missing"); err != nil {
			t.Errorf("DeleteSessionByHash() error = %v, want nil", err)
		}
	})

	t.Run("delete user sessions", func(t *testing.T) {
		// Arrange
		store := newStore(t, alice, bob)
		expires := time.Now().Add(time.Hour)
		_ = store.CreateSession(ctx, newSession(1, alice, expires))
		_ = store.CreateSession(ctx, newSession(2, alice, expires))
		_ = store.CreateSession(ctx, newSession(3, bob, expires))

		// Act
		n, err := store.DeleteUserSessions(ctx, alice)

		// Assert
		if err != nil {
			t.Fatalf("DeleteUserSessions() error = %v", err)
		}
		if n != 2 {
			t.Errorf("DeleteUserSessions() = %d, want 2", n)
		}
		if _, err := store.GetSessionByHash(ctx, newSession(3, bob, expires).TokenHash); err != nil {
			t.Errorf("other user's session was removed: %v", err)
		}
	})

	// Requirement: the expiry sweep never removes a live session.
	t.Run("delete expired sessions", func(t *testing.T) {
		// Arrange
		store := newStore(t, alice)
		now := time.Now()
		live := newSession(1, alice, now.Add(time.Hour))
		expired := newSession(2, alice, now.Add(-time.Minute))
		_ = store.CreateSession(ctx, live)
		_ = store.CreateSession(ctx, expired)

		// Act
		n, err := store.DeleteExpiredSessions(ctx, now)

		// Assert
		if err != nil {
			t.Fatalf("DeleteExpiredSessions() error = %v", err)
		}
		if n != 1 {
			t.Errorf("DeleteExpiredSessions() = %d, want 1", n)
		}
		if _, err := store.GetSessionByHash(ctx, live.TokenHash); err != nil {
			t.Errorf("live session was swept: %v", err)
		}
		if _, err := store.GetSessionByHash(ctx, expired.TokenHash); !errors.Is(err, core.ErrSessionNotFound) {
			t.Errorf("expired session survived the sweep: %v", err)
		}
	})
}
