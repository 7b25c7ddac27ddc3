package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lborres/gatekeep/adapters/memory"
	"github.com/lborres/gatekeep/core"
	"github.com/lborres/gatekeep/pkg/crypto"
)

var errStorageDown = errors.New("storage unavailable")

// FakeSessionStorage wraps the memory store with error injection and call counts.
type FakeSessionStorage struct {
	*memory.SessionStore

	mu        sync.Mutex
	createErr error
	getErr    error
	deleteErr error
	gets      int
}

func NewFakeSessionStorage() *FakeSessionStorage {
	return &FakeSessionStorage{SessionStore: memory.NewSessionStore()}
}

func (f *FakeSessionStorage) CreateSession(ctx context.Context, s *core.Session) error {
	f.mu.Lock()
	err := f.createErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.SessionStore.CreateSession(ctx, s)
}

func (f *FakeSessionStorage) GetSessionByHash(ctx context.Context, tokenHash string) (*core.Session, error) {
	f.mu.Lock()
	f.gets++
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.SessionStore.GetSessionByHash(ctx, tokenHash)
}

func (f *FakeSessionStorage) DeleteSessionByHash(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	err := f.deleteErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.SessionStore.DeleteSessionByHash(ctx, tokenHash)
}

func (f *FakeSessionStorage) Gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

// FakeUserStorage wraps the memory store with error injection.
type FakeUserStorage struct {
	*memory.UserStore
	createErr error
	lookupErr error
}

func NewFakeUserStorage() *FakeUserStorage {
	return &FakeUserStorage{UserStore: memory.NewUserStore()}
}

func (f *FakeUserStorage) CreateUser(ctx context.Context, u *core.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.UserStore.CreateUser(ctx, u)
}

func (f *FakeUserStorage) GetUserByEmailOrUsername(ctx context.Context, identifier string) (*core.User, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.UserStore.GetUserByEmailOrUsername(ctx, identifier)
}

// FakeCache is a test-only fake implementing core.Cache.
type FakeCache struct {
	cache  map[string]*core.Session
	mu     sync.RWMutex
	setErr error
	hits   int
	misses int
}

func NewFakeCache() *FakeCache {
	return &FakeCache{cache: make(map[string]*core.Session)}
}

func (f *FakeCache) Get(tokenHash string) (*core.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.cache[tokenHash]
	if !ok {
		f.misses++
		return nil, core.ErrCacheNotFound
	}
	f.hits++
	return s, nil
}

func (f *FakeCache) Set(tokenHash string, session *core.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.cache[tokenHash] = session
	return nil
}

func (f *FakeCache) Delete(tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, tokenHash)
	return nil
}

func (f *FakeCache) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]*core.Session)
	return nil
}

func (f *FakeCache) Has(tokenHash string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.cache[tokenHash]
	return ok
}

func (f *FakeCache) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.cache)
}

// testClock is a manually advanced clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock { return &testClock{t: time.Now()} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// cheapHasher keeps argon2 fast in tests.
func cheapHasher() crypto.PasswordHandler {
	return &crypto.Argon2{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

const testSecret = "test-secret-test-secret-test-secret!"

func newTestSessionManager(storage core.SessionStorage, cache core.Cache) *SessionManager {
	return NewSessionManager(core.SessionConfig{MaxAge: 24 * time.Hour}, storage, cache, crypto.NewTokenHasher(testSecret), nil)
}
