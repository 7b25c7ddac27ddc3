// Package redis keeps sessions in Redis. Each session is a JSON value under
// "session:<hash>"; a per-user set and an expiry-ordered sorted set index it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lborres/gatekeep/core"
)

const (
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user_sessions:"
	expiryKey            = "sessions:expiry"

	// Keys outlive their expiry by this much so the sweep, not Redis, decides
	// when a session is gone. The grace also bounds memory if no sweep runs.
	defaultGrace = time.Hour
)

type SessionStore struct {
	rdb   redis.UniversalClient
	grace time.Duration
}

var _ core.SessionStorage = (*SessionStore)(nil)

func NewSessionStore(rdb redis.UniversalClient) *SessionStore {
	return &SessionStore{rdb: rdb, grace: defaultGrace}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// record is the stored form; core.Session hides TokenHash from JSON.
type record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TokenHash string    `json:"tokenHash"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func sessionKey(tokenHash string) string { return sessionKeyPrefix + tokenHash }

func userSessionsKey(userID string) string { return userSessionKeyPrefix + userID }

func (s *SessionStore) CreateSession(ctx context.Context, session *core.Session) error {
	payload, err := json.Marshal(record(*session))
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl < 0 {
		ttl = 0
	}
	ttl += s.grace

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.TokenHash), payload, ttl)
		pipe.SAdd(ctx, userSessionsKey(session.UserID), session.TokenHash)
		pipe.ZAdd(ctx, expiryKey, redis.Z{Score: float64(expiryScore(session.ExpiresAt)), Member: session.TokenHash})
		return nil
	})
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSessionByHash(ctx context.Context, tokenHash string) (*core.Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	session := core.Session(rec)
	return &session, nil
}

func (s *SessionStore) DeleteSessionByHash(ctx context.Context, tokenHash string) error {
	session, err := s.GetSessionByHash(ctx, tokenHash)
	if errors.Is(err, core.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(tokenHash))
		pipe.SRem(ctx, userSessionsKey(session.UserID), tokenHash)
		pipe.ZRem(ctx, expiryKey, tokenHash)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	key := userSessionsKey(userID)
	hashes, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	deleted, err := s.deleteHashes(ctx, hashes, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, key)
	})
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	return deleted, nil
}

// expiryScore rounds up to the millisecond so a score at or below the
// current millisecond always belongs to an expired session.
func expiryScore(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.Sub(time.UnixMilli(ms)) > 0 {
		ms++
	}
	return ms
}

// DeleteExpiredSessions removes every session whose expiry is at or before now.
func (s *SessionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	hashes, err := s.rdb.ZRangeByScore(ctx, expiryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	// user sets are pruned lazily; a dangling member only costs a missed DEL
	deleted, err := s.deleteHashes(ctx, hashes, nil)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return deleted, nil
}

// deleteHashes deletes the session keys and their expiry entries in one
// transaction and reports how many session keys existed.
func (s *SessionStore) deleteHashes(ctx context.Context, hashes []string, extra func(redis.Pipeliner)) (int, error) {
	keys := make([]string, len(hashes))
	members := make([]any, len(hashes))
	for i, h := range hashes {
		keys[i] = sessionKey(h)
		members[i] = h
	}

	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, expiryKey, members...)
		if extra != nil {
			extra(pipe)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(del.Val()), nil
}
