package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lborres/gatekeep/core"
)

func (a *Adapter) CreateSession(ctx context.Context, session *core.Session) error {
	_, err := a.db.ExecContext(ctx, `
INSERT INTO sessions (id, user_id, token_hash, ip_address, user_agent, expires_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		session.TokenHash,
		session.IPAddress,
		session.UserAgent,
		toMillis(session.ExpiresAt),
		toMillis(session.CreatedAt),
		toMillis(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (a *Adapter) GetSessionByHash(ctx context.Context, tokenHash string) (*core.Session, error) {
	var (
		s                               core.Session
		expiresAt, createdAt, updatedAt int64
	)
	err := a.db.QueryRowContext(ctx, `
SELECT id, user_id, token_hash, ip_address, user_agent, expires_at, created_at, updated_at
FROM sessions
WHERE token_hash = ?`,
		tokenHash,
	).Scan(&s.ID, &s.UserID, &s.TokenHash, &s.IPAddress, &s.UserAgent, &expiresAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.ExpiresAt = fromMillis(expiresAt)
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}

func (a *Adapter) DeleteSessionByHash(ctx context.Context, tokenHash string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	return a.deleteWhere(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
}

func (a *Adapter) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	return a.deleteWhere(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, toMillis(now))
}

func (a *Adapter) deleteWhere(ctx context.Context, query string, arg any) (int, error) {
	res, err := a.db.ExecContext(ctx, query, arg)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete sessions rows affected: %w", err)
	}
	return int(n), nil
}
