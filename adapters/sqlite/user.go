package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lborres/gatekeep/core"
)

func (a *Adapter) CreateUser(ctx context.Context, user *core.User) error {
	_, err := a.db.ExecContext(ctx, `
INSERT INTO users (id, name, username, email, password_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Name,
		user.Username,
		user.Email,
		user.PasswordHash,
		toMillis(user.CreatedAt),
		toMillis(user.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (a *Adapter) GetUserByID(ctx context.Context, id string) (*core.User, error) {
	row := a.db.QueryRowContext(ctx, `
SELECT id, name, username, email, password_hash, created_at, updated_at
FROM users
WHERE id = ?`,
		id,
	)
	return scanUser(row)
}

func (a *Adapter) GetUserByEmailOrUsername(ctx context.Context, identifier string) (*core.User, error) {
	row := a.db.QueryRowContext(ctx, `
SELECT id, name, username, email, password_hash, created_at, updated_at
FROM users
WHERE email = ? OR username = ?
LIMIT 1`,
		identifier,
		identifier,
	)
	return scanUser(row)
}

func (a *Adapter) DeleteUser(ctx context.Context, id string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrUserNotFound
	}
	return nil
}

func (a *Adapter) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func scanUser(row interface {
	Scan(dest ...any) error
}) (*core.User, error) {
	var (
		user                 core.User
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return &user, nil
}
