package store

import (
	"context"
	"database/sql"

	"github.com/matheus3301/huddle/internal/chat"
)

// CreateUser inserts a new user. A taken id or username yields AlreadyExists.
func (db *DB) CreateUser(ctx context.Context, p *chat.Profile) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, username, avatar, created_at)
		VALUES (?, ?, ?, ?)`,
		p.ID, p.Username, p.Avatar, toMillis(p.CreatedAt))
	return classify("create user", err)
}

// UpdateAvatar replaces a user's avatar reference.
func (db *DB) UpdateAvatar(ctx context.Context, id chat.UserID, avatar string) error {
	res, err := db.ExecContext(ctx, `UPDATE users SET avatar = ? WHERE id = ?`, avatar, id)
	if err != nil {
		return classify("update avatar", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.NotFound("user %q not found", id)
	}
	return nil
}

// GetUser returns a user by id, or nil if none exists.
func (db *DB) GetUser(ctx context.Context, id chat.UserID) (*chat.Profile, error) {
	return db.scanUser(db.QueryRowContext(ctx,
		`SELECT id, username, avatar, created_at FROM users WHERE id = ?`, id))
}

// FindUserByUsername returns the user with this username, ignoring case,
// or nil.
func (db *DB) FindUserByUsername(ctx context.Context, username string) (*chat.Profile, error) {
	return db.scanUser(db.QueryRowContext(ctx,
		`SELECT id, username, avatar, created_at FROM users WHERE username = ? COLLATE NOCASE`, username))
}

func (db *DB) scanUser(row *sql.Row) (*chat.Profile, error) {
	var (
		p         chat.Profile
		createdAt int64
	)
	err := row.Scan(&p.ID, &p.Username, &p.Avatar, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get user", err)
	}
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}
