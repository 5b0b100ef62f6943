package store

import (
	"context"
	"time"

	"github.com/matheus3301/huddle/internal/chat"
)

// Block records that blocker has blocked blocked. It reports whether the
// relation changed; blocking twice is a no-op.
func (db *DB) Block(ctx context.Context, blocker, blocked chat.UserID, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO blocks (blocker_id, blocked_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(blocker_id, blocked_id) DO NOTHING`,
		blocker, blocked, toMillis(now))
	if err != nil {
		return false, classify("block", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Unblock removes the relation. It reports whether a row was removed.
func (db *DB) Unblock(ctx context.Context, blocker, blocked chat.UserID) (bool, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM blocks WHERE blocker_id = ? AND blocked_id = ?`, blocker, blocked)
	if err != nil {
		return false, classify("unblock", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IsBlocked reports whether blocker has blocked blocked.
func (db *DB) IsBlocked(ctx context.Context, blocker, blocked chat.UserID) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM blocks WHERE blocker_id = ? AND blocked_id = ?)`,
		blocker, blocked).Scan(&exists)
	if err != nil {
		return false, classify("is blocked", err)
	}
	return exists, nil
}
