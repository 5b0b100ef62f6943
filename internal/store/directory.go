package store

import (
	"context"
	"database/sql"

	"github.com/matheus3301/huddle/internal/chat"
)

// ListDirectory returns every directory entry owned by owner, most recently
// updated first.
func (db *DB) ListDirectory(ctx context.Context, owner chat.UserID) ([]chat.DirectoryEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT owner_id, conversation_id, peer_id, last_message_preview, is_seen, updated_at, version
		FROM directory_entries
		WHERE owner_id = ?
		ORDER BY updated_at DESC`, owner)
	if err != nil {
		return nil, classify("list directory", err)
	}
	return scanEntries(rows)
}

// GetDirectoryEntry returns one entry, or nil if owner has no entry for conv.
func (db *DB) GetDirectoryEntry(ctx context.Context, owner chat.UserID, conv chat.ConversationID) (*chat.DirectoryEntry, error) {
	e, err := scanEntry(db.QueryRowContext(ctx, `
		SELECT owner_id, conversation_id, peer_id, last_message_preview, is_seen, updated_at, version
		FROM directory_entries
		WHERE owner_id = ? AND conversation_id = ?`, owner, conv))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get directory entry", err)
	}
	return e, nil
}

// MarkSeen sets is_seen on one entry if its version still equals version.
// It leaves the preview and updated_at alone. A stale version yields
// Conflict; a missing entry yields NotFound.
func (db *DB) MarkSeen(ctx context.Context, owner chat.UserID, conv chat.ConversationID, version int64) (*chat.DirectoryEntry, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE directory_entries SET is_seen = 1, version = version + 1
		WHERE owner_id = ? AND conversation_id = ? AND version = ?`,
		owner, conv, version)
	if err != nil {
		return nil, classify("mark seen", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return db.GetDirectoryEntry(ctx, owner, conv)
	}

	current, err := db.GetDirectoryEntry(ctx, owner, conv)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, chat.NotFound("no directory entry for %q in %q", owner, conv)
	}
	return nil, chat.Newf(chat.CodeConflict, "directory entry %q/%q at version %d, expected %d",
		owner, conv, current.Version, version)
}
