package store

import (
	"context"
	"database/sql"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/huddle/internal/chat"
)

// AppendResult is what a committed append changed.
type AppendResult struct {
	Message *chat.Message
	// Entries holds every participant's directory entry after the update.
	Entries []chat.DirectoryEntry
}

// AppendMessage appends m to its conversation and updates every
// participant's directory entry in the same transaction. The sender's entry
// becomes seen and every other entry unseen. Seq and CreatedAt are assigned
// here: CreatedAt is now, clamped so it never precedes the previous message.
func (db *DB) AppendMessage(ctx context.Context, m chat.Message, now time.Time) (*AppendResult, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	participants, err := participantsOf(ctx, tx, m.ConversationID)
	if err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		return nil, chat.NotFound("conversation %q not found", m.ConversationID)
	}
	if !slices.Contains(participants, m.SenderID) {
		return nil, chat.NotFound("conversation %q not found for %q", m.ConversationID, m.SenderID)
	}

	var lastSeq, lastAt int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0), COALESCE(MAX(created_at), 0)
		FROM messages WHERE conversation_id = ?`, m.ConversationID).Scan(&lastSeq, &lastAt); err != nil {
		return nil, classify("read log tail", err)
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Seq = lastSeq + 1
	m.CreatedAt = fromMillis(max(toMillis(now), lastAt))

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, sender_id, text, image_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Seq, m.SenderID, m.Text, m.ImageRef, toMillis(m.CreatedAt)); err != nil {
		return nil, classify("insert message", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE directory_entries SET
			last_message_preview = ?,
			is_seen = (owner_id = ?),
			updated_at = ?,
			version = version + 1
		WHERE conversation_id = ?`,
		chat.Preview(&m), m.SenderID, toMillis(m.CreatedAt), m.ConversationID)
	if err != nil {
		return nil, classify("update directory", err)
	}
	if n, _ := res.RowsAffected(); n != int64(len(participants)) {
		return nil, chat.Newf(chat.CodeInternal,
			"directory invariant violated: conversation %q has %d participants but %d entries",
			m.ConversationID, len(participants), n)
	}

	entries, err := entriesFor(ctx, tx, m.ConversationID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("commit append", err)
	}
	return &AppendResult{Message: &m, Entries: entries}, nil
}

// ListMessages returns up to limit messages of a conversation with seq
// greater than afterSeq, in log order. CreatedAt is non-decreasing in seq, so
// seq order is also createdAt order with insertion-order tie breaks.
func (db *DB) ListMessages(ctx context.Context, conv chat.ConversationID, afterSeq int64, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, conversation_id, seq, sender_id, text, image_ref, created_at
		FROM messages
		WHERE conversation_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?`, conv, afterSeq, limit)
	if err != nil {
		return nil, classify("list messages", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m         chat.Message
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &m.Text, &m.ImageRef, &createdAt); err != nil {
			return nil, classify("scan message", err)
		}
		m.CreatedAt = fromMillis(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, classify("list messages", rows.Err())
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, classify("count messages", err)
}

func entriesFor(ctx context.Context, q queryer, conv chat.ConversationID) ([]chat.DirectoryEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT owner_id, conversation_id, peer_id, last_message_preview, is_seen, updated_at, version
		FROM directory_entries WHERE conversation_id = ? ORDER BY owner_id`, conv)
	if err != nil {
		return nil, classify("list entries", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]chat.DirectoryEntry, error) {
	defer func() { _ = rows.Close() }()

	var entries []chat.DirectoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, classify("scan entry", err)
		}
		entries = append(entries, *e)
	}
	return entries, classify("scan entries", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*chat.DirectoryEntry, error) {
	var (
		e         chat.DirectoryEntry
		updatedAt int64
	)
	if err := s.Scan(&e.OwnerID, &e.ConversationID, &e.PeerID, &e.LastMessagePreview, &e.IsSeen, &updatedAt, &e.Version); err != nil {
		return nil, err
	}
	e.UpdatedAt = fromMillis(updatedAt)
	return &e, nil
}
