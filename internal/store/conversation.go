package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/huddle/internal/chat"
)

// CreateConversation creates a pairwise conversation and one empty
// directory entry per participant in a single transaction.
func (db *DB) CreateConversation(ctx context.Context, id chat.ConversationID, a, b chat.UserID, now time.Time) (*chat.Conversation, []chat.DirectoryEntry, error) {
	if a == b {
		return nil, nil, chat.InvalidArgument("conversation needs two distinct participants")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, classify("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := toMillis(now)
	if _, err := tx.ExecContext(ctx, `INSERT INTO conversations (id, created_at) VALUES (?, ?)`, id, ts); err != nil {
		return nil, nil, classify("insert conversation", err)
	}

	pairs := [][2]chat.UserID{{a, b}, {b, a}}
	entries := make([]chat.DirectoryEntry, 0, len(pairs))
	for _, p := range pairs {
		owner, peer := p[0], p[1]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)`,
			id, owner); err != nil {
			return nil, nil, classify(fmt.Sprintf("insert participant %q", owner), err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO directory_entries (owner_id, conversation_id, peer_id, last_message_preview, is_seen, updated_at, version)
			VALUES (?, ?, ?, '', 0, ?, 0)`,
			owner, id, peer, ts); err != nil {
			return nil, nil, classify(fmt.Sprintf("insert directory entry for %q", owner), err)
		}
		entries = append(entries, chat.DirectoryEntry{
			OwnerID:        owner,
			ConversationID: id,
			PeerID:         peer,
			UpdatedAt:      fromMillis(ts),
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, classify("commit conversation", err)
	}

	conv := &chat.Conversation{ID: id, CreatedAt: fromMillis(ts), Participants: []chat.UserID{a, b}}
	return conv, entries, nil
}

// GetConversation returns a conversation with its participants, or nil.
func (db *DB) GetConversation(ctx context.Context, id chat.ConversationID) (*chat.Conversation, error) {
	var createdAt int64
	err := db.QueryRowContext(ctx, `SELECT created_at FROM conversations WHERE id = ?`, id).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get conversation", err)
	}

	participants, err := participantsOf(ctx, db.DB, id)
	if err != nil {
		return nil, err
	}
	return &chat.Conversation{ID: id, CreatedAt: fromMillis(createdAt), Participants: participants}, nil
}

// ConversationsBetween returns the ids of every conversation shared by a and b,
// oldest first.
func (db *DB) ConversationsBetween(ctx context.Context, a, b chat.UserID) ([]chat.ConversationID, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants pa ON pa.conversation_id = c.id AND pa.user_id = ?
		JOIN conversation_participants pb ON pb.conversation_id = c.id AND pb.user_id = ?
		ORDER BY c.created_at ASC`, a, b)
	if err != nil {
		return nil, classify("conversations between", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []chat.ConversationID
	for rows.Next() {
		var id chat.ConversationID
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan conversation id", err)
		}
		ids = append(ids, id)
	}
	return ids, classify("conversations between", rows.Err())
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func participantsOf(ctx context.Context, q queryer, id chat.ConversationID) ([]chat.UserID, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY user_id`, id)
	if err != nil {
		return nil, classify("list participants", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []chat.UserID
	for rows.Next() {
		var uid chat.UserID
		if err := rows.Scan(&uid); err != nil {
			return nil, classify("scan participant", err)
		}
		ids = append(ids, uid)
	}
	return ids, classify("list participants", rows.Err())
}
