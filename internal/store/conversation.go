package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ConversationID returns the conversation identifier for a thread.
func ConversationID(threadID int64) string {
	return fmt.Sprintf("%s%d", ConversationIDPrefix, threadID)
}

const conversationColumns = `id, thread_id, COALESCE(contact_id, 0), address, external_id,
	display_name, last_body, last_activity, unread_count, is_group, participants,
	blocked, archived, muted`

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, thread_id, contact_id, address, external_id, display_name,
			last_body, last_activity, unread_count, is_group, participants,
			blocked, archived, muted, updated_at)
		VALUES (?, ?, NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			contact_id = NULLIF(excluded.contact_id, 0),
			external_id = excluded.external_id,
			display_name = excluded.display_name,
			last_body = excluded.last_body,
			last_activity = excluded.last_activity,
			unread_count = excluded.unread_count,
			is_group = excluded.is_group,
			participants = excluded.participants,
			blocked = excluded.blocked,
			archived = excluded.archived,
			muted = excluded.muted,
			updated_at = excluded.updated_at`,
		c.ID, c.ThreadID, c.ContactID, c.Address, c.ExternalID, c.DisplayName,
		c.LastBody, c.LastActivity, c.UnreadCount, c.IsGroup, c.Participants,
		c.Blocked, c.Archived, c.Muted, now)
	return err
}

// touchConversationSQL merges new activity into a conversation row. The
// conflict may arrive on either unique key: the id when the thread is
// already known, or the address when the same number previously got a
// different thread ID (a derived fallback, later replaced by the real one).
// In both cases the existing row wins on identity and only the activity
// columns advance; RETURNING id hands back the canonical conversation.
const touchConversationSQL = `
	INSERT INTO conversations (id, thread_id, address, last_body, last_activity, unread_count, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		last_activity = MAX(conversations.last_activity, excluded.last_activity),
		last_body = CASE WHEN excluded.last_activity >= conversations.last_activity THEN excluded.last_body ELSE conversations.last_body END,
		unread_count = conversations.unread_count + ?,
		updated_at = excluded.updated_at
	ON CONFLICT(address) DO UPDATE SET
		last_activity = MAX(conversations.last_activity, excluded.last_activity),
		last_body = CASE WHEN excluded.last_activity >= conversations.last_activity THEN excluded.last_body ELSE conversations.last_body END,
		unread_count = conversations.unread_count + ?,
		updated_at = excluded.updated_at
	RETURNING id`

type rowQuerier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func touchConversation(q rowQuerier, threadID int64, address, body string, ts int64, incrementUnread bool) (string, error) {
	now := time.Now().UnixMilli()
	bump := 0
	if incrementUnread {
		bump = 1
	}
	var id string
	err := q.QueryRow(touchConversationSQL,
		ConversationID(threadID), threadID, address, body, ts, bump, now, bump, bump).Scan(&id)
	return id, err
}

// TouchConversation records new inbound activity on a thread: the record is
// created on first contact, and last_body/last_activity advance monotonically.
// incrementUnread bumps the unread counter for inbound messages. Returns the
// canonical conversation ID, which may differ from ConversationID(threadID)
// when the address already has a conversation under another thread.
func (db *DB) TouchConversation(threadID int64, address, body string, ts int64, incrementUnread bool) (string, error) {
	return touchConversation(db, threadID, address, body, ts, incrementUnread)
}

// TouchConversationTx is TouchConversation inside a caller-owned transaction.
func TouchConversationTx(tx *sql.Tx, threadID int64, address, body string, ts int64, incrementUnread bool) (string, error) {
	return touchConversation(tx, threadID, address, body, ts, incrementUnread)
}

// GetConversation returns a single conversation by ID, or nil if absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.ThreadID, &c.ContactID, &c.Address, &c.ExternalID,
			&c.DisplayName, &c.LastBody, &c.LastActivity, &c.UnreadCount, &c.IsGroup,
			&c.Participants, &c.Blocked, &c.Archived, &c.Muted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns conversations sorted by last activity descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+conversationColumns+`
		FROM conversations
		ORDER BY last_activity DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanConversations(rows)
}

// ReadAllConversations returns every conversation record. The unified cache
// rebuilds from this full snapshot.
func (db *DB) ReadAllConversations() ([]Conversation, error) {
	rows, err := db.Query(`SELECT ` + conversationColumns + ` FROM conversations ORDER BY last_activity DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanConversations(rows)
}

// DeleteConversationForAddress removes the conversation and its messages for
// an address.
func (db *DB) DeleteConversationForAddress(address string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		DELETE FROM messages WHERE conversation_id IN
			(SELECT id FROM conversations WHERE address = ?)`, address); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE address = ?`, address); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

// MarkConversationRead clears the unread counter.
func (db *DB) MarkConversationRead(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`, now, id)
	return err
}

// SetConversationBlocked sets the blocked flag on a conversation.
func (db *DB) SetConversationBlocked(id string, blocked bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET blocked = ?, updated_at = ? WHERE id = ?`, blocked, now, id)
	return err
}

// SetConversationArchived sets the archived flag on a conversation.
func (db *DB) SetConversationArchived(id string, archived bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET archived = ?, updated_at = ? WHERE id = ?`, archived, now, id)
	return err
}

// SetConversationMuted sets the muted flag on a conversation.
func (db *DB) SetConversationMuted(id string, muted bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET muted = ?, updated_at = ? WHERE id = ?`, muted, now, id)
	return err
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

func scanConversations(rows *sql.Rows) ([]Conversation, error) {
	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.ThreadID, &c.ContactID, &c.Address, &c.ExternalID,
			&c.DisplayName, &c.LastBody, &c.LastActivity, &c.UnreadCount, &c.IsGroup,
			&c.Participants, &c.Blocked, &c.Archived, &c.Muted); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
