package store

import (
	"fmt"
	"strings"
)

// initSearchIndex builds the fts5 index over message bodies. The fts5
// module is only present when the binary is compiled with the sqlite_fts5
// build tag; without it the index is skipped and search falls back to a
// LIKE scan rather than failing startup.
func (db *DB) initSearchIndex() error {
	_, err := db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts
		USING fts5(body, content='messages', content_rowid='id')`)
	if err != nil {
		if strings.Contains(err.Error(), "no such module: fts5") {
			db.fts = false
			return nil
		}
		return fmt.Errorf("create search index: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TRIGGER IF NOT EXISTS messages_fts_ai AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(rowid, body) VALUES (new.id, new.body);
		END;
		CREATE TRIGGER IF NOT EXISTS messages_fts_ad AFTER DELETE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, body) VALUES ('delete', old.id, old.body);
		END;
		CREATE TRIGGER IF NOT EXISTS messages_fts_au AFTER UPDATE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, body) VALUES ('delete', old.id, old.body);
			INSERT INTO messages_fts(rowid, body) VALUES (new.id, new.body);
		END`); err != nil {
		return fmt.Errorf("create search triggers: %w", err)
	}

	// Pick up rows written before the index existed, e.g. by an earlier run
	// of a binary without fts5.
	if _, err := db.Exec(`INSERT INTO messages_fts(messages_fts) VALUES ('rebuild')`); err != nil {
		return fmt.Errorf("rebuild search index: %w", err)
	}

	db.fts = true
	return nil
}

// SearchMessages performs a full-text search on message bodies. When the
// fts5 index is unavailable it degrades to a substring scan with the same
// result shape.
func (db *DB) SearchMessages(query string, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	if db.fts {
		return db.searchIndexed(query, conversationID, limit)
	}
	return db.searchScan(query, conversationID, limit)
}

func (db *DB) searchIndexed(query string, conversationID string, limit int) ([]SearchResult, error) {
	q := `
		SELECT m.id, m.conversation_id, m.client_msg_id, m.address, m.body,
		       m.direction, m.status, m.timestamp,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ConversationID, &r.Message.ClientMsgID,
			&r.Message.Address, &r.Message.Body, &r.Message.Direction,
			&r.Message.Status, &r.Message.Timestamp, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (db *DB) searchScan(query string, conversationID string, limit int) ([]SearchResult, error) {
	q := `
		SELECT id, conversation_id, client_msg_id, address, body,
		       direction, status, timestamp
		FROM messages
		WHERE body LIKE ? ESCAPE '\'`

	args := []any{"%" + escapeLike(query) + "%"}
	if conversationID != "" {
		q += " AND conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ConversationID, &r.Message.ClientMsgID,
			&r.Message.Address, &r.Message.Body, &r.Message.Direction,
			&r.Message.Status, &r.Message.Timestamp,
		); err != nil {
			return nil, err
		}
		r.Snippet = scanSnippet(r.Message.Body, query)
		results = append(results, r)
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// scanSnippet approximates the fts5 snippet() output: a window around the
// first match with the match wrapped in the same markers.
func scanSnippet(body, query string) string {
	idx := strings.Index(strings.ToLower(body), strings.ToLower(query))
	if idx < 0 || query == "" {
		if len(body) > 160 {
			return body[:160] + "..."
		}
		return body
	}

	start := idx - 60
	prefix := ""
	if start < 0 {
		start = 0
	} else if start > 0 {
		prefix = "..."
	}
	end := idx + len(query) + 60
	suffix := ""
	if end > len(body) {
		end = len(body)
	} else if end < len(body) {
		suffix = "..."
	}

	return prefix + body[start:idx] + "<<" + body[idx:idx+len(query)] + ">>" + body[idx+len(query):end] + suffix
}
