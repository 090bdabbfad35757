package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetOrCreateThreadID returns the stable thread identifier for an address,
// creating one on first contact. One thread per distinct address.
func (db *DB) GetOrCreateThreadID(ctx context.Context, address string) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx, `SELECT thread_id FROM threads WHERE address = ?`, address).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup thread for %q: %w", address, err)
	}

	now := time.Now().UnixMilli()
	res, err := db.ExecContext(ctx, `
		INSERT INTO threads (address, created_at) VALUES (?, ?)
		ON CONFLICT(address) DO NOTHING`, address, now)
	if err != nil {
		return 0, fmt.Errorf("create thread for %q: %w", address, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return res.LastInsertId()
	}

	// Lost the insert race; the row exists now.
	if err := db.QueryRowContext(ctx, `SELECT thread_id FROM threads WHERE address = ?`, address).Scan(&id); err != nil {
		return 0, fmt.Errorf("re-lookup thread for %q: %w", address, err)
	}
	return id, nil
}
